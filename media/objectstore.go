package media

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// ObjectStore holds uploaded attachment bytes.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	// Delete removes key; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	URL(key string) string
}

type object struct {
	contentType string
	data        []byte
}

// MemoryObjectStore keeps objects in process memory.
type MemoryObjectStore struct {
	sync.RWMutex
	objects map[string]object
	baseURL string
	// FailPut makes Put fail for keys with this prefix.
	FailPut string
}

func NewMemoryObjectStore(baseURL string) *MemoryObjectStore {
	if baseURL == "" {
		baseURL = "memory://"
	}
	return &MemoryObjectStore{objects: map[string]object{}, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (m *MemoryObjectStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.Lock()
	defer m.Unlock()
	if m.FailPut != "" && strings.HasPrefix(key, m.FailPut) {
		return errors.Errorf("put %s: injected failure", key)
	}
	m.objects[key] = object{contentType: contentType, data: append([]byte(nil), data...)}
	return nil
}

func (m *MemoryObjectStore) Delete(ctx context.Context, key string) error {
	m.Lock()
	defer m.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryObjectStore) URL(key string) string {
	return m.baseURL + "/" + key
}

// Get returns the object bytes and content type.
func (m *MemoryObjectStore) Get(key string) ([]byte, string, bool) {
	m.RLock()
	defer m.RUnlock()
	o, ok := m.objects[key]
	return o.data, o.contentType, ok
}

func (m *MemoryObjectStore) Keys() []string {
	m.RLock()
	defer m.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
