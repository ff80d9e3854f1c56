package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

func jsonBytes(val interface{}) ([]byte, error) {
	switch v := val.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, nil
	}
	return nil, fmt.Errorf("cannot scan %T into a JSON column", val)
}

func jsonDBDataType(db *gorm.DB) string {
	switch db.Dialector.Name() {
	case "sqlite", "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}

// JSONStringMap is a string map stored as a JSON column (room tags, message meta).
type JSONStringMap map[string]string

// Value implements driver.Valuer
func (m JSONStringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	ba, err := json.Marshal(map[string]string(m))
	return string(ba), err
}

// Scan implements sql.Scanner
func (m *JSONStringMap) Scan(val interface{}) error {
	ba, err := jsonBytes(val)
	if err != nil {
		return err
	}
	t := map[string]string{}
	if len(ba) > 0 {
		if err := json.Unmarshal(ba, &t); err != nil {
			return err
		}
	}
	*m = JSONStringMap(t)
	return nil
}

func (m JSONStringMap) GormDataType() string {
	return "jsonstringmap"
}

func (JSONStringMap) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return jsonDBDataType(db)
}

// StringSet is a set of ids stored as a sorted JSON array. Room.MemberIds uses it.
type StringSet map[string]struct{}

func NewStringSet(ids ...string) StringSet {
	s := make(StringSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func (s StringSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add reports whether id was not yet present.
func (s StringSet) Add(id string) bool {
	if s.Has(id) {
		return false
	}
	s[id] = struct{}{}
	return true
}

// Remove reports whether id was present.
func (s StringSet) Remove(id string) bool {
	if !s.Has(id) {
		return false
	}
	delete(s, id)
	return true
}

// Sorted returns the ids in ascending order.
func (s StringSet) Sorted() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s StringSet) Clone() StringSet {
	c := make(StringSet, len(s))
	for id := range s {
		c[id] = struct{}{}
	}
	return c
}

func (s StringSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *StringSet) UnmarshalJSON(b []byte) error {
	var ids []string
	if err := json.Unmarshal(b, &ids); err != nil {
		return err
	}
	*s = NewStringSet(ids...)
	return nil
}

// Value implements driver.Valuer
func (s StringSet) Value() (driver.Value, error) {
	ba, err := s.MarshalJSON()
	return string(ba), err
}

// Scan implements sql.Scanner
func (s *StringSet) Scan(val interface{}) error {
	ba, err := jsonBytes(val)
	if err != nil {
		return err
	}
	if len(ba) == 0 {
		*s = StringSet{}
		return nil
	}
	return s.UnmarshalJSON(ba)
}

func (StringSet) GormDataType() string {
	return "stringset"
}

func (StringSet) GormDBDataType(db *gorm.DB, _ *schema.Field) string {
	return jsonDBDataType(db)
}
