package media

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

const stagedPrefix = "staged:"

type stagedEntry struct {
	Key string `json:"key"`
	At  int64  `json:"at"` // unix nanos
}

// StagingLedger records uploaded objects that no committed message references
// yet. An entry is removed when its message commits or its upload is
// discarded; whatever is left past the grace period is garbage.
type StagingLedger struct {
	db *buntdb.DB
}

// OpenStagingLedger opens (or creates) the ledger file; ":memory:" keeps it in memory.
func OpenStagingLedger(path string) (*StagingLedger, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open staging ledger")
	}
	err = db.CreateIndex("staged_at", stagedPrefix+"*", buntdb.IndexJSON("at"))
	if err != nil && err != buntdb.ErrIndexExists {
		_ = db.Close()
		return nil, errors.Wrap(err, "create staging index")
	}
	return &StagingLedger{db: db}, nil
}

func (l *StagingLedger) Close() error {
	return l.db.Close()
}

func (l *StagingLedger) Add(key string, at time.Time) error {
	ba, err := json.Marshal(stagedEntry{Key: key, At: at.UnixNano()})
	if err != nil {
		return err
	}
	return l.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(stagedPrefix+key, string(ba), nil)
		return err
	})
}

func (l *StagingLedger) Remove(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return l.db.Update(func(tx *buntdb.Tx) error {
		for _, key := range keys {
			if _, err := tx.Delete(stagedPrefix + key); err != nil && err != buntdb.ErrNotFound {
				return err
			}
		}
		return nil
	})
}

// Expired lists the keys staged before the given time, oldest first.
func (l *StagingLedger) Expired(before time.Time) ([]string, error) {
	limit := before.UnixNano()
	keys := make([]string, 0)
	err := l.db.View(func(tx *buntdb.Tx) error {
		var decodeErr error
		err := tx.Ascend("staged_at", func(_, value string) bool {
			var e stagedEntry
			if decodeErr = json.Unmarshal([]byte(value), &e); decodeErr != nil {
				return false
			}
			if e.At >= limit {
				return false
			}
			keys = append(keys, e.Key)
			return true
		})
		if err != nil {
			return err
		}
		return decodeErr
	})
	return keys, err
}

// Len is the number of staged objects.
func (l *StagingLedger) Len() (int, error) {
	var n int
	err := l.db.View(func(tx *buntdb.Tx) error {
		var err error
		n, err = tx.Len()
		return err
	})
	return n, err
}
