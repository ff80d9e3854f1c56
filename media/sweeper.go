package media

import (
	"context"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// References reports whether a stored message carries the object key.
type References interface {
	AttachmentReferenced(ctx context.Context, key string) (bool, error)
}

// Sweeper deletes staged objects that were never committed. An entry can
// outlive its commit when the process stops in between, so every key is
// checked against the stored messages first. With a lock path set, only one
// process sharing the lock file sweeps at a time.
type Sweeper struct {
	ledger     *StagingLedger
	store      ObjectStore
	refs       References
	grace      time.Duration
	lock       *flock.Flock
	logger     hclog.Logger
	now        func() time.Time
	cronRunner *cron.Cron
}

func NewSweeper(ledger *StagingLedger, store ObjectStore, refs References, grace time.Duration, lockPath string, logger hclog.Logger) *Sweeper {
	s := &Sweeper{ledger: ledger, store: store, refs: refs, grace: grace, logger: logger.Named("sweeper"), now: time.Now}
	if lockPath != "" {
		s.lock = flock.New(lockPath)
	}
	return s
}

// Sweep removes every object staged longer than the grace period ago and
// returns how many were deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	if s.lock != nil {
		locked, err := s.lock.TryLock()
		if err != nil {
			return 0, err
		}
		if !locked {
			s.logger.Debug("another process is sweeping")
			return 0, nil
		}
		defer s.lock.Unlock()
	}
	keys, err := s.ledger.Expired(s.now().Add(-s.grace))
	if err != nil {
		return 0, err
	}
	deleted := make([]string, 0, len(keys))
	var kept []string
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			break
		}
		referenced, err := s.referenced(ctx, key)
		if err != nil {
			s.logger.Warn("could not check object references", "key", key, "error", err)
			continue
		}
		if referenced {
			kept = append(kept, key)
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			s.logger.Warn("could not delete orphaned object", "key", key, "error", err)
			continue
		}
		deleted = append(deleted, key)
	}
	if err := s.ledger.Remove(append(deleted, kept...)...); err != nil {
		return len(deleted), err
	}
	if len(kept) > 0 {
		s.logger.Info("kept committed objects", "count", len(kept))
	}
	if len(deleted) > 0 {
		s.logger.Info("removed orphaned objects", "count", len(deleted))
	}
	return len(deleted), nil
}

// referenced also resolves a thumbnail to the attachment it belongs to.
func (s *Sweeper) referenced(ctx context.Context, key string) (bool, error) {
	if s.refs == nil {
		return false, nil
	}
	ok, err := s.refs.AttachmentReferenced(ctx, key)
	if err != nil || ok {
		return ok, err
	}
	if base := strings.TrimSuffix(key, thumbnailSuffix); base != key {
		return s.refs.AttachmentReferenced(ctx, base)
	}
	return false, nil
}

// Start runs Sweep on the given cron schedule until Stop.
func (s *Sweeper) Start(spec string) error {
	s.cronRunner = cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := s.cronRunner.AddFunc(spec, func() {
		if _, err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.cronRunner.Start()
	return nil
}

func (s *Sweeper) Stop() {
	if s.cronRunner != nil {
		<-s.cronRunner.Stop().Done()
	}
}
