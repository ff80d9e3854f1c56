package media

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/types"
)

const (
	thumbnailWidth  = 320
	thumbnailSuffix = "_thumb.jpg"
)

// Uploader stores validated attachments ahead of the sequencing transaction.
type Uploader struct {
	store  ObjectStore
	ledger *StagingLedger
	logger hclog.Logger
	now    func() time.Time
}

func NewUploader(store ObjectStore, ledger *StagingLedger, logger hclog.Logger) *Uploader {
	return &Uploader{store: store, ledger: ledger, logger: logger.Named("uploader"), now: time.Now}
}

func (u *Uploader) Store() ObjectStore {
	return u.store
}

// Staged is the set of objects written for one send. Exactly one of Commit or
// Discard should follow; both are no-ops on nil.
type Staged struct {
	u           *Uploader
	keys        []string
	Attachments []types.Attachment
}

// Stage uploads every file under a fresh key in the room's namespace. Objects
// are recorded in the staging ledger before they are written, so a crash at any
// point leaves them to the sweeper. On failure the objects already written are
// removed again.
func (u *Uploader) Stage(ctx context.Context, roomId string, files []*Prepared) (*Staged, error) {
	if len(files) == 0 {
		return nil, nil
	}
	s := &Staged{u: u, Attachments: make([]types.Attachment, 0, len(files))}
	for _, f := range files {
		key := roomId + "/" + uuid.NewString() + "/" + f.Name
		if err := s.put(ctx, key, f.Mime, f.Data); err != nil {
			s.Discard(context.Background())
			return nil, errs.Infrastructure(err, "attachment upload failed")
		}
		a := types.Attachment{
			Name:   f.Name,
			Key:    key,
			URL:    u.store.URL(key),
			Mime:   f.Mime,
			Size:   f.Size,
			Digest: f.Digest,
		}
		if strings.HasPrefix(f.Mime, "image/") {
			a.ThumbnailURL = s.thumbnail(ctx, key, f.Data)
		}
		s.Attachments = append(s.Attachments, a)
	}
	return s, nil
}

func (s *Staged) put(ctx context.Context, key, mime string, data []byte) error {
	if s.u.ledger != nil {
		if err := s.u.ledger.Add(key, s.u.now()); err != nil {
			return err
		}
	}
	s.keys = append(s.keys, key)
	return s.u.store.Put(ctx, key, mime, data)
}

// thumbnail is best effort; a failure only leaves the attachment without preview.
func (s *Staged) thumbnail(ctx context.Context, key string, data []byte) string {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		s.u.logger.Debug("no thumbnail", "key", key, "error", err)
		return ""
	}
	thumb := imaging.Resize(img, thumbnailWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		s.u.logger.Warn("thumbnail encoding failed", "key", key, "error", err)
		return ""
	}
	thumbKey := key + thumbnailSuffix
	if err := s.put(ctx, thumbKey, "image/jpeg", buf.Bytes()); err != nil {
		s.u.logger.Warn("thumbnail upload failed", "key", thumbKey, "error", err)
		return ""
	}
	return s.u.store.URL(thumbKey)
}

// Commit marks the objects as referenced by a committed message.
func (s *Staged) Commit() {
	if s == nil || s.u.ledger == nil {
		return
	}
	if err := s.u.ledger.Remove(s.keys...); err != nil {
		s.u.logger.Warn("could not clear staging entries", "keys", s.keys, "error", err)
	}
}

// Discard deletes the objects of a send that did not commit. Objects that
// cannot be deleted stay in the ledger for the sweeper.
func (s *Staged) Discard(ctx context.Context) {
	if s == nil {
		return
	}
	removed := make([]string, 0, len(s.keys))
	for _, key := range s.keys {
		if err := s.u.store.Delete(ctx, key); err != nil {
			s.u.logger.Warn("could not delete staged object", "key", key, "error", err)
			continue
		}
		removed = append(removed, key)
	}
	if s.u.ledger != nil {
		if err := s.u.ledger.Remove(removed...); err != nil {
			s.u.logger.Warn("could not clear staging entries", "keys", removed, "error", err)
		}
	}
}

// Keys lists every object written, thumbnails included.
func (s *Staged) Keys() []string {
	if s == nil {
		return nil
	}
	return s.keys
}
