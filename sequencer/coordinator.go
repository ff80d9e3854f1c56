// Package sequencer assigns per-room sequence numbers to messages. A send
// increments the room counter and inserts the message in one transaction, so a
// counter value is either used by exactly one message or rolled back.
package sequencer

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/stride-chat/errs"
	"github.com/tcriess/stride-chat/media"
	"github.com/tcriess/stride-chat/metrics"
	"github.com/tcriess/stride-chat/persistence"
	"github.com/tcriess/stride-chat/profiles"
	"github.com/tcriess/stride-chat/types"
)

const defaultSendTimeout = 15 * time.Second

// SystemAuthor signs room notices.
var SystemAuthor = types.AuthorSnapshot{Id: "system", Name: "System"}

// Publisher receives every committed message exactly once, in no particular order.
type Publisher interface {
	Publish(msg *types.Message, room *types.Room)
}

// Reserver is implemented by publishers that wait for sequence gaps. A send
// reserves before its seq is allocated; publishing consumes the reservation
// and a send that does not commit releases it.
type Reserver interface {
	Reserve(roomId string) (release func())
}

type Options struct {
	Limits      media.Limits
	SendTimeout time.Duration
	Sniffer     media.Sniffer
}

// Result of a send. Room is the post-increment room, nil for duplicates.
type Result struct {
	Message   *types.Message
	Room      *types.Room
	Duplicate bool
	// Unread is the author's unread count after the send.
	Unread int64
}

type Coordinator struct {
	store     persistence.Store
	uploader  *media.Uploader
	profiles  *profiles.Directory
	publisher Publisher
	limits    media.Limits
	sniffer   media.Sniffer
	timeout   time.Duration
	logger    hclog.Logger
}

func New(store persistence.Store, uploader *media.Uploader, directory *profiles.Directory, publisher Publisher, opts Options, logger hclog.Logger) *Coordinator {
	if opts.Limits.MaxFiles <= 0 {
		opts.Limits.MaxFiles = media.DefaultLimits.MaxFiles
	}
	if opts.Limits.MaxFileBytes <= 0 {
		opts.Limits.MaxFileBytes = media.DefaultLimits.MaxFileBytes
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	if opts.Sniffer == nil {
		opts.Sniffer = media.MimeSniffer{}
	}
	return &Coordinator{
		store:     store,
		uploader:  uploader,
		profiles:  directory,
		publisher: publisher,
		limits:    opts.Limits,
		sniffer:   opts.Sniffer,
		timeout:   opts.SendTimeout,
		logger:    logger.Named("sequencer"),
	}
}

// Send runs the sequencing protocol for one message. Infrastructure failures
// are safe to retry with the same submission id.
func (c *Coordinator) Send(ctx context.Context, authorId string, req types.SendRequest) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	res, err := c.send(ctx, authorId, req)
	switch {
	case err != nil:
		metrics.SendResult(errs.CodeOf(err))
	case res.Duplicate:
		metrics.SendResult("DUPLICATE")
	default:
		metrics.SendResult("OK")
	}
	return res, err
}

func (c *Coordinator) send(ctx context.Context, authorId string, req types.SendRequest) (*Result, error) {
	roomId := strings.TrimSpace(req.RoomId)
	if roomId == "" {
		return nil, errs.Validation(errs.CodeInvalidRoomId, "room id is required")
	}
	isMember, err := c.store.IsMember(ctx, roomId, authorId)
	if err != nil {
		return nil, err
	}
	if !isMember {
		return nil, errs.ErrNotAMember
	}

	files, err := media.Validate(c.limits, c.sniffer, req.Text, req.Attachments)
	if err != nil {
		return nil, err
	}
	fingerprint, err := media.Fingerprint(req.Text, files)
	if err != nil {
		return nil, errs.Infrastructure(err, "fingerprint content")
	}

	submissionId := strings.TrimSpace(req.SubmissionId)
	if submissionId == "" {
		submissionId = uuid.NewString()
	} else if res, err := c.existing(ctx, authorId, roomId, submissionId, fingerprint); res != nil || err != nil {
		return res, err
	}

	author, err := c.profiles.Snapshot(ctx, authorId)
	if err != nil {
		return nil, err
	}

	var staged *media.Staged
	if len(files) > 0 {
		if c.uploader == nil {
			return nil, errs.Validation(errs.CodeBlockedMime, "attachments are not accepted")
		}
		if staged, err = c.uploader.Stage(ctx, roomId, files); err != nil {
			return nil, err
		}
	}
	var attachments []types.Attachment
	if staged != nil {
		attachments = staged.Attachments
	}
	content, err := types.NewContent(req.Text, attachments)
	if err != nil {
		staged.Discard(context.Background())
		return nil, err
	}

	msg := types.NewMessage(uuid.NewString(), roomId, submissionId, author, content)
	msg.Fingerprint = fingerprint
	room, err := c.sequence(ctx, msg, content.Preview())
	if err != nil {
		staged.Discard(context.Background())
		return c.failed(ctx, authorId, roomId, submissionId, fingerprint, err)
	}
	staged.Commit()

	unread, _, err := c.store.CommitRead(ctx, roomId, authorId, msg.Seq)
	if err != nil {
		// the message is committed; the author's pointer catches up on the next read
		c.logger.Warn("could not advance author read position", "room", roomId, "user", authorId, "seq", msg.Seq, "error", err)
		unread = types.Unread(room.SeqCounter, msg.Seq)
	}
	if c.publisher != nil {
		c.publisher.Publish(msg, room)
	}
	c.logger.Debug("message committed", "room", roomId, "seq", msg.Seq, "message", msg.Id)
	return &Result{Message: msg, Room: room, Unread: unread}, nil
}

// sequence increments the room counter and inserts msg under the new value in
// one transaction.
func (c *Coordinator) sequence(ctx context.Context, msg *types.Message, preview string) (*types.Room, error) {
	release := c.reserve(msg.RoomId)
	var room *types.Room
	err := c.store.Transaction(ctx, func(tx persistence.Store) error {
		var err error
		room, err = tx.IncrementSeqAndTouch(ctx, msg.RoomId, preview)
		if err != nil {
			return err
		}
		if room.LastMessageAt != nil {
			msg.CreatedAt = *room.LastMessageAt
		}
		_, err = tx.InsertMessage(ctx, msg, room.SeqCounter)
		return err
	})
	if err != nil {
		release()
		return nil, err
	}
	return room, nil
}

// Notice posts a system message to the room. It is sequenced and fanned out
// like any send but has no member author, so no read position moves.
func (c *Coordinator) Notice(ctx context.Context, roomId, text string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	roomId = strings.TrimSpace(roomId)
	if roomId == "" {
		return nil, errs.Validation(errs.CodeInvalidRoomId, "room id is required")
	}
	content, err := types.NewSystemContent(strings.TrimSpace(text))
	if err != nil {
		return nil, err
	}
	msg := types.NewMessage(uuid.NewString(), roomId, uuid.NewString(), SystemAuthor, content)
	room, err := c.sequence(ctx, msg, content.Preview())
	if err != nil {
		return c.failed(ctx, SystemAuthor.Id, roomId, msg.SubmissionId, "", err)
	}
	if c.publisher != nil {
		c.publisher.Publish(msg, room)
	}
	c.logger.Info("notice posted", "room", roomId, "seq", msg.Seq, "message", msg.Id)
	return &Result{Message: msg, Room: room}, nil
}

func (c *Coordinator) reserve(roomId string) func() {
	if r, ok := c.publisher.(Reserver); ok {
		return r.Reserve(roomId)
	}
	return func() {}
}

// existing resolves a resubmission. A reused id with different content is a
// conflict. The author has read the original, as after the first send.
func (c *Coordinator) existing(ctx context.Context, authorId, roomId, submissionId, fingerprint string) (*Result, error) {
	prev, err := c.store.FindBySubmissionId(ctx, roomId, submissionId)
	if err != nil || prev == nil {
		return nil, err
	}
	if prev.Fingerprint != "" && prev.Fingerprint != fingerprint {
		return nil, errs.Conflict(errs.CodeSubmissionConflict, "submission id was used for different content")
	}
	unread, _, err := c.store.CommitRead(ctx, roomId, authorId, prev.Seq)
	if err != nil {
		c.logger.Warn("could not advance author read position", "room", roomId, "user", authorId, "seq", prev.Seq, "error", err)
		unread = 0
	}
	return &Result{Message: prev, Duplicate: true, Unread: unread}, nil
}

func (c *Coordinator) failed(ctx context.Context, authorId, roomId, submissionId, fingerprint string, err error) (*Result, error) {
	switch errs.CodeOf(err) {
	case errs.CodeDuplicateSubmit:
		// a concurrent send with the same submission id won
		if res, lookupErr := c.existing(ctx, authorId, roomId, submissionId, fingerprint); res != nil || lookupErr != nil {
			return res, lookupErr
		}
	case errs.CodeDuplicateSequence:
		metrics.InvariantViolations.WithLabelValues("duplicate_sequence").Inc()
		c.logger.Error("sequence number reused", "invariant", "duplicate_sequence", "room", roomId, "error", err)
	}
	return nil, err
}

// CommitRead advances the user's read position and brings the inbox row in
// line with it. It returns the remaining unread count.
func (c *Coordinator) CommitRead(ctx context.Context, userId, roomId string, seq int64) (int64, error) {
	unread, member, err := c.store.CommitRead(ctx, roomId, userId, seq)
	if err != nil {
		return 0, err
	}
	if err := c.store.MarkInboxRead(ctx, userId, roomId, unread, member.LastReadSeq+unread); err != nil {
		c.logger.Warn("could not update inbox", "room", roomId, "user", userId, "error", err)
	}
	return unread, nil
}
