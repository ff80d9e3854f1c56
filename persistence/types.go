package persistence

import (
	"context"

	"github.com/tcriess/stride-chat/types"
)

// RoomLedger owns room metadata and the per-room sequence counter.
type RoomLedger interface {
	CreateRoom(ctx context.Context, spec types.RoomSpec) (*types.Room, error)
	// IncrementSeqAndTouch atomically advances SeqCounter by one, sets the
	// last-message preview and returns the post-increment room. Concurrent calls
	// for one room never produce the same counter value.
	IncrementSeqAndTouch(ctx context.Context, roomId, preview string) (*types.Room, error)
	GetRoom(ctx context.Context, roomId string) (*types.Room, error)
	CloseRoom(ctx context.Context, roomId string) error
	UpdateRoomTags(ctx context.Context, roomId string, updates []*types.TagUpdate) ([]bool, error)
	ListRooms(ctx context.Context, cursor string, limit int) ([]*types.Room, string, error)
	ListRoomsForMember(ctx context.Context, userId string, f types.RoomFilter, cursor string, limit int) ([]*types.RoomListItem, string, error)
}

type MessageStore interface {
	// FindBySubmissionId returns nil, nil when no message carries the submission id.
	FindBySubmissionId(ctx context.Context, roomId, submissionId string) (*types.Message, error)
	InsertMessage(ctx context.Context, msg *types.Message, seq int64) (*types.Message, error)
	GetMessage(ctx context.Context, roomId, messageId string) (*types.Message, error)
	// ListMessages pages newest first; the cursor is the seq of the last returned message.
	ListMessages(ctx context.Context, roomId, cursor string, limit int) ([]*types.Message, string, error)
	SoftDeleteMessage(ctx context.Context, roomId, messageId string) error
	MessageStats(ctx context.Context, roomId string) (*MessageStats, error)
	// AttachmentReferenced reports whether a stored message, deleted or not,
	// carries an attachment with the object key.
	AttachmentReferenced(ctx context.Context, key string) (bool, error)
}

// MessageStats backs the consistency check of the admin tool.
type MessageStats struct {
	Count        int64
	DistinctSeqs int64
	MinSeq       int64
	MaxSeq       int64
}

// Membership tracks (room, user) records and read positions.
type Membership interface {
	// GetMember returns errs.ErrMemberNotFound for absent and departed members.
	GetMember(ctx context.Context, roomId, userId string) (*types.Member, error)
	ListMembers(ctx context.Context, roomId, cursor string, limit int) ([]*types.Member, string, error)
	// UpsertMember reports whether the user was not an active member before.
	UpsertMember(ctx context.Context, roomId, userId string, role types.Role) (*types.Member, bool, error)
	// RemoveMember reports whether the user was an active member.
	RemoveMember(ctx context.Context, roomId, userId string) (bool, error)
	IsMember(ctx context.Context, roomId, userId string) (bool, error)
	MembersSnapshot(ctx context.Context, roomId string) ([]*types.Member, error)
	SetMemberPrefs(ctx context.Context, roomId, userId string, prefs types.MemberPrefs) (*types.Member, error)
	// CommitRead moves LastReadSeq to max(current, min(targetSeq, SeqCounter))
	// and returns the resulting unread count.
	CommitRead(ctx context.Context, roomId, userId string, targetSeq int64) (int64, *types.Member, error)
}

// Inbox is the per (user, room) notification projection.
type Inbox interface {
	// UpsertInbox applies item unless the stored row already reflects a later seq.
	UpsertInbox(ctx context.Context, item *types.InboxItem) (bool, error)
	// MarkInboxRead sets the unread figure computed at seqCounter; rows already
	// advanced past seqCounter are left alone.
	MarkInboxRead(ctx context.Context, userId, roomId string, unread, seqCounter int64) error
	ClearInbox(ctx context.Context, userId, roomId string) error
	ListInbox(ctx context.Context, userId, cursor string, limit int) ([]*types.InboxItem, string, error)
}

type Users interface {
	StoreUser(ctx context.Context, user *types.User) error
	GetUser(ctx context.Context, userId string) (*types.User, error)
	DeleteUser(ctx context.Context, userId string) error
}

// Store is the durable state of the chat core. Transaction runs fn against a
// store bound to one unit of work; returning an error rolls every mutation back.
type Store interface {
	RoomLedger
	MessageStore
	Membership
	Inbox
	Users
	Transaction(ctx context.Context, fn func(tx Store) error) error
	Close() error
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

func pageSize(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
