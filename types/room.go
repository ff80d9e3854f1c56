package types

import (
	"time"
)

// Room is a chat channel with a bounded member set and a monotonic message sequence.
// SeqCounter and the LastMessage* fields only change together, inside the
// sequencing transaction.
type Room struct {
	Id            string        `json:"id" gorm:"primaryKey"`
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	ImageURL      string        `json:"imageUrl"`
	Capacity      int           `json:"capacity"` // 0: unbounded
	OwnerId       string        `json:"ownerId" gorm:"index"`
	MemberIds     StringSet     `json:"memberIds"`
	MemberCount   int           `json:"memberCount"`
	SeqCounter    int64         `json:"seqCounter" gorm:"not null;default:0"`
	LastMessage   string        `json:"lastMessage"`
	LastMessageAt *time.Time    `json:"lastMessageAt"`
	ActivityMs    int64         `json:"-" gorm:"not null;default:0;index"` // unix millis of LastMessageAt, 0 without messages
	Tags          JSONStringMap `json:"tags"`
	ClosedAt      *time.Time    `json:"closedAt,omitempty" gorm:"index"`
	CreatedAt     time.Time     `json:"createdAt"`
	UpdatedAt     time.Time     `json:"updatedAt"`
}

func (r *Room) Closed() bool {
	return r.ClosedAt != nil
}

// RoomSpec is the input of a room creation request.
type RoomSpec struct {
	Id          string            `json:"id"` // optional, generated when empty
	Name        string            `json:"name"`
	Description string            `json:"description"`
	ImageURL    string            `json:"imageUrl"`
	Capacity    int               `json:"capacity"`
	OwnerId     string            `json:"ownerId"`
	Tags        map[string]string `json:"tags"`
}

// RoomFilter narrows ListRoomsForMember. Nil pointers do not filter.
type RoomFilter struct {
	Pinned *bool
	Muted  *bool
	Search string // case-insensitive substring of the room name
	Expr   string // boolean expression over filter.Env
}

// RoomListItem is a room as seen by one member.
type RoomListItem struct {
	Room   *Room   `json:"room"`
	Member *Member `json:"member"`
	Unread int64   `json:"unread"`
}

// Unread is the authoritative unread figure, floored at 0.
func Unread(seqCounter, lastReadSeq int64) int64 {
	if d := seqCounter - lastReadSeq; d > 0 {
		return d
	}
	return 0
}

// PreviewLength caps the denormalized last-message preview.
const PreviewLength = 140
