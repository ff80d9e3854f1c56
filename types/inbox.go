package types

import "time"

type InboxStatus string

const (
	InboxQueued    InboxStatus = "queued"
	InboxDelivered InboxStatus = "delivered"
	InboxRead      InboxStatus = "read"
	InboxCleared   InboxStatus = "cleared"
)

// InboxItem is the per (user, room) notification row. It is a projection that may
// lag; the authoritative unread figure is Unread(room.SeqCounter, member.LastReadSeq).
type InboxItem struct {
	Id            string      `json:"id" gorm:"primaryKey"`
	UserId        string      `json:"userId" gorm:"not null;uniqueIndex:idx_inbox_user_room"`
	RoomId        string      `json:"roomId" gorm:"not null;uniqueIndex:idx_inbox_user_room"`
	RoomName      string      `json:"roomName"`
	LastMessageId string      `json:"lastMessageId"`
	LastSeq       int64       `json:"lastSeq" gorm:"not null;default:0"`
	LastMessage   string      `json:"lastMessage"`
	LastMessageAt *time.Time  `json:"lastMessageAt"`
	ActivityMs    int64       `json:"-" gorm:"not null;default:0;index"`
	Unread        int64       `json:"unread"`
	Status        InboxStatus `json:"status" gorm:"not null;default:queued"`
	MutedAt       *time.Time  `json:"mutedAt,omitempty"`
	UpdatedAt     time.Time   `json:"updatedAt"`
}

// ActivityMillis is the listing sort key for an optional timestamp.
func ActivityMillis(t *time.Time) int64 {
	if t == nil {
		return 0
	}
	return t.UnixMilli()
}
