package types

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

// Member is the per (room, user) record. LastReadSeq never moves backward and
// never exceeds the room's SeqCounter.
type Member struct {
	Id          string     `json:"id" gorm:"primaryKey"`
	RoomId      string     `json:"roomId" gorm:"not null;uniqueIndex:idx_members_room_user"`
	UserId      string     `json:"userId" gorm:"not null;uniqueIndex:idx_members_room_user;index"`
	Role        Role       `json:"role" gorm:"not null;default:member"`
	LastReadSeq int64      `json:"lastReadSeq" gorm:"not null;default:0"`
	JoinedAt    time.Time  `json:"joinedAt"`
	LeftAt      *time.Time `json:"leftAt,omitempty" gorm:"index"`
	Pinned      bool       `json:"pinned"`
	Muted       bool       `json:"muted"`
	MutedAt     *time.Time `json:"mutedAt,omitempty"`
	Nickname    string     `json:"nickname"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

func (m *Member) Active() bool {
	return m.LeftAt == nil
}

// MemberPrefs are per-user display overrides; nil fields stay unchanged.
type MemberPrefs struct {
	Pinned   *bool   `json:"pinned" mapstructure:"pinned"`
	Muted    *bool   `json:"muted" mapstructure:"muted"`
	Nickname *string `json:"nickname" mapstructure:"nickname"`
}
