package types

import "time"

// User is the profile snapshot source for message authors. The profile subsystem owns it.
type User struct {
	Id         string        `json:"id" gorm:"primaryKey"`
	Nick       string        `json:"nick"`
	AvatarURL  string        `json:"avatar_url"`
	Language   string        `json:"language"` // alpha-2 iso
	Tags       JSONStringMap `json:"tags"`
	LastOnline time.Time     `json:"last_online"` // last seen online
	UpdatedAt  time.Time     `json:"updated_at"`
}

// Snapshot is the display data copied into messages at send time.
func (u *User) Snapshot() AuthorSnapshot {
	name := u.Nick
	if name == "" {
		name = u.Id
	}
	return AuthorSnapshot{Id: u.Id, Name: name, AvatarURL: u.AvatarURL}
}
