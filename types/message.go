package types

import (
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/tcriess/stride-chat/errs"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindFile   Kind = "file"
	KindSystem Kind = "system"
)

// AuthorSnapshot is the author's display data captured at send time; later
// profile edits do not change stored messages.
type AuthorSnapshot struct {
	Id        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl"`
}

// Attachment references an uploaded object. Mime is the sniffed type, never the declared one.
type Attachment struct {
	Name         string `json:"name"`
	Key          string `json:"key"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	Mime         string `json:"mime"`
	Size         int64  `json:"size"`
	Digest       string `json:"digest"` // hex sha256 of the bytes
}

// Content is the closed message content variant. The zero value is invalid;
// use the constructors.
type Content struct {
	kind        Kind
	text        string
	attachments []Attachment
}

var errEmptyContent = errs.Validation(errs.CodeEmptyContent, "message needs text or at least one attachment")

func NewTextContent(text string) (Content, error) {
	if strings.TrimSpace(text) == "" {
		return Content{}, errEmptyContent
	}
	return Content{kind: KindText, text: text}, nil
}

func NewSystemContent(text string) (Content, error) {
	if strings.TrimSpace(text) == "" {
		return Content{}, errEmptyContent
	}
	return Content{kind: KindSystem, text: text}, nil
}

// NewAttachmentContent builds an image message when every attachment is an
// image, a file message otherwise. The caption is optional.
func NewAttachmentContent(caption string, attachments []Attachment) (Content, error) {
	if len(attachments) == 0 {
		return Content{}, errEmptyContent
	}
	kind := KindImage
	for _, a := range attachments {
		if !strings.HasPrefix(a.Mime, "image/") {
			kind = KindFile
			break
		}
	}
	return Content{kind: kind, text: caption, attachments: attachments}, nil
}

// NewContent picks the variant from what the sender supplied.
func NewContent(text string, attachments []Attachment) (Content, error) {
	if len(attachments) > 0 {
		return NewAttachmentContent(text, attachments)
	}
	return NewTextContent(text)
}

func (c Content) Kind() Kind                { return c.kind }
func (c Content) Text() string              { return c.text }
func (c Content) Attachments() []Attachment { return c.attachments }

// Preview is the denormalized text shown in room and inbox listings.
func (c Content) Preview() string {
	text := strings.TrimSpace(c.text)
	if text == "" {
		switch c.kind {
		case KindImage:
			text = "[image]"
		case KindFile:
			text = "[file]"
		}
		if n := len(c.attachments); n > 1 {
			text += " x" + strconv.Itoa(n)
		}
	}
	runes := []rune(text)
	if len(runes) > PreviewLength {
		text = string(runes[:PreviewLength-1]) + "…"
	}
	return text
}

// FileDigest identifies one attachment's bytes for fingerprinting.
type FileDigest struct {
	Name   string
	Size   int64
	Digest string
}

// Fingerprint hashes the content a client submitted, so a resend with the same
// submission id can be told apart from a reuse of the id for other content.
func Fingerprint(text string, files []FileDigest) (string, error) {
	h, err := hashstructure.Hash(struct {
		Text  string
		Files []FileDigest
	}{Text: text, Files: files}, hashstructure.FormatV2, nil)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(h, 16), nil
}

// Message is exclusively owned by its room. Seq is unique and strictly
// increasing within the room.
type Message struct {
	Id           string                         `json:"id" gorm:"primaryKey"`
	RoomId       string                         `json:"roomId" gorm:"not null;uniqueIndex:idx_messages_room_seq,priority:1;uniqueIndex:idx_messages_room_submission,priority:1"`
	Seq          int64                          `json:"seq" gorm:"not null;uniqueIndex:idx_messages_room_seq,priority:2"`
	SubmissionId string                         `json:"submissionId" gorm:"not null;uniqueIndex:idx_messages_room_submission,priority:2"`
	Fingerprint  string                         `json:"-"`
	AuthorId     string                         `json:"authorId" gorm:"not null;index"`
	Author       AuthorSnapshot                 `json:"author" gorm:"embedded;embeddedPrefix:author_"`
	Kind         Kind                           `json:"kind" gorm:"not null"`
	Text         string                         `json:"text"`
	Attachments  datatypes.JSONSlice[Attachment] `json:"attachments"`
	Meta         JSONStringMap                  `json:"meta"`
	CreatedAt    time.Time                      `json:"createdAt" gorm:"autoCreateTime:false"`
	EditedAt     *time.Time                     `json:"editedAt,omitempty"`
	DeletedAt    *time.Time                     `json:"deletedAt,omitempty"`
}

// NewMessage stamps a message with validated content; Seq and CreatedAt are
// assigned by the sequencing transaction.
func NewMessage(id, roomId, submissionId string, author AuthorSnapshot, content Content) *Message {
	return &Message{
		Id:           id,
		RoomId:       roomId,
		SubmissionId: submissionId,
		AuthorId:     author.Id,
		Author:       author,
		Kind:         content.Kind(),
		Text:         content.Text(),
		Attachments:  content.Attachments(),
		Meta:         JSONStringMap{},
	}
}

// Content re-validates the stored fields as a content variant.
func (m *Message) Content() (Content, error) {
	switch m.Kind {
	case KindText:
		return NewTextContent(m.Text)
	case KindSystem:
		return NewSystemContent(m.Text)
	case KindImage, KindFile:
		c, err := NewAttachmentContent(m.Text, m.Attachments)
		if err != nil {
			return Content{}, err
		}
		if m.Kind == KindImage && c.kind != KindImage {
			return Content{}, errs.Validation(errs.CodeBlockedMime, "image message with non-image attachment")
		}
		c.kind = m.Kind
		return c, nil
	}
	return Content{}, errs.Validation(errs.CodeInvalidPayload, "unknown message kind "+string(m.Kind))
}

// Validate enforces the write-time invariants of the message store.
func (m *Message) Validate() error {
	if m.Seq <= 0 {
		return errs.Validation(errs.CodeInvalidSeq, "seq must be a positive integer")
	}
	if m.RoomId == "" {
		return errs.Validation(errs.CodeInvalidRoomId, "message without room")
	}
	_, err := m.Content()
	return err
}

// FileDigests lists the attachment digests in submission order.
func (m *Message) FileDigests() []FileDigest {
	files := make([]FileDigest, len(m.Attachments))
	for i, a := range m.Attachments {
		files[i] = FileDigest{Name: a.Name, Size: a.Size, Digest: a.Digest}
	}
	return files
}
