package types

import (
	"encoding/json"
	"time"
)

// Socket event names.
const (
	EventRoomJoin    = "room:join"
	EventRoomLeave   = "room:leave"
	EventMessageSend = "message:send"
	EventMessageRead = "message:read"

	EventMessageNew     = "message:new"
	EventNotifyUpdate   = "notify:update"
	EventRoomUserJoined = "room:userJoined"
	EventRoomUserLeft   = "room:userLeft"
	EventAck            = "ack"
	EventError          = "error"
)

// WebsocketMessage is the envelope of every frame in both directions. Ack
// correlates a request with its acknowledgment.
type WebsocketMessage struct {
	Event string          `json:"event"`
	Ack   string          `json:"ack,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps data in an envelope.
func Encode(event, ack string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WebsocketMessage{Event: event, Ack: ack, Data: raw})
}

type RoomRequest struct {
	RoomId string `json:"roomId" mapstructure:"roomId"`
}

type ReadRequest struct {
	RoomId string `json:"roomId" mapstructure:"roomId"`
	Seq    int64  `json:"seq" mapstructure:"seq"`
}

// UploadAttachment is a file inlined in a send request. Declared Mime is
// informational only; the stored type comes from sniffing Data.
type UploadAttachment struct {
	Name string `json:"name"`
	Mime string `json:"mime,omitempty"`
	Data []byte `json:"data"` // base64 in JSON
}

type SendRequest struct {
	RoomId       string             `json:"roomId"`
	Text         string             `json:"text,omitempty"`
	Attachments  []UploadAttachment `json:"attachments,omitempty"`
	SubmissionId string             `json:"submissionId,omitempty"`
}

// Ack answers a client request. Only the fields relevant to the request are set.
type Ack struct {
	Ok           bool         `json:"ok"`
	Error        string       `json:"error,omitempty"`
	Message      string       `json:"message,omitempty"`
	Id           string       `json:"id,omitempty"`
	SubmissionId string       `json:"submissionId,omitempty"`
	CreatedAt    *time.Time   `json:"createdAt,omitempty"`
	Seq          int64        `json:"seq,omitempty"`
	Attachments  []Attachment `json:"attachments,omitempty"`
	Unread       *int64       `json:"unread,omitempty"`
}

type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageNew is pushed to every subscriber of the room.
type MessageNew struct {
	Id           string         `json:"id"`
	SubmissionId string         `json:"submissionId"`
	RoomId       string         `json:"roomId"`
	AuthorId     string         `json:"authorId"`
	Author       AuthorSnapshot `json:"author"`
	Kind         Kind           `json:"kind"`
	Text         string         `json:"text"`
	Attachments  []Attachment   `json:"attachments"`
	Seq          int64          `json:"seq"`
	CreatedAt    time.Time      `json:"createdAt"`
	Meta         JSONStringMap  `json:"meta"`
}

func NewMessageNew(m *Message) MessageNew {
	attachments := []Attachment(m.Attachments)
	if attachments == nil {
		attachments = []Attachment{}
	}
	meta := m.Meta
	if meta == nil {
		meta = JSONStringMap{}
	}
	return MessageNew{
		Id:           m.Id,
		SubmissionId: m.SubmissionId,
		RoomId:       m.RoomId,
		AuthorId:     m.AuthorId,
		Author:       m.Author,
		Kind:         m.Kind,
		Text:         m.Text,
		Attachments:  attachments,
		Seq:          m.Seq,
		CreatedAt:    m.CreatedAt,
		Meta:         meta,
	}
}

// NotifyUpdate is pushed on a member's personal channel.
type NotifyUpdate struct {
	RoomId        string     `json:"roomId"`
	RoomName      string     `json:"roomName"`
	LastMessage   string     `json:"lastMessage"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
	Unread        int64      `json:"unread"`
}

// Presence is the payload of room:userJoined and room:userLeft.
type Presence struct {
	RoomId string         `json:"roomId"`
	Author AuthorSnapshot `json:"author"`
}
