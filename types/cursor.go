package types

import (
	"encoding/base64"
	"encoding/json"
	"strconv"

	"github.com/tcriess/stride-chat/errs"
)

// ActivityCursor is the position after the last item of an activity ordered
// page: (lastMessageAt|null, id), compared descending.
type ActivityCursor struct {
	At *int64 `json:"at"` // unix millis, nil for rooms without messages
	Id string `json:"id"`
}

func NewActivityCursor(activityMs int64, id string) ActivityCursor {
	c := ActivityCursor{Id: id}
	if activityMs > 0 {
		c.At = &activityMs
	}
	return c
}

// ActivityMs is the sort key value the cursor points at.
func (c ActivityCursor) ActivityMs() int64 {
	if c.At == nil {
		return 0
	}
	return *c.At
}

// After reports whether (activityMs, id) sorts strictly after the cursor
// position in (activity desc, id desc) order.
func (c ActivityCursor) After(activityMs int64, id string) bool {
	at := c.ActivityMs()
	return activityMs < at || (activityMs == at && id < c.Id)
}

func (c ActivityCursor) Encode() string {
	ba, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(ba)
}

// DecodeActivityCursor parses an opaque cursor; the empty string is the first page.
func DecodeActivityCursor(s string) (*ActivityCursor, error) {
	if s == "" {
		return nil, nil
	}
	ba, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, errs.ErrInvalidCursor.Wrap(err)
	}
	c := &ActivityCursor{}
	if err := json.Unmarshal(ba, c); err != nil {
		return nil, errs.ErrInvalidCursor.Wrap(err)
	}
	if c.Id == "" {
		return nil, errs.ErrInvalidCursor
	}
	return c, nil
}

// EncodeSeqCursor encodes the seq of the last returned message.
func EncodeSeqCursor(seq int64) string {
	return base64.RawURLEncoding.EncodeToString([]byte("s" + strconv.FormatInt(seq, 10)))
}

// DecodeSeqCursor returns 0 for the first page.
func DecodeSeqCursor(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	ba, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(ba) < 2 || ba[0] != 's' {
		return 0, errs.ErrInvalidCursor
	}
	seq, err := strconv.ParseInt(string(ba[1:]), 10, 64)
	if err != nil || seq <= 0 {
		return 0, errs.ErrInvalidCursor
	}
	return seq, nil
}

// EncodeKeyCursor encodes the key of the last returned item of a key ordered page.
func EncodeKeyCursor(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte("k" + key))
}

func DecodeKeyCursor(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	ba, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil || len(ba) < 2 || ba[0] != 'k' {
		return "", errs.ErrInvalidCursor
	}
	return string(ba[1:]), nil
}
