package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/stride-chat/errs"
)

func TestActivityCursor(t *testing.T) {
	c := NewActivityCursor(1700000000000, "room-b")
	got, err := DecodeActivityCursor(c.Encode())
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000000), got.ActivityMs())
	assert.Equal(t, "room-b", got.Id)

	assert.True(t, got.After(1600000000000, "room-z"))
	assert.True(t, got.After(1700000000000, "room-a"))
	assert.False(t, got.After(1700000000000, "room-b"))
	assert.False(t, got.After(1800000000000, "room-a"))

	empty := NewActivityCursor(0, "room-c")
	assert.Nil(t, empty.At)
	got, err = DecodeActivityCursor(empty.Encode())
	require.NoError(t, err)
	assert.Nil(t, got.At)
	assert.True(t, got.After(0, "room-a"))

	none, err := DecodeActivityCursor("")
	assert.NoError(t, err)
	assert.Nil(t, none)

	_, err = DecodeActivityCursor("!!not-base64")
	assert.True(t, errs.HasCode(err, errs.CodeInvalidCursor))
}

func TestSeqAndKeyCursor(t *testing.T) {
	seq, err := DecodeSeqCursor(EncodeSeqCursor(42))
	require.NoError(t, err)
	assert.Equal(t, int64(42), seq)
	seq, err = DecodeSeqCursor("")
	assert.NoError(t, err)
	assert.Zero(t, seq)
	_, err = DecodeSeqCursor(EncodeKeyCursor("42"))
	assert.Error(t, err)

	key, err := DecodeKeyCursor(EncodeKeyCursor("member-1"))
	require.NoError(t, err)
	assert.Equal(t, "member-1", key)
}

func TestStringSet(t *testing.T) {
	s := NewStringSet("b", "a")
	assert.True(t, s.Add("c"))
	assert.False(t, s.Add("a"))
	assert.True(t, s.Remove("b"))
	assert.False(t, s.Remove("b"))
	assert.Equal(t, []string{"a", "c"}, s.Sorted())
	v, err := s.Value()
	require.NoError(t, err)
	assert.Equal(t, `["a","c"]`, v)
	var back StringSet
	require.NoError(t, back.Scan([]byte(`["x"]`)))
	assert.True(t, back.Has("x"))
	assert.Equal(t, int64(0), Unread(3, 5))
	assert.Equal(t, int64(2), Unread(5, 3))
}
