package persistence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/stride-chat/types"
)

func TestMemoryStoreSuite(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	room, err := s.CreateRoom(ctx, types.RoomSpec{Id: "r1", OwnerId: "alice"})
	require.NoError(t, err)
	room.SeqCounter = 42
	room.MemberIds.Add("mallory")

	stored, err := s.GetRoom(ctx, "r1")
	require.NoError(t, err)
	assert.Zero(t, stored.SeqCounter)
	assert.False(t, stored.MemberIds.Has("mallory"))
}

func TestMemoryCanceledTransaction(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.CreateRoom(context.Background(), types.RoomSpec{Id: "r1"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	err = s.Transaction(ctx, func(tx Store) error {
		_, err := tx.IncrementSeqAndTouch(ctx, "r1", "p")
		cancel()
		return err
	})
	assert.ErrorIs(t, err, context.Canceled)
	room, err := s.GetRoom(context.Background(), "r1")
	require.NoError(t, err)
	assert.Zero(t, room.SeqCounter)
}
