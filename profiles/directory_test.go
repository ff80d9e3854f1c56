package profiles

import (
	"context"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/stride-chat/persistence"
	"github.com/tcriess/stride-chat/types"
)

func TestDirectory(t *testing.T) {
	ctx := context.Background()
	store := persistence.NewMemoryStore()
	d, err := NewDirectory(store, 8, hclog.NewNullLogger())
	require.NoError(t, err)

	snap, err := d.Snapshot(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, types.AuthorSnapshot{Id: "ghost", Name: "ghost"}, snap)

	require.NoError(t, d.Store(ctx, &types.User{Id: "alice", Nick: "Alice", AvatarURL: "https://a/img.png"}))
	snap, err = d.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", snap.Name)
	assert.Equal(t, "https://a/img.png", snap.AvatarURL)

	// a write that bypasses the directory is only seen after invalidation
	require.NoError(t, store.StoreUser(ctx, &types.User{Id: "alice", Nick: "Alicia"}))
	snap, err = d.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alice", snap.Name)
	d.Invalidate("alice")
	snap, err = d.Snapshot(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "Alicia", snap.Name)

	d.Touch(ctx, "bob")
	bob, err := store.GetUser(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, bob.LastOnline.IsZero())
}
