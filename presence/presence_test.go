package presence

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	first, err := l.Enter(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.True(t, first)
	first, err = l.Enter(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.False(t, first)

	viewing, err := l.Viewing(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.True(t, viewing)
	viewing, err = l.Viewing(ctx, "r2", "alice")
	require.NoError(t, err)
	assert.False(t, viewing)

	last, err := l.Leave(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.False(t, last)
	last, err = l.Leave(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.True(t, last)
	last, err = l.Leave(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.False(t, last)

	viewing, err = l.Viewing(ctx, "r1", "alice")
	require.NoError(t, err)
	assert.False(t, viewing)
	assert.Empty(t, l.sessions)
}
