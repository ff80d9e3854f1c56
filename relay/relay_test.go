package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLocalRunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	var l Relay = Local{}
	assert.NoError(t, l.Publish(ctx, Envelope{RoomId: "r1", Frame: []byte("{}")}))
	assert.NoError(t, l.Run(ctx, func(Envelope) { t.Fatal("unexpected delivery") }))
	assert.NoError(t, l.Close())
}
