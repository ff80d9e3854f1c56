package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSendResult(t *testing.T) {
	Init()
	Init()
	before := testutil.ToFloat64(Sends.WithLabelValues("ROOM_FULL"))
	SendResult("ROOM_FULL")
	assert.Equal(t, before+1, testutil.ToFloat64(Sends.WithLabelValues("ROOM_FULL")))
}
