package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/acapellify/api/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func receive(t *testing.T, c *Client) map[string]any {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		require.True(t, ok, "send channel closed")
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func TestHub_BroadcastToJobSubscribers(t *testing.T) {
	h, _ := startHub(t)

	a := &Client{JobID: "job-1", Send: make(chan []byte, 4)}
	b := &Client{JobID: "job-2", Send: make(chan []byte, 4)}
	h.Register(a)
	h.Register(b)
	require.Eventually(t, func() bool { return h.Subscribers("job-1") == 1 }, time.Second, time.Millisecond)

	h.BroadcastProgress("job-1", 42.5, model.JobStatusRunning, "infer")
	msg := receive(t, a)
	assert.Equal(t, "progress", msg["type"])
	assert.Equal(t, 42.5, msg["progress"])
	assert.Equal(t, "infer", msg["currentStep"])

	h.BroadcastComplete("job-1", map[string]string{"output_midi": "/tmp/x.mid"})
	msg = receive(t, a)
	assert.Equal(t, "complete", msg["type"])

	h.BroadcastError("job-1", "CONVERSION_FAILED", "No notes found in the score")
	msg = receive(t, a)
	assert.Equal(t, "error", msg["type"])

	select {
	case <-b.Send:
		t.Fatal("job-2 subscriber received job-1 message")
	default:
	}
}

func TestHub_Unregister(t *testing.T) {
	h, _ := startHub(t)

	c := &Client{JobID: "job", Send: make(chan []byte, 1)}
	h.Register(c)
	h.Unregister(c)
	require.Eventually(t, func() bool { return h.Subscribers("job") == 0 }, time.Second, time.Millisecond)

	_, ok := <-c.Send
	assert.False(t, ok)
}

func TestHub_DropsSlowConsumer(t *testing.T) {
	h, _ := startHub(t)

	c := &Client{JobID: "job", Send: make(chan []byte)}
	h.Register(c)
	h.BroadcastProgress("job", 10, model.JobStatusRunning, "parse")

	require.Eventually(t, func() bool { return h.Subscribers("job") == 0 }, time.Second, time.Millisecond)
	h.Unregister(c)
}

func TestHub_StopClosesClients(t *testing.T) {
	h, cancel := startHub(t)
	c := &Client{JobID: "job", Send: make(chan []byte, 1)}
	h.Register(c)
	cancel()

	select {
	case _, ok := <-c.Send:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("client not closed on stop")
	}

	// Calls after stop return instead of blocking.
	h.BroadcastProgress("job", 1, model.JobStatusRunning, "")
	h.Register(&Client{JobID: "late", Send: make(chan []byte, 1)})
}
