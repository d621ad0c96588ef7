package hub

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h, cancel
}

func TestRegisterUnregister(t *testing.T) {
	h, _ := runHub(t)

	a := h.NewConnection(context.Background(), nil)
	b := h.NewConnection(context.Background(), nil)
	assert.NotEqual(t, a.ID, b.ID)

	require.NoError(t, h.Register(a))
	require.NoError(t, h.Register(b))
	assert.Eventually(t, func() bool { return h.Count() == 2 }, time.Second, 5*time.Millisecond)

	h.Unregister(a)
	h.Unregister(a)
	assert.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)

	_, open := <-a.Send
	assert.False(t, open, "send channel is closed on unregister")
}

func TestSendToConnection(t *testing.T) {
	h, _ := runHub(t)
	conn := h.NewConnection(context.Background(), nil)

	assert.ErrorIs(t, h.SendToConnection(conn, []byte("x")), ErrUnknownConnection)

	require.NoError(t, h.Register(conn))
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)

	for i := 0; i < SendBufferSize; i++ {
		require.NoError(t, h.SendToConnection(conn, []byte("x")))
	}
	assert.ErrorIs(t, h.SendToConnection(conn, []byte("x")), ErrBufferFull)
	assert.Equal(t, []byte("x"), <-conn.Send)
}

func TestRunStopsAndAbortsConnections(t *testing.T) {
	h, cancel := runHub(t)
	conn := h.NewConnection(context.Background(), nil)
	require.NoError(t, h.Register(conn))
	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)

	cancel()

	select {
	case <-conn.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("connection context was not cancelled")
	}
	assert.Equal(t, 0, h.Count())
	assert.ErrorIs(t, h.Register(h.NewConnection(context.Background(), nil)), ErrHubStopped)
	h.Unregister(conn)
}

func TestCloseCancelsContext(t *testing.T) {
	h := NewHub(nil)
	conn := h.NewConnection(context.Background(), nil)
	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Context().Err(), context.Canceled)
}
