package writeserializer

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chatfabric/fabnode/internal/domain"
	"github.com/chatfabric/fabnode/internal/session"
)

type fakeConn struct {
	mu      sync.Mutex
	written [][]byte
	failOn  int // write index (0-based) that should fail, -1 for never
	closed  bool
}

func (c *fakeConn) WriteMessage(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx := len(c.written)
	if c.failOn >= 0 && idx == c.failOn {
		return errors.New("boom")
	}
	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) snapshot() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.written...)
}

func newPool(workers int) (*Pool, *session.Registry, *Metrics) {
	reg := session.NewRegistry()
	metrics := &Metrics{}
	return NewPool(workers, reg, metrics), reg, metrics
}

func TestPool_SendWritesInOrder(t *testing.T) {
	pool, reg, metrics := newPool(4)
	defer pool.Close()

	conn := &fakeConn{failOn: -1}
	s := domain.NewSession("s1", 1, conn, 10)
	reg.Add(s.RoomID, s)

	for i := 0; i < 5; i++ {
		pool.Send(s, []byte{byte(i)})
	}

	require.Eventually(t, func() bool {
		return len(conn.snapshot()) == 5
	}, time.Second, time.Millisecond)

	for i, b := range conn.snapshot() {
		require.Equal(t, byte(i), b[0])
	}
	require.EqualValues(t, 5, metrics.Sent.Load())
}

func TestPool_DropsWhenQueueFull(t *testing.T) {
	pool, reg, metrics := newPool(1)
	defer pool.Close()

	conn := &fakeConn{failOn: -1}
	s := domain.NewSession("s1", 1, conn, 1)
	reg.Add(s.RoomID, s)

	for i := 0; i < 20; i++ {
		pool.Send(s, []byte{byte(i)})
	}

	require.Eventually(t, func() bool {
		return metrics.Dropped.Load() > 0
	}, time.Second, time.Millisecond)
}

func TestPool_DropsWhenSessionNotLive(t *testing.T) {
	pool, reg, metrics := newPool(1)
	defer pool.Close()

	conn := &fakeConn{failOn: -1}
	s := domain.NewSession("s1", 1, conn, 10)
	reg.Add(s.RoomID, s)
	s.Close()

	pool.Send(s, []byte("hi"))
	require.EqualValues(t, 1, metrics.Dropped.Load())
}

func TestPool_WriteErrorClosesAndPrunesSession(t *testing.T) {
	pool, reg, metrics := newPool(1)
	defer pool.Close()

	conn := &fakeConn{failOn: 0}
	s := domain.NewSession("s1", 7, conn, 10)
	reg.Add(s.RoomID, s)

	pool.Send(s, []byte("hi"))

	require.Eventually(t, func() bool {
		return metrics.Errors.Load() > 0
	}, time.Second, time.Millisecond)

	require.False(t, s.IsLive())
	require.Nil(t, reg.SnapshotRoom(7))
}
