package batchwriter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatfabric/fabnode/internal/domain"
)

func sampleMessage(userID string, roomID int, ts time.Time) domain.QueueMessage {
	return domain.QueueMessage{
		MessageID:       "msg-" + userID,
		RoomID:          roomID,
		UserID:          userID,
		Username:        userID,
		Text:            "hi",
		ServerTimestamp: ts,
		Kind:            domain.KindText,
	}
}

func TestActivityRows_DedupesKeepsLatestTimestamp(t *testing.T) {
	base := time.Now()
	batch := []domain.QueueMessage{
		sampleMessage("bob", 1, base),
		sampleMessage("bob", 1, base.Add(time.Minute)),
		sampleMessage("alice", 1, base),
	}

	rows := activityRows(batch)
	require.Len(t, rows, 2)

	// sorted lexicographically by (userId, roomId): alice before bob.
	assert.Equal(t, "alice", rows[0].UserID)
	assert.Equal(t, "bob", rows[1].UserID)
	assert.True(t, rows[1].LastActivity.Equal(base.Add(time.Minute)))
	assert.Equal(t, int64(1), rows[1].MessageCount)
}

func TestActivityRows_SortsAcrossRooms(t *testing.T) {
	base := time.Now()
	batch := []domain.QueueMessage{
		sampleMessage("carol", 2, base),
		sampleMessage("carol", 1, base),
	}

	rows := activityRows(batch)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rows[0].RoomID)
	assert.Equal(t, 2, rows[1].RoomID)
}

func TestWriter_EnqueueRespectsBufferCapacity(t *testing.T) {
	w := New(nil, nil, Config{BatchSize: 10, FlushInterval: time.Minute, BufferCapacity: 1}, &Metrics{})

	assert.True(t, w.Enqueue(sampleMessage("a", 1, time.Now())))
	assert.False(t, w.Enqueue(sampleMessage("b", 1, time.Now())), "buffer is full, Enqueue must report false")
	assert.Equal(t, int64(1), w.metrics.Enqueued.Load())
	assert.Equal(t, int64(1), w.metrics.Dropped.Load())
	assert.Equal(t, 1, w.BufferSize())
}

func TestWriter_DrainNonBlockingCollectsWithoutBlocking(t *testing.T) {
	w := New(nil, nil, Config{BatchSize: 10, FlushInterval: time.Minute, BufferCapacity: 4}, &Metrics{})

	require.True(t, w.Enqueue(sampleMessage("a", 1, time.Now())))
	require.True(t, w.Enqueue(sampleMessage("b", 1, time.Now())))

	drained := w.drainNonBlocking(nil)
	assert.Len(t, drained, 2)
	assert.Equal(t, 0, w.BufferSize())
}
