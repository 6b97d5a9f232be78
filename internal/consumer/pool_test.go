package consumer

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatfabric/fabnode/internal/domain"
	"github.com/chatfabric/fabnode/internal/queue"
)

// fakeQueue serves one room's queued messages exactly once, then
// reports empty, following internal/queue's hand-written fake
// convention rather than a generated mock.
type fakeQueue struct {
	mu       sync.Mutex
	pending  map[string][]queue.ReceivedMessage
	deleted  []string
	receives int
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{pending: make(map[string][]queue.ReceivedMessage)}
}

func (f *fakeQueue) seed(url string, msgs ...queue.ReceivedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending[url] = append(f.pending[url], msgs...)
}

func (f *fakeQueue) GetURL(ctx context.Context, name string) (string, error) {
	return "https://sqs.example/" + name, nil
}

func (f *fakeQueue) Send(ctx context.Context, url string, entry queue.Entry) error {
	return nil
}

func (f *fakeQueue) SendBatch(ctx context.Context, url string, entries []queue.Entry) (queue.BatchResult, error) {
	return queue.BatchResult{}, nil
}

func (f *fakeQueue) Receive(ctx context.Context, url string, maxMessages int32, waitTime, visibilityTimeout time.Duration) ([]queue.ReceivedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receives++
	msgs := f.pending[url]
	delete(f.pending, url)
	return msgs, nil
}

func (f *fakeQueue) Delete(ctx context.Context, url, receiptHandle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, receiptHandle)
	return nil
}

func (f *fakeQueue) GetAttributes(ctx context.Context, url string) (queue.Attributes, error) {
	return queue.Attributes{}, nil
}

func (f *fakeQueue) deleteCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deleted)
}

type fakeBroadcaster struct {
	mu       sync.Mutex
	calls    int
	err      error
}

func (b *fakeBroadcaster) Broadcast(msg domain.QueueMessage, senderUserID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.err
}

type fakePersister struct {
	mu       sync.Mutex
	accept   bool
	enqueued []domain.QueueMessage
}

func (p *fakePersister) Enqueue(msg domain.QueueMessage) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.accept {
		return false
	}
	p.enqueued = append(p.enqueued, msg)
	return true
}

func sampleQueueMessage(room int) domain.QueueMessage {
	return domain.QueueMessage{
		MessageID:       "msg-1",
		RoomID:          room,
		UserID:          "user-1",
		Username:        "alice",
		Text:            "hello",
		ServerTimestamp: time.Now(),
		Kind:            domain.KindText,
		OriginServerID:  "node-1",
		ClientAddress:   "127.0.0.1",
	}
}

func newPool(t *testing.T, q *fakeQueue, rooms []int, broadcaster Broadcaster, writer Persister) *Pool {
	t.Helper()
	cfg := Config{
		Threads:           2,
		MaxMessages:       10,
		WaitTime:          0,
		VisibilityTimeout: time.Second,
		QueuePrefix:       "room-",
		URLRetryInterval:  time.Millisecond,
	}
	return New(q, rooms, cfg, broadcaster, writer, &Metrics{})
}

func TestPool_HandleAcksOnlyAfterPersistAccepts(t *testing.T) {
	q := newFakeQueue()
	body, err := json.Marshal(sampleQueueMessage(1))
	require.NoError(t, err)
	url := "https://sqs.example/room-1"
	q.seed(url, queue.ReceivedMessage{Body: string(body), ReceiptHandle: "handle-1"})

	broadcaster := &fakeBroadcaster{}
	writer := &fakePersister{accept: true}
	p := newPool(t, q, []int{1}, broadcaster, writer)

	n := p.pollRoom(1)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, broadcaster.calls)
	assert.Len(t, writer.enqueued, 1)
	assert.Equal(t, 1, q.deleteCount())
	assert.Equal(t, int64(1), p.metrics.Processed.Load())
}

func TestPool_HandleDoesNotAckWhenPersisterRejects(t *testing.T) {
	q := newFakeQueue()
	body, err := json.Marshal(sampleQueueMessage(1))
	require.NoError(t, err)
	url := "https://sqs.example/room-1"
	q.seed(url, queue.ReceivedMessage{Body: string(body), ReceiptHandle: "handle-1"})

	broadcaster := &fakeBroadcaster{}
	writer := &fakePersister{accept: false}
	p := newPool(t, q, []int{1}, broadcaster, writer)

	p.pollRoom(1)
	assert.Equal(t, 0, q.deleteCount())
	assert.Equal(t, int64(1), p.metrics.Failed.Load())
	assert.Equal(t, int64(0), p.metrics.Processed.Load())
}

func TestPool_HandleStillAcksWhenBroadcastFails(t *testing.T) {
	q := newFakeQueue()
	body, err := json.Marshal(sampleQueueMessage(1))
	require.NoError(t, err)
	url := "https://sqs.example/room-1"
	q.seed(url, queue.ReceivedMessage{Body: string(body), ReceiptHandle: "handle-1"})

	broadcaster := &fakeBroadcaster{err: assertError{}}
	writer := &fakePersister{accept: true}
	p := newPool(t, q, []int{1}, broadcaster, writer)

	p.pollRoom(1)
	assert.Equal(t, 1, q.deleteCount())
	assert.Equal(t, int64(1), p.metrics.Processed.Load())
}

func TestPool_HandleSkipsUndeserializableBody(t *testing.T) {
	q := newFakeQueue()
	url := "https://sqs.example/room-1"
	q.seed(url, queue.ReceivedMessage{Body: "not json", ReceiptHandle: "handle-1"})

	broadcaster := &fakeBroadcaster{}
	writer := &fakePersister{accept: true}
	p := newPool(t, q, []int{1}, broadcaster, writer)

	p.pollRoom(1)
	assert.Equal(t, 0, broadcaster.calls)
	assert.Equal(t, 0, q.deleteCount())
	assert.Equal(t, int64(1), p.metrics.Failed.Load())
}

func TestWorkerCount(t *testing.T) {
	assert.Equal(t, 0, workerCount(4, 0))
	assert.Equal(t, 2, workerCount(4, 2))
	assert.Equal(t, 4, workerCount(4, 10))
}

func TestRoundRobin_DisjointAndCovering(t *testing.T) {
	rooms := []int{1, 2, 3, 4, 5}
	buckets := roundRobin(rooms, 2)
	require.Len(t, buckets, 2)

	seen := make(map[int]int)
	for _, bucket := range buckets {
		for _, room := range bucket {
			seen[room]++
		}
	}
	for _, room := range rooms {
		assert.Equal(t, 1, seen[room], "room %d must be owned by exactly one worker", room)
	}
}

// assertError is a trivial non-nil error value for broadcast-failure tests.
type assertError struct{}

func (assertError) Error() string { return "broadcast failed" }
