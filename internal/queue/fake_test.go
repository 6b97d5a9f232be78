package queue

import (
	"context"
	"sync"
	"time"
)

// fakeQueue is a hand-written fake, following mama165-chat-lab's
// convention of hand-maintained fakes over a generated mock for small
// interfaces.
type fakeQueue struct {
	mu sync.Mutex

	urls        map[string]string
	urlErr      error
	sendErr     error
	sent        []Entry
	batchesSent [][]Entry
	failIndices map[int]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{
		urls:        make(map[string]string),
		failIndices: make(map[int]bool),
	}
}

func (f *fakeQueue) GetURL(ctx context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.urlErr != nil {
		return "", f.urlErr
	}
	if url, ok := f.urls[name]; ok {
		return url, nil
	}
	return "https://sqs.example/" + name, nil
}

func (f *fakeQueue) Send(ctx context.Context, url string, entry Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, entry)
	return nil
}

func (f *fakeQueue) SendBatch(ctx context.Context, url string, entries []Entry) (BatchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return BatchResult{}, f.sendErr
	}
	f.batchesSent = append(f.batchesSent, entries)

	result := BatchResult{Failed: make(map[int]error)}
	for i := range entries {
		if f.failIndices[i] {
			result.Failed[i] = context.DeadlineExceeded
		}
	}
	return result, nil
}

func (f *fakeQueue) Receive(ctx context.Context, url string, maxMessages int32, waitTime, visibilityTimeout time.Duration) ([]ReceivedMessage, error) {
	return nil, nil
}

func (f *fakeQueue) Delete(ctx context.Context, url, receiptHandle string) error {
	return nil
}

func (f *fakeQueue) GetAttributes(ctx context.Context, url string) (Attributes, error) {
	return Attributes{}, nil
}
