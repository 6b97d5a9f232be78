package queue

import (
	"context"
	"sync"
	"time"
)

// URLResolver wraps Queue.GetURL with a per-name retry cooldown, so
// that a queue not yet provisioned (spec §7: "Queue URL not yet known:
// non-fatal; the room is skipped for this poll iteration and
// retried") doesn't get hammered with a lookup on every call.
type URLResolver struct {
	queue   Queue
	retryMs time.Duration

	mu        sync.Mutex
	cached    map[string]string
	nextRetry map[string]time.Time
}

// NewURLResolver builds a resolver backed by q, retrying a failed
// lookup only after retryInterval has elapsed.
func NewURLResolver(q Queue, retryInterval time.Duration) *URLResolver {
	return &URLResolver{
		queue:     q,
		retryMs:   retryInterval,
		cached:    make(map[string]string),
		nextRetry: make(map[string]time.Time),
	}
}

// Resolve returns the queue URL for name and true, or ("", false) if
// it is not currently known and is still within its retry cooldown.
func (r *URLResolver) Resolve(ctx context.Context, name string) (string, bool) {
	r.mu.Lock()
	if url, ok := r.cached[name]; ok {
		r.mu.Unlock()
		return url, true
	}
	if next, ok := r.nextRetry[name]; ok && time.Now().Before(next) {
		r.mu.Unlock()
		return "", false
	}
	r.mu.Unlock()

	url, err := r.queue.GetURL(ctx, name)
	if err != nil {
		r.mu.Lock()
		r.nextRetry[name] = time.Now().Add(r.retryMs)
		r.mu.Unlock()
		return "", false
	}

	r.mu.Lock()
	r.cached[name] = url
	delete(r.nextRetry, name)
	r.mu.Unlock()
	return url, true
}
