// Package consumer implements the Consumer Pool (spec §4.6): a
// fixed-size worker pool that long-polls this node's assigned room
// partitions, hands received messages to the Broadcaster and the
// Batch Writer, and acknowledges (deletes) only once the batch writer
// has accepted the message.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatfabric/fabnode/internal/domain"
	"github.com/chatfabric/fabnode/internal/log"
	"github.com/chatfabric/fabnode/internal/queue"
)

// Broadcaster delivers a persisted room message to this node's
// connected sessions. Satisfied by *broadcast.Broadcaster.
type Broadcaster interface {
	Broadcast(msg domain.QueueMessage, senderUserID string) error
}

// Persister stages a message for the Batch Writer's flush. Satisfied
// by *batchwriter.Writer.
type Persister interface {
	Enqueue(msg domain.QueueMessage) bool
}

// Config mirrors internal/config.ConsumerConfig plus the queue naming
// and URL-retry knobs the pool's own resolver needs.
type Config struct {
	Threads           int
	MaxMessages       int32
	WaitTime          time.Duration
	VisibilityTimeout time.Duration
	QueuePrefix       string
	URLRetryInterval  time.Duration
}

// Metrics are the consumerProcessed/consumerFailed counters from spec §6.
type Metrics struct {
	Processed atomic.Int64
	Failed    atomic.Int64
}

// Pool long-polls this node's assigned rooms with a fixed-size worker
// pool of size min(configured threads, len(rooms)); rooms are
// distributed round-robin so each worker owns a disjoint subset and
// polls it in a rotating loop (spec §4.6).
type Pool struct {
	q           queue.Queue
	resolver    *queue.URLResolver
	broadcaster Broadcaster
	writer      Persister
	cfg         Config
	metrics     *Metrics
	buckets     [][]int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Pool over rooms (this node's partition assignment).
// Call Start to launch its workers.
func New(q queue.Queue, rooms []int, cfg Config, broadcaster Broadcaster, writer Persister, metrics *Metrics) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		q:           q,
		resolver:    queue.NewURLResolver(q, cfg.URLRetryInterval),
		broadcaster: broadcaster,
		writer:      writer,
		cfg:         cfg,
		metrics:     metrics,
		buckets:     roundRobin(rooms, workerCount(cfg.Threads, len(rooms))),
		ctx:         ctx,
		cancel:      cancel,
	}
}

func workerCount(threads, numRooms int) int {
	if numRooms == 0 {
		return 0
	}
	if threads < numRooms {
		return threads
	}
	return numRooms
}

func roundRobin(rooms []int, workers int) [][]int {
	if workers == 0 {
		return nil
	}
	buckets := make([][]int, workers)
	for i, room := range rooms {
		idx := i % workers
		buckets[idx] = append(buckets[idx], room)
	}
	return buckets
}

// Start launches one goroutine per non-empty worker bucket. A no-op
// if this node owns no rooms.
func (p *Pool) Start() {
	for _, bucket := range p.buckets {
		if len(bucket) == 0 {
			continue
		}
		p.wg.Add(1)
		go p.worker(bucket)
	}
}

// Stop signals all workers to exit after their current receive call
// and waits for them to finish.
func (p *Pool) Stop() {
	p.cancel()
	p.wg.Wait()
}

// worker polls rooms in a rotating loop, sleeping briefly only when an
// entire pass produced nothing (spec §4.6 step 3).
func (p *Pool) worker(rooms []int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}

		progressed := false
		for _, room := range rooms {
			select {
			case <-p.ctx.Done():
				return
			default:
			}

			if p.pollRoom(room) > 0 {
				progressed = true
			}
		}

		if !progressed {
			select {
			case <-time.After(100 * time.Millisecond):
			case <-p.ctx.Done():
				return
			}
		}
	}
}

func (p *Pool) pollRoom(room int) int {
	name := fmt.Sprintf("%s%d", p.cfg.QueuePrefix, room)
	url, ok := p.resolver.Resolve(p.ctx, name)
	if !ok {
		return 0
	}

	msgs, err := p.q.Receive(p.ctx, url, p.cfg.MaxMessages, p.cfg.WaitTime, p.cfg.VisibilityTimeout)
	if err != nil {
		if p.ctx.Err() == nil {
			log.L().Warn().Int(log.FieldRoomID, room).Err(err).Msg("consumer: receive failed")
		}
		return 0
	}

	for _, m := range msgs {
		p.handle(room, url, m)
	}
	return len(msgs)
}

// handle implements spec §4.6 step 2: deserialize, broadcast
// best-effort, persist, and ack only on persist acceptance. Any
// exception along the way (deserialize failure, buffer overflow)
// leaves the message un-acked so the external queue redelivers it
// after its visibility timeout.
func (p *Pool) handle(room int, url string, m queue.ReceivedMessage) {
	var msg domain.QueueMessage
	if err := json.Unmarshal([]byte(m.Body), &msg); err != nil {
		p.metrics.Failed.Add(1)
		log.L().Error().Int(log.FieldRoomID, room).Err(err).Msg("consumer: failed to deserialize queue message")
		return
	}

	if err := p.broadcaster.Broadcast(msg, msg.UserID); err != nil {
		log.L().Warn().Str(log.FieldMessageID, msg.MessageID).Err(err).
			Msg("consumer: broadcast failed, message still persisted")
	}

	if !p.writer.Enqueue(msg) {
		p.metrics.Failed.Add(1)
		return
	}

	if err := p.q.Delete(p.ctx, url, m.ReceiptHandle); err != nil {
		log.L().Error().Str(log.FieldMessageID, msg.MessageID).Err(err).
			Msg("consumer: failed to delete acked message")
		return
	}

	p.metrics.Processed.Add(1)
}
