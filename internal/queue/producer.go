package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chatfabric/fabnode/internal/domain"
	"github.com/chatfabric/fabnode/internal/log"
)

// sqsBatchLimit is the external queue's per-call batch size (spec §4.4:
// "up to the external queue's batch limit (10 per call in the
// reference deployment)").
const sqsBatchLimit = 10

// ProducerConfig configures the Queue Producer's two modes.
type ProducerConfig struct {
	QueuePrefix  string
	FIFOEnabled  bool
	BatchEnabled bool
	BatchMaxSize int
	BatchFlushMs time.Duration
	URLRetryMs   time.Duration
}

// ProducerMetrics are the producer-side counters from spec §6.
type ProducerMetrics struct {
	MessagesPublished atomic.Int64
	MessagesFailed    atomic.Int64
	QueueMessagesSent atomic.Int64
}

// Producer delivers QueueMessages to the room-partitioned external
// queue, in single-send (default, synchronous) or micro-batch mode.
type Producer struct {
	queue    Queue
	resolver *URLResolver
	cfg      ProducerConfig
	metrics  *ProducerMetrics

	mu      sync.Mutex
	batches map[int][]Entry

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewProducer builds a Producer and, if micro-batch mode is enabled,
// starts its background flush scheduler.
func NewProducer(q Queue, cfg ProducerConfig, metrics *ProducerMetrics) *Producer {
	p := &Producer{
		queue:    q,
		resolver: NewURLResolver(q, cfg.URLRetryMs),
		cfg:      cfg,
		metrics:  metrics,
		batches:  make(map[int][]Entry),
		stop:     make(chan struct{}),
	}
	if cfg.BatchEnabled {
		p.wg.Add(1)
		go p.flushLoop()
	}
	return p
}

func (p *Producer) queueName(roomID int) string {
	return fmt.Sprintf("%s%d", p.cfg.QueuePrefix, roomID)
}

// Publish delivers msg according to the configured mode. In
// single-send mode it blocks on the network and returns the real
// outcome, which the ingress handler reflects in the ack/error
// response. In micro-batch mode it returns nil as soon as the message
// is appended to the room's in-memory batch — Open Question 3's
// decision: this ack is optimistic by design, not a guarantee the
// network send has happened.
func (p *Producer) Publish(ctx context.Context, msg domain.QueueMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	entry := Entry{Body: string(body)}
	if p.cfg.FIFOEnabled {
		entry.PartitionKey = fmt.Sprintf("%d", msg.RoomID)
		entry.DeduplicationID = msg.MessageID
	}

	if !p.cfg.BatchEnabled {
		return p.publishSingle(ctx, msg.RoomID, entry)
	}

	p.appendToBatch(msg.RoomID, entry)
	return nil
}

func (p *Producer) publishSingle(ctx context.Context, roomID int, entry Entry) error {
	url, ok := p.resolver.Resolve(ctx, p.queueName(roomID))
	if !ok {
		p.metrics.MessagesFailed.Add(1)
		return fmt.Errorf("queue url for room %d not yet known", roomID)
	}

	if err := p.queue.Send(ctx, url, entry); err != nil {
		p.metrics.MessagesFailed.Add(1)
		return err
	}

	p.metrics.MessagesPublished.Add(1)
	p.metrics.QueueMessagesSent.Add(1)
	return nil
}

func (p *Producer) appendToBatch(roomID int, entry Entry) {
	p.mu.Lock()
	p.batches[roomID] = append(p.batches[roomID], entry)
	eager := len(p.batches[roomID]) >= p.cfg.BatchMaxSize
	p.mu.Unlock()

	p.metrics.MessagesPublished.Add(1)

	if eager {
		p.flushRoom(context.Background(), roomID)
	}
}

func (p *Producer) flushLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.BatchFlushMs)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			p.flushAll(context.Background())
			return
		case <-ticker.C:
			p.flushAll(context.Background())
		}
	}
}

func (p *Producer) flushAll(ctx context.Context) {
	p.mu.Lock()
	roomIDs := make([]int, 0, len(p.batches))
	for id, entries := range p.batches {
		if len(entries) > 0 {
			roomIDs = append(roomIDs, id)
		}
	}
	p.mu.Unlock()

	for _, id := range roomIDs {
		p.flushRoom(ctx, id)
	}
}

// flushRoom drains a room's batch and sends it in chunks of at most
// sqsBatchLimit. Partial and whole-batch failures are counted and the
// failed messages are dropped (spec §4.4: "the DLQ is not used on the
// producer side").
func (p *Producer) flushRoom(ctx context.Context, roomID int) {
	p.mu.Lock()
	entries := p.batches[roomID]
	p.batches[roomID] = nil
	p.mu.Unlock()

	if len(entries) == 0 {
		return
	}

	url, ok := p.resolver.Resolve(ctx, p.queueName(roomID))
	if !ok {
		p.metrics.MessagesFailed.Add(int64(len(entries)))
		log.L().Error().Int(log.FieldRoomID, roomID).Int("count", len(entries)).
			Msg("producer: queue url unknown, dropping batch")
		return
	}

	for start := 0; start < len(entries); start += sqsBatchLimit {
		end := start + sqsBatchLimit
		if end > len(entries) {
			end = len(entries)
		}
		chunk := entries[start:end]

		result, err := p.queue.SendBatch(ctx, url, chunk)
		if err != nil {
			p.metrics.MessagesFailed.Add(int64(len(chunk)))
			log.L().Error().Err(err).Int(log.FieldRoomID, roomID).Msg("producer: batch send failed")
			continue
		}

		failed := len(result.Failed)
		if failed > 0 {
			p.metrics.MessagesFailed.Add(int64(failed))
			log.L().Warn().Int(log.FieldRoomID, roomID).Int("failed", failed).
				Msg("producer: partial batch failure, messages lost")
		}
		p.metrics.QueueMessagesSent.Add(int64(len(chunk) - failed))
	}
}

// Close stops the background flush scheduler (if running) after a
// final flush of any pending batches.
func (p *Producer) Close() {
	if p.cfg.BatchEnabled {
		close(p.stop)
		p.wg.Wait()
	}
}
