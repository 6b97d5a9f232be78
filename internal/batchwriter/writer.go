// Package batchwriter implements the Batch Writer (spec §4.8): a
// single-threaded flusher behind a bounded FIFO buffer, issuing a
// size-or-time-triggered batch insert plus a deduplicated
// user-activity upsert against PostgreSQL via GORM, and diverting the
// whole batch to the Dead-Letter Sink on any failure.
package batchwriter

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/chatfabric/fabnode/internal/dlq"
	"github.com/chatfabric/fabnode/internal/domain"
	"github.com/chatfabric/fabnode/internal/log"
)

// Config mirrors internal/config.BatchWriterConfig's three knobs.
type Config struct {
	BatchSize      int
	FlushInterval  time.Duration
	BufferCapacity int
}

// Metrics are the batchWriter{enqueued,written,batches,dropped,
// writeErrors} counters from spec §6. BufferSize is read live off the
// channel by Writer.BufferSize rather than tracked as a counter.
type Metrics struct {
	Enqueued    atomic.Int64
	Written     atomic.Int64
	Batches     atomic.Int64
	Dropped     atomic.Int64
	WriteErrors atomic.Int64
}

// Writer is the single flusher goroutine behind buffer.
type Writer struct {
	db      *gorm.DB
	sink    *dlq.Sink
	cfg     Config
	metrics *Metrics

	buffer chan domain.QueueMessage
	stop   chan struct{}
	done   chan struct{}
}

// New builds a Writer. Call Start to launch the flusher goroutine.
func New(db *gorm.DB, sink *dlq.Sink, cfg Config, metrics *Metrics) *Writer {
	return &Writer{
		db:      db,
		sink:    sink,
		cfg:     cfg,
		metrics: metrics,
		buffer:  make(chan domain.QueueMessage, cfg.BufferCapacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the single flusher goroutine.
func (w *Writer) Start() {
	go w.run()
}

// Stop signals the flusher to drain the buffer, flush the final
// partial batch, and exit, waiting up to 5s (spec §5's bounded drain
// wait) for it to finish.
func (w *Writer) Stop() {
	close(w.stop)
	select {
	case <-w.done:
	case <-time.After(5 * time.Second):
		log.L().Warn().Msg("batch writer: shutdown drain timed out")
	}
}

// Enqueue offers msg to the buffer without blocking. It returns false
// if the buffer is full; the Consumer Pool must not ack the source
// queue message in that case, so the external queue redelivers it.
func (w *Writer) Enqueue(msg domain.QueueMessage) bool {
	select {
	case w.buffer <- msg:
		w.metrics.Enqueued.Add(1)
		return true
	default:
		w.metrics.Dropped.Add(1)
		return false
	}
}

// BufferSize reports the current number of staged messages, for the
// health/metrics surface.
func (w *Writer) BufferSize() int {
	return len(w.buffer)
}

func (w *Writer) run() {
	defer close(w.done)

	pending := make([]domain.QueueMessage, 0, w.cfg.BatchSize)
	lastFlush := time.Now()

	for {
		select {
		case <-w.stop:
			pending = w.drainNonBlocking(pending)
			if len(pending) > 0 {
				w.flush(pending)
			}
			return
		case msg := <-w.buffer:
			pending = append(pending, msg)
		case <-time.After(100 * time.Millisecond):
		}

		if len(pending) >= w.cfg.BatchSize ||
			(len(pending) > 0 && time.Since(lastFlush) >= w.cfg.FlushInterval) {
			w.flush(pending)
			pending = make([]domain.QueueMessage, 0, w.cfg.BatchSize)
			lastFlush = time.Now()
		}
	}
}

func (w *Writer) drainNonBlocking(pending []domain.QueueMessage) []domain.QueueMessage {
	for {
		select {
		case msg := <-w.buffer:
			pending = append(pending, msg)
		default:
			return pending
		}
	}
}

// flush issues one batch insert and one user-activity upsert for
// batch. Any failure diverts the whole batch to the Dead-Letter Sink
// and increments write-errors (spec §4.8 step 3).
func (w *Writer) flush(batch []domain.QueueMessage) {
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := w.insertMessages(ctx, batch); err != nil {
		w.metrics.WriteErrors.Add(1)
		log.L().Error().Err(err).Int("batch_size", len(batch)).Msg("batch writer: message insert failed")
		w.deadLetter(ctx, batch, err)
		return
	}

	if err := w.upsertActivity(ctx, batch); err != nil {
		w.metrics.WriteErrors.Add(1)
		log.L().Error().Err(err).Int("batch_size", len(batch)).Msg("batch writer: user-activity upsert failed")
		w.deadLetter(ctx, batch, err)
		return
	}

	w.metrics.Written.Add(int64(len(batch)))
	w.metrics.Batches.Add(1)
}

func (w *Writer) deadLetter(ctx context.Context, batch []domain.QueueMessage, cause error) {
	for _, msg := range batch {
		if err := w.sink.Publish(ctx, msg, cause.Error()); err != nil {
			log.L().Error().Err(err).Str(log.FieldMessageID, msg.MessageID).
				Msg("batch writer: dead-letter publish failed, message lost")
		}
	}
}

func (w *Writer) insertMessages(ctx context.Context, batch []domain.QueueMessage) error {
	rows := make([]Message, len(batch))
	for i, m := range batch {
		rows[i] = Message{
			MessageID: m.MessageID,
			RoomID:    m.RoomID,
			UserID:    m.UserID,
			Username:  m.Username,
			Text:      m.Text,
			Kind:      string(m.Kind),
			ServerID:  m.OriginServerID,
			ClientIP:  m.ClientAddress,
			CreatedAt: m.ServerTimestamp,
		}
	}

	err := w.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "message_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, w.cfg.BatchSize).Error
	if err != nil {
		return fmt.Errorf("insert messages: %w", err)
	}
	return nil
}

// upsertActivity implements spec §4.8's dedup-then-sort-then-upsert
// rule: within this flush, keep only the latest record per
// (userId, roomId), sort those keys lexicographically so concurrent
// flushes acquire row locks in the same order, then issue one upsert.
func (w *Writer) upsertActivity(ctx context.Context, batch []domain.QueueMessage) error {
	rows := activityRows(batch)

	err := w.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "room_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"last_activity": gorm.Expr("GREATEST(user_activity.last_activity, EXCLUDED.last_activity)"),
				"message_count": gorm.Expr("user_activity.message_count + 1"),
			}),
		}).
		Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert user activity: %w", err)
	}
	return nil
}

// activityRows reduces a flush batch to one UserActivityRow per
// (userId, roomId) key, keeping the latest-timestamped message for
// each, and returns them sorted lexicographically by (userId, roomId)
// so that concurrent flushers acquire row locks in a consistent order
// and never deadlock against each other.
func activityRows(batch []domain.QueueMessage) []UserActivityRow {
	type key struct {
		userID string
		roomID int
	}

	latest := make(map[key]domain.QueueMessage, len(batch))
	for _, m := range batch {
		k := key{m.UserID, m.RoomID}
		if existing, ok := latest[k]; !ok || m.ServerTimestamp.After(existing.ServerTimestamp) {
			latest[k] = m
		}
	}

	keys := make([]key, 0, len(latest))
	for k := range latest {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].userID != keys[j].userID {
			return keys[i].userID < keys[j].userID
		}
		return keys[i].roomID < keys[j].roomID
	})

	rows := make([]UserActivityRow, len(keys))
	for i, k := range keys {
		m := latest[k]
		rows[i] = UserActivityRow{
			UserID:        m.UserID,
			RoomID:        m.RoomID,
			FirstActivity: m.ServerTimestamp,
			LastActivity:  m.ServerTimestamp,
			MessageCount:  1,
		}
	}
	return rows
}
