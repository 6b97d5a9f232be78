// Package metrics aggregates the per-component lock-free counters
// into the read-only snapshot spec §6's health/metrics surface
// requires, and serves it (plus per-room queue depths) over HTTP.
package metrics

import (
	"github.com/chatfabric/fabnode/internal/broadcast"
	"github.com/chatfabric/fabnode/internal/consumer"
	"github.com/chatfabric/fabnode/internal/ingress"
	"github.com/chatfabric/fabnode/internal/queue"
	"github.com/chatfabric/fabnode/internal/session"
	"github.com/chatfabric/fabnode/internal/writeserializer"
)

// Registry holds a read-only reference to every component's metrics
// struct. Nothing here owns or mutates counters; it only snapshots them.
type Registry struct {
	Ingress          *ingress.Metrics
	Producer         *queue.ProducerMetrics
	Consumer         *consumer.Metrics
	Broadcast        *broadcast.Metrics
	WriteSerializer  *writeserializer.Metrics
	BatchWriter      *batchWriterMetrics
	Sessions         *session.Registry
}

// batchWriterMetrics is a small indirection so this package doesn't
// need to import the concrete *batchwriter.Writer for its BufferSize
// method — callers supply the counters and a buffer-size accessor
// separately via NewBatchWriterMetrics.
type batchWriterMetrics struct {
	enqueued, written, batches, dropped, writeErrors atomicCounter
	bufferSize                                       func() int
}

type atomicCounter interface {
	Load() int64
}

// NewBatchWriterMetrics adapts a *batchwriter.Metrics and its owning
// Writer's BufferSize method into the snapshot shape this package emits.
func NewBatchWriterMetrics(enqueued, written, batches, dropped, writeErrors atomicCounter, bufferSize func() int) *batchWriterMetrics {
	return &batchWriterMetrics{
		enqueued:    enqueued,
		written:     written,
		batches:     batches,
		dropped:     dropped,
		writeErrors: writeErrors,
		bufferSize:  bufferSize,
	}
}

// WriteSerializerSnapshot mirrors spec §6's writeSerializer sub-object.
type WriteSerializerSnapshot struct {
	Sent          int64 `json:"sent"`
	Queued        int64 `json:"queued"`
	Dropped       int64 `json:"dropped"`
	Errors        int64 `json:"errors"`
	ActiveWriters int32 `json:"activeWriters"`
}

// BatchWriterSnapshot mirrors spec §6's batchWriter sub-object.
type BatchWriterSnapshot struct {
	Enqueued    int64 `json:"enqueued"`
	Written     int64 `json:"written"`
	Batches     int64 `json:"batches"`
	Dropped     int64 `json:"dropped"`
	WriteErrors int64 `json:"writeErrors"`
	BufferSize  int   `json:"bufferSize"`
}

// Snapshot is the full JSON shape spec §6 enumerates.
type Snapshot struct {
	MessagesReceived  int64                   `json:"messagesReceived"`
	MessagesPublished int64                   `json:"messagesPublished"`
	MessagesFailed    int64                   `json:"messagesFailed"`
	AcksSent          int64                   `json:"acksSent"`
	AcksFailed        int64                   `json:"acksFailed"`
	QueueMessagesSent int64                   `json:"queueMessagesSent"`
	ConsumerProcessed int64                   `json:"consumerProcessed"`
	ConsumerFailed    int64                   `json:"consumerFailed"`
	BroadcastSuccess  int64                   `json:"broadcastSuccess"`
	BroadcastFailures int64                   `json:"broadcastFailures"`
	ActiveRooms       int                     `json:"activeRooms"`
	TotalSessions     int                     `json:"totalSessions"`
	WriteSerializer   WriteSerializerSnapshot `json:"writeSerializer"`
	BatchWriter       BatchWriterSnapshot     `json:"batchWriter"`
}

// Snapshot reads every counter once and returns a point-in-time copy.
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		MessagesReceived:  r.Ingress.MessagesReceived.Load(),
		MessagesPublished: r.Producer.MessagesPublished.Load(),
		MessagesFailed:    r.Ingress.MessagesFailed.Load() + r.Producer.MessagesFailed.Load(),
		AcksSent:          r.Ingress.AcksSent.Load(),
		AcksFailed:        r.Ingress.AcksFailed.Load(),
		QueueMessagesSent: r.Producer.QueueMessagesSent.Load(),
		ConsumerProcessed: r.Consumer.Processed.Load(),
		ConsumerFailed:    r.Consumer.Failed.Load(),
		BroadcastSuccess:  r.Broadcast.Success.Load(),
		BroadcastFailures: r.Broadcast.Failures.Load(),
		ActiveRooms:       r.Sessions.ActiveRooms(),
		TotalSessions:     r.Sessions.TotalSessions(),
		WriteSerializer: WriteSerializerSnapshot{
			Sent:          r.WriteSerializer.Sent.Load(),
			Queued:        r.WriteSerializer.Queued.Load(),
			Dropped:       r.WriteSerializer.Dropped.Load(),
			Errors:        r.WriteSerializer.Errors.Load(),
			ActiveWriters: r.WriteSerializer.ActiveWriters.Load(),
		},
		BatchWriter: BatchWriterSnapshot{
			Enqueued:    r.BatchWriter.enqueued.Load(),
			Written:     r.BatchWriter.written.Load(),
			Batches:     r.BatchWriter.batches.Load(),
			Dropped:     r.BatchWriter.dropped.Load(),
			WriteErrors: r.BatchWriter.writeErrors.Load(),
			BufferSize:  r.BatchWriter.bufferSize(),
		},
	}
}
