// Package dlq implements the Dead-Letter Sink: a FIFO external queue,
// partitioned on a fixed "database-failures" group, that batch-insert
// failures are diverted to.
package dlq

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

// FailureEnvelope wraps a message that failed to persist.
// AttemptCount and FailureTimestamp are carried for operator visibility;
// the wire-level dedup id is messageId+timestamp, set on the Send call.
type FailureEnvelope struct {
	OriginalMessage  domain.QueueMessage `json:"originalMessage"`
	FailureReason    string              `json:"failureReason"`
	FailureTimestamp time.Time           `json:"failureTimestamp"`
	AttemptCount     int                 `json:"attemptCount"`
}

// Metrics count DLQ publishes and truly-lost messages (DLQ disabled
// or its own publish failed).
type Metrics struct {
	Published atomic.Int64
	Lost      atomic.Int64
}

// Sink publishes failure envelopes to the DLQ queue. It is not
// consumed by the core; replay is operator-driven.
type Sink struct {
	q         queue.Queue
	queueName string
	enabled   bool
	metrics   *Metrics

	mu       sync.Mutex
	url      string
	resolved bool
}

// New builds a Sink. If enabled is false, Publish logs and counts the
// message as lost without attempting any network call.
func New(q queue.Queue, queueName string, enabled bool, metrics *Metrics) *Sink {
	return &Sink{q: q, queueName: queueName, enabled: enabled, metrics: metrics}
}

// Publish wraps msg in a failure envelope and sends it to the DLQ. If
// the DLQ is disabled or the publish itself fails, the message is
// logged at error level and counted as lost.
func (s *Sink) Publish(ctx context.Context, msg domain.QueueMessage, reason string) error {
	if !s.enabled {
		s.metrics.Lost.Add(1)
		log.L().Error().Str(log.FieldMessageID, msg.MessageID).Str("reason", reason).
			Msg("dead-letter sink disabled, message lost")
		return nil
	}

	url, err := s.resolveURL(ctx)
	if err != nil {
		s.metrics.Lost.Add(1)
		log.L().Error().Err(err).Str(log.FieldMessageID, msg.MessageID).
			Msg("dead-letter queue url unresolved, message lost")
		return err
	}

	envelope := FailureEnvelope{
		OriginalMessage:  msg,
		FailureReason:    reason,
		FailureTimestamp: time.Now(),
		AttemptCount:     1,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		s.metrics.Lost.Add(1)
		return fmt.Errorf("failed to marshal dead-letter envelope: %w", err)
	}

	entry := queue.Entry{
		Body:            string(body),
		PartitionKey:    "database-failures",
		DeduplicationID: fmt.Sprintf("%s-%d", msg.MessageID, envelope.FailureTimestamp.UnixMilli()),
	}
	if err := s.q.Send(ctx, url, entry); err != nil {
		s.metrics.Lost.Add(1)
		log.L().Error().Err(err).Str(log.FieldMessageID, msg.MessageID).
			Msg("dead-letter publish failed, message lost")
		return err
	}

	s.metrics.Published.Add(1)
	return nil
}

func (s *Sink) resolveURL(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolved {
		return s.url, nil
	}

	url, err := s.q.GetURL(ctx, s.queueName)
	if err != nil {
		return "", err
	}
	s.url = url
	s.resolved = true
	return url, nil
}
