// Package broadcast implements the in-process fan-out from a stored
// QueueMessage to every live session in its room.
package broadcast

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/chatfabric/fabnode/internal/domain"
	"github.com/chatfabric/fabnode/internal/session"
	"github.com/chatfabric/fabnode/internal/writeserializer"
)

// Metrics are the broadcastSuccess/broadcastFailures counters from spec §6.
type Metrics struct {
	Success  atomic.Int64
	Failures atomic.Int64
}

// Broadcaster fans a message out to a room's live sessions by calling
// directly into the Write Serializer — no transport hop, since the
// registry and serializer live in the same process (SPEC_FULL.md §1's
// process-model note). There is no gRPC fanout here, unlike the
// teacher's grpc.Server.DeliverMessage, because cross-node delivery in
// this fabric happens by every node independently consuming its own
// partitioned share of the external queue, not by one node pushing to
// another's sessions.
type Broadcaster struct {
	registry *session.Registry
	pool     *writeserializer.Pool
	metrics  *Metrics

	// ExcludeSender, when true, skips the session whose userId equals
	// the message's sender (spec §4.7's optional sender-exclusion).
	// The reference deployment leaves this false.
	ExcludeSender bool
}

// New builds a Broadcaster over the given registry and write pool.
func New(registry *session.Registry, pool *writeserializer.Pool, metrics *Metrics) *Broadcaster {
	return &Broadcaster{registry: registry, pool: pool, metrics: metrics}
}

// Broadcast serializes msg once and sends it to every live session in
// msg.RoomID's snapshot. It does not retry; delivery to a disconnected
// client is accepted loss, since the sender already received a
// synchronous ack and the message is already durably stored.
func (b *Broadcaster) Broadcast(msg domain.QueueMessage, senderUserID string) error {
	payload, err := json.Marshal(domain.FromQueueMessage(msg))
	if err != nil {
		b.metrics.Failures.Add(1)
		return fmt.Errorf("failed to marshal broadcast envelope: %w", err)
	}

	sessions := b.registry.SnapshotRoom(msg.RoomID)
	for _, s := range sessions {
		if b.ExcludeSender && senderUserID != "" && s.UserID() == senderUserID {
			continue
		}
		b.pool.Send(s, payload)
	}

	b.metrics.Success.Add(1)
	return nil
}
