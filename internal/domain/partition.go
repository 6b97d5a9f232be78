package domain

import "time"

// PartitionAssignment is the pure-function result of (nodeId,
// sortedNodeList) -> owned rooms, recomputed at startup and on config
// reload. It carries the inputs alongside the result so callers can
// detect whether a recompute actually changed anything.
type PartitionAssignment struct {
	NodeID       string
	SortedNodes  []string
	OwnedRooms   []int
	Partitioned  bool // false when partitioning is disabled or nodeId is unknown
}

// UserActivityRecord is the derived (userId, roomId) -> activity
// aggregate upserted by the batch writer. FirstActivity is set only on
// insert; LastActivity and MessageCount are monotonically
// non-decreasing across upserts.
type UserActivityRecord struct {
	UserID        string
	RoomID        int
	FirstActivity time.Time
	LastActivity  time.Time
	MessageCount  int64
}
