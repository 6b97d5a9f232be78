package domain

import "sync/atomic"

// Conn abstracts the underlying socket write so the write serializer
// depends only on this interface, not on a specific transport library.
type Conn interface {
	WriteMessage(data []byte) error
	Close() error
}

// Session is a single live WebSocket connection. RoomID is assigned
// once at construction (from the upgrade path) and never changes.
// Queue and WIP back the write serializer's per-session drain-task
// protocol (spec §4.3); they are exported so that package writeserializer
// can operate on them directly without a dependency cycle.
type Session struct {
	ID     string
	RoomID int
	Conn   Conn

	Queue chan []byte
	WIP   atomic.Int32

	live   atomic.Bool
	userID atomic.Value // holds string; set from the frames the session sends
}

// NewSession constructs a live session bound to roomID with a bounded
// outbound queue of the given capacity.
func NewSession(id string, roomID int, conn Conn, queueCapacity int) *Session {
	s := &Session{
		ID:     id,
		RoomID: roomID,
		Conn:   conn,
		Queue:  make(chan []byte, queueCapacity),
	}
	s.live.Store(true)
	return s
}

// IsLive reports whether the session is still considered open by the
// registry. The authoritative liveness signal is the socket itself;
// this flag exists so other components can skip work for a session
// that has already been pruned.
func (s *Session) IsLive() bool {
	return s.live.Load()
}

// Close marks the session dead and closes the underlying connection.
// Safe to call more than once; only the first call has effect.
func (s *Session) Close() {
	if s.live.CompareAndSwap(true, false) {
		_ = s.Conn.Close()
	}
}

// SetUserID records the userId of the last frame this session sent,
// so the Broadcaster can exclude it when sender-exclusion is enabled.
func (s *Session) SetUserID(userID string) {
	s.userID.Store(userID)
}

// UserID returns the userId last recorded via SetUserID, or "" if none.
func (s *Session) UserID() string {
	v, _ := s.userID.Load().(string)
	return v
}
