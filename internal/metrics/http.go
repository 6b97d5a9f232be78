package metrics

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chatfabric/fabnode/internal/queue"
)

// RoomDepth is one room's queue-depth reading, per spec §6's
// "per-room queue depths on request."
type RoomDepth struct {
	RoomID           int   `json:"roomId"`
	ApproxMessages   int64 `json:"approxMessages"`
	ApproxNotVisible int64 `json:"approxNotVisible"`
	ApproxDelayed    int64 `json:"approxDelayed"`
}

// Server serves the health/metrics HTTP surface (spec §6.1).
type Server struct {
	registry    *Registry
	q           queue.Queue
	resolver    *queue.URLResolver
	queuePrefix string
	rooms       []int
}

// NewServer builds a Server. resolver should share the producer's or
// consumer's URLResolver where possible to avoid a redundant
// GetQueueUrl round trip per room.
func NewServer(registry *Registry, q queue.Queue, resolver *queue.URLResolver, queuePrefix string, rooms []int) *Server {
	return &Server{registry: registry, q: q, resolver: resolver, queuePrefix: queuePrefix, rooms: rooms}
}

// RegisterRoutes wires /healthz, /metrics, and /metrics/rooms into mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/metrics/rooms", s.handleRoomDepths)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.registry.Snapshot())
}

func (s *Server) handleRoomDepths(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	depths := make([]RoomDepth, 0, len(s.rooms))

	for _, room := range s.rooms {
		name := fmt.Sprintf("%s%d", s.queuePrefix, room)
		url, ok := s.resolver.Resolve(ctx, name)
		if !ok {
			continue
		}
		attrs, err := s.q.GetAttributes(ctx, url)
		if err != nil {
			continue
		}
		depths = append(depths, RoomDepth{
			RoomID:           room,
			ApproxMessages:   attrs.ApproxMessages,
			ApproxNotVisible: attrs.ApproxNotVisible,
			ApproxDelayed:    attrs.ApproxDelayed,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(depths)
}
