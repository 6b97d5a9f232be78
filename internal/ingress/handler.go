// Package ingress implements the WebSocket ingress handler described
// in spec §4.1: accept sockets at /chat/{roomId}, parse and validate
// frames, route accepted messages to the Queue Producer, and enqueue
// the synchronous ack on the session's write queue.
package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/chatfabric/fabnode/internal/config"
	"github.com/chatfabric/fabnode/internal/domain"
	"github.com/chatfabric/fabnode/internal/log"
	"github.com/chatfabric/fabnode/internal/queue"
	"github.com/chatfabric/fabnode/internal/session"
	"github.com/chatfabric/fabnode/internal/writeserializer"
)

// Metrics are the ingress-facing counters from spec §6:
// messagesReceived, messagesFailed, acksSent, acksFailed.
// messagesPublished/queueMessagesSent live on queue.ProducerMetrics,
// which the Queue Producer already owns.
type Metrics struct {
	MessagesReceived atomic.Int64
	MessagesFailed   atomic.Int64
	AcksSent         atomic.Int64
	AcksFailed       atomic.Int64
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler serves the /chat/{roomId} WebSocket endpoint.
type Handler struct {
	registry *session.Registry
	pool     *writeserializer.Pool
	producer *queue.Producer
	nodeID   string
	numRooms int
	wsCfg    config.WebSocketConfig
	queueCap int
	metrics  *Metrics
}

// NewHandler builds a Handler over the given collaborators.
func NewHandler(
	registry *session.Registry,
	pool *writeserializer.Pool,
	producer *queue.Producer,
	nodeID string,
	numRooms int,
	wsCfg config.WebSocketConfig,
	sessionQueueCapacity int,
	metrics *Metrics,
) *Handler {
	return &Handler{
		registry: registry,
		pool:     pool,
		producer: producer,
		nodeID:   nodeID,
		numRooms: numRooms,
		wsCfg:    wsCfg,
		queueCap: sessionQueueCapacity,
		metrics:  metrics,
	}
}

// RegisterRoutes wires the upgrade endpoint into mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/chat/", h.handleUpgrade)
}

func (h *Handler) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	roomID, parsed := parseRoomID(r.URL.Path)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.L().Warn().Err(err).Msg("ingress: websocket upgrade failed")
		return
	}

	if !parsed || !domain.ValidRoom(roomID, h.numRooms) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseUnsupportedData, "unknown room"))
		_ = conn.Close()
		return
	}

	conn.SetReadLimit(h.wsCfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.wsCfg.PongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(h.wsCfg.PongWait))
		return nil
	})

	wc := newWSConn(conn)
	s := domain.NewSession(uuid.New().String(), roomID, wc, h.queueCap)
	h.registry.Add(roomID, s)

	log.L().Info().Int(log.FieldRoomID, roomID).Str(log.FieldSessionID, s.ID).
		Msg("ingress: session connected")

	go h.keepalive(s, wc)
	h.readLoop(s, conn, r.RemoteAddr)
}

// parseRoomID extracts the {roomId} path segment from "/chat/{roomId}".
// It only parses the integer; room-space bounds are checked separately
// via domain.ValidRoom so the "unknown room" rejection stays a single
// code path regardless of why the id is invalid.
func parseRoomID(path string) (int, bool) {
	path = strings.TrimPrefix(path, "/chat/")
	path = strings.Trim(path, "/")
	if path == "" {
		return 0, false
	}
	id, err := strconv.Atoi(path)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (h *Handler) keepalive(s *domain.Session, wc *wsConn) {
	ticker := time.NewTicker(h.wsCfg.PingInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !s.IsLive() {
			return
		}
		if err := wc.WritePing(); err != nil {
			return
		}
	}
}

func (h *Handler) readLoop(s *domain.Session, conn *websocket.Conn, clientAddr string) {
	defer func() {
		s.Close()
		h.registry.Remove(s)
		log.L().Info().Int(log.FieldRoomID, s.RoomID).Str(log.FieldSessionID, s.ID).
			Msg("ingress: session disconnected")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.L().Warn().Str(log.FieldSessionID, s.ID).Err(err).Msg("ingress: unexpected close")
			}
			return
		}
		h.handleFrame(s, data, clientAddr)
	}
}

// handleFrame implements spec §4.1's per-frame contract: parse, then
// validate, then (on success) build a QueueMessage, submit it to the
// producer, and ack.
func (h *Handler) handleFrame(s *domain.Session, data []byte, clientAddr string) {
	var frame domain.ChatFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		h.metrics.MessagesFailed.Add(1)
		h.sendError(s, "malformed JSON", false)
		return
	}

	if err := domain.ValidateFrame(frame); err != nil {
		h.metrics.MessagesFailed.Add(1)
		h.sendError(s, err.Error(), false)
		return
	}

	h.metrics.MessagesReceived.Add(1)
	s.SetUserID(frame.UserID)

	msg := domain.QueueMessage{
		MessageID:       uuid.New().String(),
		RoomID:          s.RoomID,
		UserID:          frame.UserID,
		Username:        frame.Username,
		Text:            frame.Text,
		ServerTimestamp: time.Now().UTC(),
		Kind:            frame.Kind,
		OriginServerID:  h.nodeID,
		ClientAddress:   clientAddr,
	}

	if err := h.producer.Publish(context.Background(), msg); err != nil {
		h.sendError(s, "failed to enqueue message for delivery", true)
		return
	}

	ack := domain.AckResponse{
		Status:          "SUCCESS",
		MessageID:       msg.MessageID,
		Timestamp:       msg.ServerTimestamp,
		OriginalMessage: &frame,
	}
	h.sendAck(s, ack)
}

func (h *Handler) sendError(s *domain.Session, reason string, withTimestamp bool) {
	resp := domain.ErrorResponse{Status: "ERROR", ErrorMessage: reason}
	if withTimestamp {
		now := time.Now().UTC()
		resp.ServerTimestamp = &now
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		log.L().Error().Err(err).Msg("ingress: failed to marshal error response")
		return
	}
	h.pool.Send(s, payload)
}

func (h *Handler) sendAck(s *domain.Session, ack domain.AckResponse) {
	payload, err := json.Marshal(ack)
	if err != nil {
		h.metrics.AcksFailed.Add(1)
		log.L().Error().Err(err).Msg("ingress: failed to marshal ack response")
		return
	}
	h.pool.Send(s, payload)
	h.metrics.AcksSent.Add(1)
}
