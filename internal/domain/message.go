package domain

import "time"

// Kind is the message classification shared by ChatFrame and QueueMessage.
type Kind string

const (
	KindText  Kind = "TEXT"
	KindJoin  Kind = "JOIN"
	KindLeave Kind = "LEAVE"
)

// Valid reports whether k is one of the recognised kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindJoin, KindLeave:
		return true
	default:
		return false
	}
}

// ChatFrame is the client->server inbound frame, parsed from the raw
// JSON text message. It is immutable once constructed by the ingress
// parser.
type ChatFrame struct {
	UserID          string `json:"userId"`
	Username        string `json:"username"`
	Text            string `json:"message"`
	ClientTimestamp string `json:"timestamp"`
	Kind            Kind   `json:"messageType"`
}

// QueueMessage is the internal representation that also serialises
// onto the external queue and into broadcast envelopes.
type QueueMessage struct {
	MessageID       string    `json:"messageId"`
	RoomID          int       `json:"roomId"`
	UserID          string    `json:"userId"`
	Username        string    `json:"username"`
	Text            string    `json:"message"`
	ServerTimestamp time.Time `json:"timestamp"`
	Kind            Kind      `json:"messageType"`
	OriginServerID  string    `json:"serverId"`
	ClientAddress   string    `json:"clientIp"`
}

// AckResponse is sent to the originating session once its message has
// been accepted for ordered delivery. Acceptance is node-local; it
// does not imply downstream fanout has happened yet.
type AckResponse struct {
	Status          string     `json:"status"`
	MessageID       string     `json:"messageId"`
	Timestamp       time.Time  `json:"timestamp"`
	OriginalMessage *ChatFrame `json:"originalMessage"`
}

// ErrorResponse is sent to the originating session when a frame is
// rejected, or when producing to the external queue fails in
// single-send mode. ServerTimestamp is optional and only populated for
// producer-failure errors, matching the two wire shapes spec.md §6
// allows for ERROR responses.
type ErrorResponse struct {
	Status          string     `json:"status"`
	ServerTimestamp *time.Time `json:"serverTimestamp,omitempty"`
	ErrorMessage    string     `json:"errorMessage"`
}

// BroadcastEnvelope is fanned out to every live session in the room.
// It intentionally carries no "status" field, so it cannot be mistaken
// for an AckResponse or ErrorResponse on the wire.
type BroadcastEnvelope struct {
	MessageID string    `json:"messageId"`
	RoomID    int       `json:"roomId"`
	UserID    string    `json:"userId"`
	Username  string    `json:"username"`
	Text      string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"messageType"`
	ServerID  string    `json:"serverId"`
	ClientIP  string    `json:"clientIp"`
}

// FromQueueMessage builds the broadcast wire shape for a stored message.
func FromQueueMessage(m QueueMessage) BroadcastEnvelope {
	return BroadcastEnvelope{
		MessageID: m.MessageID,
		RoomID:    m.RoomID,
		UserID:    m.UserID,
		Username:  m.Username,
		Text:      m.Text,
		Timestamp: m.ServerTimestamp,
		Kind:      m.Kind,
		ServerID:  m.OriginServerID,
		ClientIP:  m.ClientAddress,
	}
}
