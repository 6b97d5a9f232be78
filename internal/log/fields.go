package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Chat fabric domain fields
	FieldRoomID    = "room_id"
	FieldSessionID = "session_id"
	FieldMessageID = "message_id"
	FieldUserID    = "user_id"
	FieldNodeID    = "node_id"

	// Service
	FieldService = "service"
)
