package batchwriter

import "time"

// Message is the persisted row for a single chat message. Insert is
// idempotent on MessageID (spec §6: insert-or-ignore by messageId).
type Message struct {
	MessageID string    `gorm:"column:message_id;primaryKey;size:36"`
	RoomID    int       `gorm:"column:room_id;index"`
	UserID    string    `gorm:"column:user_id;index;size:32"`
	Username  string    `gorm:"column:username;size:20"`
	Text      string    `gorm:"column:text;size:500"`
	Kind      string    `gorm:"column:kind;size:16"`
	ServerID  string    `gorm:"column:server_id;size:64"`
	ClientIP  string    `gorm:"column:client_ip;size:64"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

// TableName pins the table name so GORM doesn't pluralize "Message"
// into something ambiguous with a future "messages" view.
func (Message) TableName() string { return "messages" }

// UserActivityRow is the (userId, roomId) activity rollup upserted by
// the batch writer (spec §3's UserActivityRecord, §4.8's upsert rule).
type UserActivityRow struct {
	UserID        string    `gorm:"column:user_id;primaryKey;size:32"`
	RoomID        int       `gorm:"column:room_id;primaryKey"`
	FirstActivity time.Time `gorm:"column:first_activity"`
	LastActivity  time.Time `gorm:"column:last_activity"`
	MessageCount  int64     `gorm:"column:message_count"`
}

func (UserActivityRow) TableName() string { return "user_activity" }
