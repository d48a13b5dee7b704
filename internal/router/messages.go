package router

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// InboundMessage is one payload received from a device's data topic.
// Append-only; the core never mutates or deletes stored messages.
type InboundMessage struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	Topic      string    `json:"topic"`
	Payload    []byte    `json:"payload"`
	ReceivedAt time.Time `json:"received_at"`
}

// MessageRepository defines the interface for inbound message persistence.
type MessageRepository interface {
	// Insert appends a message. The ID and ReceivedAt are generated if empty.
	Insert(ctx context.Context, msg *InboundMessage) error

	// ListByDevice returns the most recent messages for a device,
	// newest first. Limit defaults to 5 and is capped at 100.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]InboundMessage, error)
}

// SQLiteMessageRepository implements MessageRepository using SQLite.
type SQLiteMessageRepository struct {
	db *sql.DB
}

// NewSQLiteMessageRepository creates a new message repository.
func NewSQLiteMessageRepository(db *sql.DB) *SQLiteMessageRepository {
	return &SQLiteMessageRepository{db: db}
}

// Insert appends a message.
func (r *SQLiteMessageRepository) Insert(ctx context.Context, msg *InboundMessage) error {
	if msg.ID == "" {
		msg.ID = "msg-" + uuid.NewString()[:8]
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO messages (id, device_id, topic, payload, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.DeviceID, msg.Topic, string(msg.Payload),
		msg.ReceivedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// ListByDevice returns the most recent messages for a device, newest first.
func (r *SQLiteMessageRepository) ListByDevice(ctx context.Context, deviceID string, limit int) ([]InboundMessage, error) {
	if limit <= 0 {
		limit = 5
	}
	if limit > 100 { //nolint:mnd // max page size for message queries
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, device_id, topic, payload, received_at FROM messages
		 WHERE device_id = ? ORDER BY received_at DESC, id DESC LIMIT ?`,
		deviceID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []InboundMessage
	for rows.Next() {
		var msg InboundMessage
		var payload, receivedAt string

		if err := rows.Scan(&msg.ID, &msg.DeviceID, &msg.Topic, &payload, &receivedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Payload = []byte(payload)

		t, err := time.Parse(time.RFC3339Nano, receivedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing message timestamp %q: %w", receivedAt, err)
		}
		msg.ReceivedAt = t

		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}
