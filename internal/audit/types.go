// Package audit provides the append-only audit trail recording every
// registry change, access decision, and command delivery outcome.
package audit

import "time"

// Status classifies what an audit record describes.
//
// The set is closed: repositories reject any other value so the audit
// trail stays queryable by exact status.
type Status string

// Audit statuses.
const (
	// StatusCreated records a new entity appearing in the registry.
	StatusCreated Status = "created"

	// StatusDeleted records an entity being removed.
	StatusDeleted Status = "deleted"

	// StatusChanged records an entity mutation, such as a group
	// membership update.
	StatusChanged Status = "changed"

	// StatusAllowed records a policy granting access during evaluation.
	StatusAllowed Status = "allowed"

	// StatusDenied records a policy refusing access during evaluation.
	StatusDenied Status = "denied"

	// StatusSendOK records a device command delivered to the transport.
	StatusSendOK Status = "send-ok"

	// StatusSendFail records a device command that failed to deliver.
	StatusSendFail Status = "send-fail"
)

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusDeleted, StatusChanged,
		StatusAllowed, StatusDenied, StatusSendOK, StatusSendFail:
		return true
	}
	return false
}

// Record is a single append-only audit trail entry.
//
// UserID and DeviceID are optional; a record describing device
// registration carries no user, and some system records carry neither.
type Record struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	UserID      string    `json:"user_id,omitempty"`
	DeviceID    string    `json:"device_id,omitempty"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}
