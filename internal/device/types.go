package device

import "time"

// Device represents a registered fleet device.
// This matches the database schema in migrations/20260901_000000_initial_schema.up.sql.
type Device struct {
	// Identity. ID is the canonical identifier: either carried by the
	// device's registration message or generated at first contact. It
	// never changes afterwards.
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`

	// Description is free-text operator notes.
	Description string `json:"description,omitempty"`

	// Groups holds the IDs of groups this device belongs to.
	Groups []string `json:"groups,omitempty"`

	// RegisteredAt is when the device first appeared. LastSeen is
	// updated on every inbound message.
	RegisteredAt time.Time  `json:"registered_at"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy creates a complete independent copy of the Device.
// Slice fields are cloned so modifications to the copy do not affect
// the original. This is essential for cache isolation.
func (d *Device) DeepCopy() *Device {
	if d == nil {
		return nil
	}

	cpy := *d

	if d.Groups != nil {
		cpy.Groups = make([]string, len(d.Groups))
		copy(cpy.Groups, d.Groups)
	}
	if d.LastSeen != nil {
		seen := *d.LastSeen
		cpy.LastSeen = &seen
	}

	return &cpy
}

// InGroup reports whether the device belongs to the given group ID.
func (d *Device) InGroup(groupID string) bool {
	for _, g := range d.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}

// Registration is a device's announcement of itself, decoded from the
// registration topic.
//
// DeviceID is optional; when absent the registry generates a canonical
// ID at first contact. Name falls back to DeviceID, and lacking both,
// to the generated ID.
type Registration struct {
	DeviceID       string
	Name           string
	Type           string
	Description    string
	SubscribeTopic string
}

// Group is a named collection of devices used by access policies.
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
