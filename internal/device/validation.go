package device

import (
	"fmt"
	"strings"
)

// Validation constants.
const (
	maxNameLength = 100
	maxTypeLength = 50
)

// normalizeRegistration trims whitespace and fills identity fallbacks.
// Name falls back to DeviceID; Type falls back to "unknown" so a sparse
// registration still produces a usable record.
func normalizeRegistration(reg *Registration) {
	reg.DeviceID = strings.TrimSpace(reg.DeviceID)
	reg.Name = strings.TrimSpace(reg.Name)
	reg.Type = strings.TrimSpace(reg.Type)

	if reg.Name == "" {
		reg.Name = reg.DeviceID
	}
	if reg.Type == "" {
		reg.Type = "unknown"
	}
}

// validateRegistration checks field constraints after normalization.
func validateRegistration(reg *Registration) error {
	if len(reg.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidName, maxNameLength)
	}
	if len(reg.Type) > maxTypeLength {
		return fmt.Errorf("%w: type exceeds %d characters", ErrInvalidType, maxTypeLength)
	}
	return nil
}
