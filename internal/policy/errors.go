package policy

import "errors"

// Domain errors for the policy package.
var (
	// ErrPolicyNotFound is returned when a policy ID does not exist.
	ErrPolicyNotFound = errors.New("policy: not found")

	// ErrPolicyExists is returned when creating a policy with an ID that already exists.
	ErrPolicyExists = errors.New("policy: already exists")

	// ErrInvalidPolicy is returned when a policy fails validation.
	ErrInvalidPolicy = errors.New("policy: invalid")
)
