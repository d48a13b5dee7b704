// Package policy provides the policy store and the access control
// decision engine for Fleetgate.
//
// Policies combine RBAC (allowed roles, allowed device groups) with
// ABAC conditions (key/value facts about the user and request context).
// The engine evaluates every policy in deterministic order and grants
// access if any single policy fully allows, auditing each check.
package policy

import "time"

// Policy is one access rule. A user gains access to a device if any
// policy passes all of its checks.
//
// Invariant: a policy with an empty AllowedRoles set never matches.
// The role intersection test is mandatory, so "no roles configured"
// denies everyone rather than allowing everyone.
type Policy struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// AllowedRoles is matched against the user's role names.
	AllowedRoles []string `json:"allowed_roles"`

	// AllowedGroups, when non-empty, additionally requires the target
	// device to belong to at least one of these group IDs.
	AllowedGroups []string `json:"allowed_groups,omitempty"`

	// Conditions maps attribute keys to required values. Every key must
	// be satisfied by the user's attribute bag; the request context can
	// participate per the engine's context-match stage.
	Conditions map[string]string `json:"conditions,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DeepCopy returns an independent copy of the policy. Mutating the
// returned slices or condition map does not affect the original.
func (p *Policy) DeepCopy() *Policy {
	if p == nil {
		return nil
	}

	cpy := *p
	if p.AllowedRoles != nil {
		cpy.AllowedRoles = append([]string(nil), p.AllowedRoles...)
	}
	if p.AllowedGroups != nil {
		cpy.AllowedGroups = append([]string(nil), p.AllowedGroups...)
	}
	if p.Conditions != nil {
		cpy.Conditions = make(map[string]string, len(p.Conditions))
		for k, v := range p.Conditions {
			cpy.Conditions[k] = v
		}
	}
	return &cpy
}

// User is the identity snapshot supplied by the external auth layer.
// The core never authenticates users; it only reads this.
type User struct {
	ID         string            `json:"id"`
	Roles      []string          `json:"roles"`
	Attributes map[string]string `json:"attributes,omitempty"`

	// AllowedGroups lists group IDs the user may address. Unused by the
	// base algorithm but carried for policies that scope by group.
	AllowedGroups []string `json:"allowed_groups,omitempty"`
}

// Decision is the outcome of evaluating a (user, device, context) triple.
type Decision struct {
	Allowed bool `json:"allowed"`

	// MatchedPolicy is the ID of the first policy that allowed, empty
	// on deny.
	MatchedPolicy string `json:"matched_policy,omitempty"`

	// Reason explains the outcome: the failing stage of the last policy
	// checked on deny, or "policy matched" on allow.
	Reason string `json:"reason"`
}

// Per-stage denial reasons. These appear verbatim in audit record
// descriptions and Decision.Reason.
const (
	ReasonRoleMismatch      = "role mismatch"
	ReasonGroupMismatch     = "group mismatch"
	ReasonContextMismatch   = "context mismatch"
	ReasonAttributeMismatch = "attribute mismatch"
	ReasonPolicyMatched     = "policy matched"
	ReasonNoPolicyMatched   = "no policy matched"
)
