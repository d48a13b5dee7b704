package policy

import (
	"fmt"

	"github.com/nerrad567/fleetgate/internal/audit"
	"github.com/nerrad567/fleetgate/internal/device"
)

// Source supplies the policies to evaluate, in deterministic order.
// Satisfied by *Store.
type Source interface {
	Policies() []Policy
}

// Logger is the minimal logging interface the engine needs.
type Logger interface {
	Debug(msg string, args ...any)
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}

// Engine is the access control decision engine.
//
// Evaluate is a pure read over the policy source plus the supplied
// user/device snapshot. It performs no I/O beyond audit submission,
// and audit submission never blocks or fails the decision.
type Engine struct {
	source   Source
	auditLog Recorder
	logger   Logger
}

// NewEngine creates a decision engine.
func NewEngine(source Source, auditLog Recorder) *Engine {
	return &Engine{
		source:   source,
		auditLog: auditLog,
		logger:   nopLogger{},
	}
}

// SetLogger sets the logger for the engine.
func (e *Engine) SetLogger(logger Logger) {
	e.logger = logger
}

// Evaluate decides whether user may interact with dev under the given
// request context.
//
// Policies are checked in ascending ID order and the first fully
// allowing policy wins (logical OR). Each policy runs up to four
// checks, in order:
//
//  1. Role intersection: the user must hold at least one allowed role.
//     An empty AllowedRoles set therefore denies everyone.
//  2. Group intersection: when the policy names allowed groups, the
//     device must belong to one of them.
//  3. Context match: for every condition key also present in reqCtx,
//     the supplied value must equal the required value, unless the
//     user's own attribute bag overrides the key with a matching value.
//  4. Attribute match: every condition key must be satisfied by the
//     user's attribute bag (absent counts as non-matching).
//
// Every policy check writes one audit record, pass or fail, followed by
// exactly one terminal record for the overall decision. A nil reqCtx is
// treated as an empty map. Evaluate always resolves to allow or deny;
// it never returns an error.
func (e *Engine) Evaluate(user User, dev *device.Device, reqCtx map[string]string) Decision {
	if reqCtx == nil {
		reqCtx = map[string]string{}
	}

	deviceID := ""
	if dev != nil {
		deviceID = dev.ID
	}

	lastReason := ReasonNoPolicyMatched
	for _, p := range e.source.Policies() {
		reason, ok := checkPolicy(&p, user, dev, reqCtx)
		if ok {
			e.auditLog.Record(audit.Record{
				Status:      audit.StatusAllowed,
				UserID:      user.ID,
				DeviceID:    deviceID,
				Description: fmt.Sprintf("policy %q (%s): %s", p.Name, p.ID, ReasonPolicyMatched),
			})
			e.auditLog.Record(audit.Record{
				Status:      audit.StatusAllowed,
				UserID:      user.ID,
				DeviceID:    deviceID,
				Description: fmt.Sprintf("access allowed by policy %s", p.ID),
			})
			e.logger.Debug("access allowed",
				"user_id", user.ID, "device_id", deviceID, "policy_id", p.ID)
			return Decision{Allowed: true, MatchedPolicy: p.ID, Reason: ReasonPolicyMatched}
		}

		lastReason = reason
		e.auditLog.Record(audit.Record{
			Status:      audit.StatusDenied,
			UserID:      user.ID,
			DeviceID:    deviceID,
			Description: fmt.Sprintf("policy %q (%s): %s", p.Name, p.ID, reason),
		})
	}

	e.auditLog.Record(audit.Record{
		Status:      audit.StatusDenied,
		UserID:      user.ID,
		DeviceID:    deviceID,
		Description: fmt.Sprintf("access denied: %s", lastReason),
	})
	e.logger.Debug("access denied",
		"user_id", user.ID, "device_id", deviceID, "reason", lastReason)
	return Decision{Allowed: false, Reason: lastReason}
}

// checkPolicy runs the per-policy stages. It returns ok=true when every
// stage passes, otherwise the reason for the first failing stage.
func checkPolicy(p *Policy, user User, dev *device.Device, reqCtx map[string]string) (string, bool) {
	if !intersects(user.Roles, p.AllowedRoles) {
		return ReasonRoleMismatch, false
	}

	if len(p.AllowedGroups) > 0 {
		if dev == nil || !intersects(dev.Groups, p.AllowedGroups) {
			return ReasonGroupMismatch, false
		}
	}

	for key, required := range p.Conditions {
		supplied, inCtx := reqCtx[key]
		if !inCtx {
			continue
		}
		if supplied != required && user.Attributes[key] != required {
			return ReasonContextMismatch, false
		}
	}

	for key, required := range p.Conditions {
		if user.Attributes[key] != required {
			return ReasonAttributeMismatch, false
		}
	}

	return "", true
}

// intersects reports whether the two string sets share any element.
func intersects(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}
