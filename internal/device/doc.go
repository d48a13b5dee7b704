// Package device provides the Device Registry for Fleetgate.
//
// The Device Registry is the catalogue of every device that has ever
// announced itself to the fleet. It manages device lifecycle (created on
// first registration, last-seen on every message, group membership
// changes), the group catalogue that access policies reference, and
// serializes the get-or-create race so concurrent registrations for the
// same device produce exactly one record.
//
// # Key Types
//
//   - Device: a registered fleet device with its group memberships
//   - Registration: a device's self-announcement from the wire
//   - Group: a named device collection referenced by access policies
//   - Registry: cached, thread-safe registry with Resolve/Touch semantics
//   - Repository / GroupRepository: SQLite persistence interfaces
//
// # Usage
//
//	registry := device.NewRegistry(repo, auditLog)
//	dev, created, err := registry.Resolve(ctx, device.Registration{
//	    DeviceID: "7f3c92e1",
//	    Type:     "thermometer",
//	})
package device
