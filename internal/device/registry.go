package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/nerrad567/fleetgate/internal/audit"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder appends audit records without blocking the caller.
// Satisfied by *audit.Log.
type Recorder interface {
	Record(rec audit.Record) string
}

// Registry provides device management with caching and thread safety.
// It wraps a Repository and adds an in-memory cache for fast lookups,
// and serializes the get-or-create race in Resolve so concurrent
// registrations for the same device produce exactly one record.
//
// All public methods are thread-safe.
type Registry struct {
	repo     Repository
	auditLog Recorder
	cache    map[string]*Device // Cached devices by canonical ID
	cacheMu  sync.RWMutex       // Protects cache
	resolveG singleflight.Group // Serializes Resolve per device key
	logger   Logger
}

// NewRegistry creates a new device registry.
// The repository is used for persistence; the registry adds caching
// and registration semantics. Audit records for lifecycle events go
// through the recorder.
func NewRegistry(repo Repository, auditLog Recorder) *Registry {
	return &Registry{
		repo:     repo,
		auditLog: auditLog,
		cache:    make(map[string]*Device),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// RefreshCache reloads all devices from the repository into the cache.
// This should be called on application startup.
func (r *Registry) RefreshCache(ctx context.Context) error {
	devices, err := r.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	r.cacheMu.Lock()
	defer r.cacheMu.Unlock()

	r.cache = make(map[string]*Device, len(devices))
	for i := range devices {
		d := devices[i]
		r.cache[d.ID] = d.DeepCopy()
	}

	r.logger.Info("device cache refreshed", "count", len(devices))
	return nil
}

// Resolve finds or creates the device a registration describes.
//
// Identity resolution, in priority order:
//  1. An explicit DeviceID is authoritative. If unknown, a new record is
//     created under that ID, even when (name, type) matches an existing
//     device.
//  2. Without a DeviceID, (name, type) is the fallback key; an unknown
//     pair gets a freshly generated canonical ID.
//  3. Lacking both, a canonical ID is minted for this registration, so
//     every anonymous announcement produces its own record.
//
// Concurrent registrations for the same key are collapsed into a single
// get-or-create, so exactly one record (and one "created" audit entry)
// results. The created flag reports whether the collapsed flight made
// the record; every caller joined to that flight observes the same
// flag. The caller should hand the canonical ID back to the device.
func (r *Registry) Resolve(ctx context.Context, reg Registration) (*Device, bool, error) {
	normalizeRegistration(&reg)
	if err := validateRegistration(&reg); err != nil {
		return nil, false, err
	}
	if reg.DeviceID == "" && reg.Name == "" {
		// No identity to collapse concurrent callers on. Mint the
		// canonical ID here; the "id:" key below is then unique per
		// registration, so anonymous devices never share a flight.
		reg.DeviceID = uuid.NewString()
		reg.Name = reg.DeviceID
	}

	key := "id:" + reg.DeviceID
	if reg.DeviceID == "" {
		key = "nk:" + reg.Name + "\x00" + reg.Type
	}

	type resolved struct {
		device  *Device
		created bool
	}

	v, err, _ := r.resolveG.Do(key, func() (any, error) {
		device, err := r.lookup(ctx, reg)
		if err == nil {
			return resolved{device: device}, nil
		}
		if !errors.Is(err, ErrDeviceNotFound) {
			return nil, err
		}

		device, err = r.create(ctx, reg)
		if err != nil {
			// A racing writer outside this process may have won.
			if errors.Is(err, ErrDeviceExists) {
				device, lookupErr := r.lookup(ctx, reg)
				if lookupErr == nil {
					return resolved{device: device}, nil
				}
			}
			return nil, err
		}
		return resolved{device: device, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}

	res := v.(resolved)

	r.cacheMu.Lock()
	r.cache[res.device.ID] = res.device.DeepCopy()
	r.cacheMu.Unlock()

	return res.device.DeepCopy(), res.created, nil
}

// lookup fetches by explicit ID first, then by natural key.
func (r *Registry) lookup(ctx context.Context, reg Registration) (*Device, error) {
	if reg.DeviceID != "" {
		return r.repo.GetByID(ctx, reg.DeviceID)
	}
	return r.repo.GetByNaturalKey(ctx, reg.Name, reg.Type)
}

// create persists a new device for the registration and audits it.
func (r *Registry) create(ctx context.Context, reg Registration) (*Device, error) {
	id := reg.DeviceID
	if id == "" {
		id = uuid.NewString()
	}
	name := reg.Name
	if name == "" {
		name = id
	}

	device := &Device{
		ID:          id,
		Name:        name,
		Type:        reg.Type,
		Description: reg.Description,
	}

	if err := r.repo.Create(ctx, device); err != nil {
		return nil, err
	}

	r.auditLog.Record(audit.Record{
		Status:      audit.StatusCreated,
		DeviceID:    device.ID,
		Description: fmt.Sprintf("device %q (%s) registered", device.Name, device.Type),
	})
	r.logger.Info("device created", "device_id", device.ID, "name", device.Name, "type", device.Type)

	return device, nil
}

// GetDevice retrieves a device by canonical ID.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) GetDevice(ctx context.Context, id string) (*Device, error) {
	r.cacheMu.RLock()
	cached, ok := r.cache[id]
	r.cacheMu.RUnlock()

	if ok {
		return cached.DeepCopy(), nil
	}

	device, err := r.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	r.cacheMu.Lock()
	r.cache[id] = device.DeepCopy()
	r.cacheMu.Unlock()

	return device, nil
}

// ListDevices retrieves all devices.
// The returned devices are deep copies; callers can safely modify them.
func (r *Registry) ListDevices(ctx context.Context) ([]Device, error) {
	r.cacheMu.RLock()
	defer r.cacheMu.RUnlock()

	if len(r.cache) > 0 {
		devices := make([]Device, 0, len(r.cache))
		for _, d := range r.cache {
			devices = append(devices, *d.DeepCopy())
		}
		return devices, nil
	}

	return r.repo.List(ctx)
}

// Touch updates a device's last-seen timestamp. Called on every inbound
// message, so it deliberately produces no audit record.
func (r *Registry) Touch(ctx context.Context, id string, seen time.Time) error {
	if err := r.repo.Touch(ctx, id, seen); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[id]; ok {
		t := seen
		cached.LastSeen = &t
		cached.UpdatedAt = time.Now().UTC()
	}
	r.cacheMu.Unlock()

	return nil
}

// UpdateGroups replaces a device's group memberships and records the
// change in the audit trail.
func (r *Registry) UpdateGroups(ctx context.Context, userID, deviceID string, groupIDs []string) error {
	if err := r.repo.ReplaceGroups(ctx, deviceID, groupIDs); err != nil {
		return err
	}

	r.cacheMu.Lock()
	if cached, ok := r.cache[deviceID]; ok {
		cached.Groups = make([]string, len(groupIDs))
		copy(cached.Groups, groupIDs)
		cached.UpdatedAt = time.Now().UTC()
	}
	r.cacheMu.Unlock()

	r.auditLog.Record(audit.Record{
		Status:      audit.StatusChanged,
		UserID:      userID,
		DeviceID:    deviceID,
		Description: fmt.Sprintf("group memberships replaced (%d groups)", len(groupIDs)),
	})

	return nil
}

// DeleteDevice removes a device and records the deletion.
func (r *Registry) DeleteDevice(ctx context.Context, userID, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		return err
	}

	r.cacheMu.Lock()
	delete(r.cache, id)
	r.cacheMu.Unlock()

	r.auditLog.Record(audit.Record{
		Status:      audit.StatusDeleted,
		UserID:      userID,
		DeviceID:    id,
		Description: "device deleted",
	})

	return nil
}
