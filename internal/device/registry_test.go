package device

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/fleetgate/internal/audit"
)

// MockRepository is a test implementation of Repository.
type MockRepository struct {
	mu      sync.Mutex
	devices map[string]*Device
	// createDelay widens the get-or-create race window for concurrency tests.
	createDelay time.Duration
	// For testing error paths
	createErr error
	touchErr  error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		devices: make(map[string]*Device),
	}
}

func (m *MockRepository) GetByID(_ context.Context, id string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if d, ok := m.devices[id]; ok {
		return d.DeepCopy(), nil
	}
	return nil, ErrDeviceNotFound
}

func (m *MockRepository) GetByNaturalKey(_ context.Context, name, deviceType string) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *Device
	for _, d := range m.devices {
		if d.Name == name && d.Type == deviceType {
			if oldest == nil || d.CreatedAt.Before(oldest.CreatedAt) {
				oldest = d
			}
		}
	}
	if oldest == nil {
		return nil, ErrDeviceNotFound
	}
	return oldest.DeepCopy(), nil
}

func (m *MockRepository) List(_ context.Context) ([]Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	devices := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, *d.DeepCopy())
	}
	return devices, nil
}

func (m *MockRepository) Create(_ context.Context, device *Device) error {
	if m.createDelay > 0 {
		time.Sleep(m.createDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.devices[device.ID]; ok {
		return ErrDeviceExists
	}

	now := time.Now().UTC()
	if device.RegisteredAt.IsZero() {
		device.RegisteredAt = now
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now
	m.devices[device.ID] = device.DeepCopy()
	return nil
}

func (m *MockRepository) Touch(_ context.Context, id string, seen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.touchErr != nil {
		return m.touchErr
	}
	d, ok := m.devices[id]
	if !ok {
		return ErrDeviceNotFound
	}
	t := seen
	d.LastSeen = &t
	return nil
}

func (m *MockRepository) ReplaceGroups(_ context.Context, deviceID string, groupIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.devices[deviceID]
	if !ok {
		return ErrDeviceNotFound
	}
	d.Groups = make([]string, len(groupIDs))
	copy(d.Groups, groupIDs)
	return nil
}

func (m *MockRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.devices[id]; !ok {
		return ErrDeviceNotFound
	}
	delete(m.devices, id)
	return nil
}

func (m *MockRepository) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.devices)
}

// recordingAudit captures audit records handed to the registry.
type recordingAudit struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *recordingAudit) Record(rec audit.Record) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if rec.ID == "" {
		rec.ID = fmt.Sprintf("aud-%d", len(a.records))
	}
	a.records = append(a.records, rec)
	return rec.ID
}

func (a *recordingAudit) byStatus(status audit.Status) []audit.Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Record
	for _, rec := range a.records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}

func TestRegistry_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("creates device on first contact with explicit ID", func(t *testing.T) {
		repo := NewMockRepository()
		auditLog := &recordingAudit{}
		registry := NewRegistry(repo, auditLog)

		dev, created, err := registry.Resolve(ctx, Registration{DeviceID: "sensor-01", Type: "thermometer"})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !created {
			t.Error("created = false, want true")
		}
		if dev.ID != "sensor-01" {
			t.Errorf("ID = %q, want sensor-01", dev.ID)
		}
		if dev.Name != "sensor-01" {
			t.Errorf("Name = %q, want fallback to device ID", dev.Name)
		}

		createdRecs := auditLog.byStatus(audit.StatusCreated)
		if len(createdRecs) != 1 {
			t.Fatalf("created audit records = %d, want 1", len(createdRecs))
		}
		if createdRecs[0].DeviceID != "sensor-01" {
			t.Errorf("audit DeviceID = %q, want sensor-01", createdRecs[0].DeviceID)
		}
	})

	t.Run("second resolve reuses the record", func(t *testing.T) {
		repo := NewMockRepository()
		auditLog := &recordingAudit{}
		registry := NewRegistry(repo, auditLog)

		first, _, err := registry.Resolve(ctx, Registration{DeviceID: "sensor-01", Type: "thermometer"})
		if err != nil {
			t.Fatalf("first Resolve() error = %v", err)
		}
		second, created, err := registry.Resolve(ctx, Registration{DeviceID: "sensor-01", Type: "thermometer"})
		if err != nil {
			t.Fatalf("second Resolve() error = %v", err)
		}

		if created {
			t.Error("created = true on second resolve, want false")
		}
		if second.ID != first.ID {
			t.Errorf("ID = %q, want %q", second.ID, first.ID)
		}
		if repo.count() != 1 {
			t.Errorf("device count = %d, want 1", repo.count())
		}
		if got := len(auditLog.byStatus(audit.StatusCreated)); got != 1 {
			t.Errorf("created audit records = %d, want 1", got)
		}
	})

	t.Run("generates canonical ID when registration has none", func(t *testing.T) {
		repo := NewMockRepository()
		registry := NewRegistry(repo, &recordingAudit{})

		dev, created, err := registry.Resolve(ctx, Registration{Name: "gate-cam", Type: "camera"})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !created {
			t.Error("created = false, want true")
		}
		if dev.ID == "" {
			t.Error("ID empty, want generated canonical ID")
		}
		if dev.ID == "gate-cam" {
			t.Error("ID should be generated, not the name")
		}

		// Same natural key resolves to the same record.
		again, created, err := registry.Resolve(ctx, Registration{Name: "gate-cam", Type: "camera"})
		if err != nil {
			t.Fatalf("second Resolve() error = %v", err)
		}
		if created {
			t.Error("created = true on second resolve, want false")
		}
		if again.ID != dev.ID {
			t.Errorf("ID = %q, want %q", again.ID, dev.ID)
		}
	})

	t.Run("explicit ID wins over natural key collision", func(t *testing.T) {
		repo := NewMockRepository()
		registry := NewRegistry(repo, &recordingAudit{})

		first, _, err := registry.Resolve(ctx, Registration{Name: "sensor-01", Type: "thermometer"})
		if err != nil {
			t.Fatalf("first Resolve() error = %v", err)
		}

		// Same (name, type), but now with an explicit unknown ID.
		second, created, err := registry.Resolve(ctx, Registration{
			DeviceID: "sensor-01", Name: "sensor-01", Type: "thermometer",
		})
		if err != nil {
			t.Fatalf("second Resolve() error = %v", err)
		}
		if !created {
			t.Error("created = false, want a new record for the explicit ID")
		}
		if second.ID == first.ID {
			t.Error("explicit ID resolved to the natural-key record, want a separate record")
		}
		if repo.count() != 2 {
			t.Errorf("device count = %d, want 2", repo.count())
		}
	})

	t.Run("mints a canonical ID when the registration has no identity", func(t *testing.T) {
		repo := NewMockRepository()
		registry := NewRegistry(repo, &recordingAudit{})

		first, created, err := registry.Resolve(ctx, Registration{Type: "thermometer"})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if !created {
			t.Error("created = false, want true for an anonymous registration")
		}
		if first.ID == "" {
			t.Fatal("ID is empty, want a generated canonical ID")
		}
		if first.Name != first.ID {
			t.Errorf("Name = %q, want the generated ID %q", first.Name, first.ID)
		}
		if first.Type != "thermometer" {
			t.Errorf("Type = %q, want thermometer", first.Type)
		}

		// A second anonymous registration is a distinct device, not a
		// lookup of the first.
		second, created, err := registry.Resolve(ctx, Registration{Type: "thermometer"})
		if err != nil {
			t.Fatalf("second Resolve() error = %v", err)
		}
		if !created {
			t.Error("created = false, want a fresh record per anonymous registration")
		}
		if second.ID == first.ID {
			t.Error("second anonymous registration resolved to the first record")
		}
		if repo.count() != 2 {
			t.Errorf("device count = %d, want 2", repo.count())
		}
	})

	t.Run("rejects oversized name", func(t *testing.T) {
		registry := NewRegistry(NewMockRepository(), &recordingAudit{})

		long := make([]byte, maxNameLength+1)
		for i := range long {
			long[i] = 'x'
		}
		_, _, err := registry.Resolve(ctx, Registration{Name: string(long), Type: "thermometer"})
		if !errors.Is(err, ErrInvalidName) {
			t.Fatalf("Resolve() error = %v, want ErrInvalidName", err)
		}
	})
}

// TestRegistry_ResolveConcurrent verifies the get-or-create race: N
// parallel registrations for the same key must produce exactly one
// record and one "created" audit entry.
func TestRegistry_ResolveConcurrent(t *testing.T) {
	const n = 32

	repo := NewMockRepository()
	repo.createDelay = 5 * time.Millisecond
	auditLog := &recordingAudit{}
	registry := NewRegistry(repo, auditLog)

	ctx := context.Background()
	ids := make([]string, n)
	errs := make([]error, n)

	var start, done sync.WaitGroup
	start.Add(1)
	done.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer done.Done()
			start.Wait()
			dev, _, err := registry.Resolve(ctx, Registration{DeviceID: "sensor-01", Type: "thermometer"})
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = dev.ID
		}(i)
	}
	start.Done()
	done.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("resolver %d: %v", i, err)
		}
	}
	for i, id := range ids {
		if id != "sensor-01" {
			t.Errorf("resolver %d: ID = %q, want sensor-01", i, id)
		}
	}
	if repo.count() != 1 {
		t.Errorf("device count = %d, want exactly 1", repo.count())
	}
	if got := len(auditLog.byStatus(audit.StatusCreated)); got != 1 {
		t.Errorf("created audit records = %d, want exactly 1", got)
	}
}

func TestRegistry_Touch(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	auditLog := &recordingAudit{}
	registry := NewRegistry(repo, auditLog)

	dev, _, err := registry.Resolve(ctx, Registration{DeviceID: "sensor-01", Type: "thermometer"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	seen := time.Now().UTC()
	if err := registry.Touch(ctx, dev.ID, seen); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	got, err := registry.GetDevice(ctx, dev.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if got.LastSeen == nil || !got.LastSeen.Equal(seen) {
		t.Errorf("LastSeen = %v, want %v", got.LastSeen, seen)
	}

	// Touch is high-frequency and must not generate audit noise.
	auditLog.mu.Lock()
	total := len(auditLog.records)
	auditLog.mu.Unlock()
	if total != 1 { // only the "created" record
		t.Errorf("audit records = %d, want 1 (touch must not audit)", total)
	}

	if err := registry.Touch(ctx, "missing", seen); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("Touch(missing) error = %v, want ErrDeviceNotFound", err)
	}
}

func TestRegistry_UpdateGroups(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	auditLog := &recordingAudit{}
	registry := NewRegistry(repo, auditLog)

	dev, _, err := registry.Resolve(ctx, Registration{DeviceID: "sensor-01", Type: "thermometer"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if err := registry.UpdateGroups(ctx, "user-1", dev.ID, []string{"grp-a", "grp-b"}); err != nil {
		t.Fatalf("UpdateGroups() error = %v", err)
	}

	got, err := registry.GetDevice(ctx, dev.ID)
	if err != nil {
		t.Fatalf("GetDevice() error = %v", err)
	}
	if len(got.Groups) != 2 || !got.InGroup("grp-a") || !got.InGroup("grp-b") {
		t.Errorf("Groups = %v, want [grp-a grp-b]", got.Groups)
	}

	changed := auditLog.byStatus(audit.StatusChanged)
	if len(changed) != 1 {
		t.Fatalf("changed audit records = %d, want 1", len(changed))
	}
	if changed[0].UserID != "user-1" || changed[0].DeviceID != dev.ID {
		t.Errorf("audit record = %+v, want user-1 / %s", changed[0], dev.ID)
	}
}

func TestRegistry_DeleteDevice(t *testing.T) {
	ctx := context.Background()
	repo := NewMockRepository()
	auditLog := &recordingAudit{}
	registry := NewRegistry(repo, auditLog)

	dev, _, err := registry.Resolve(ctx, Registration{DeviceID: "sensor-01", Type: "thermometer"})
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if err := registry.DeleteDevice(ctx, "user-1", dev.ID); err != nil {
		t.Fatalf("DeleteDevice() error = %v", err)
	}

	if _, err := registry.GetDevice(ctx, dev.ID); !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("GetDevice() error = %v, want ErrDeviceNotFound", err)
	}
	if got := len(auditLog.byStatus(audit.StatusDeleted)); got != 1 {
		t.Errorf("deleted audit records = %d, want 1", got)
	}
}

func TestDevice_DeepCopy(t *testing.T) {
	seen := time.Now().UTC()
	original := &Device{
		ID:       "dev-1",
		Name:     "sensor",
		Type:     "thermometer",
		Groups:   []string{"grp-a"},
		LastSeen: &seen,
	}

	cpy := original.DeepCopy()
	cpy.Groups[0] = "grp-b"
	*cpy.LastSeen = seen.Add(time.Hour)

	if original.Groups[0] != "grp-a" {
		t.Error("DeepCopy shares Groups slice")
	}
	if !original.LastSeen.Equal(seen) {
		t.Error("DeepCopy shares LastSeen pointer")
	}
}
