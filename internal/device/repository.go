package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Repository defines the interface for device persistence operations.
// This abstraction allows for different implementations (SQLite, mock, etc.)
// and enables unit testing without database dependencies.
type Repository interface {
	// GetByID retrieves a device by its canonical identifier.
	// Returns ErrDeviceNotFound if the device does not exist.
	GetByID(ctx context.Context, id string) (*Device, error)

	// GetByNaturalKey retrieves a device by (name, type). Used as a
	// fallback for devices that never sent their own identifier.
	// Returns ErrDeviceNotFound if no such device exists.
	GetByNaturalKey(ctx context.Context, name, deviceType string) (*Device, error)

	// List retrieves all devices.
	List(ctx context.Context) ([]Device, error)

	// Create inserts a new device.
	// Returns ErrDeviceExists if a device with the same ID already exists.
	Create(ctx context.Context, device *Device) error

	// Touch updates only the last-seen timestamp.
	// Returns ErrDeviceNotFound if the device does not exist.
	Touch(ctx context.Context, id string, seen time.Time) error

	// ReplaceGroups replaces a device's group memberships.
	// Returns ErrDeviceNotFound if the device does not exist, or
	// ErrGroupNotFound if any group ID is unknown.
	ReplaceGroups(ctx context.Context, deviceID string, groupIDs []string) error

	// Delete removes a device by ID.
	// Returns ErrDeviceNotFound if the device does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed repository.
// The db parameter should be an open SQLite connection.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const deviceColumns = "id, name, type, description, registered_at, last_seen, created_at, updated_at"

// GetByID retrieves a device by its canonical identifier.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Device, error) {
	query := fmt.Sprintf("SELECT %s FROM devices WHERE id = ?", deviceColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by id: %w", err)
	}

	if err := r.loadGroups(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// GetByNaturalKey retrieves a device by (name, type).
//
// If multiple devices share the natural key, the oldest wins. That can
// happen when a later registration carried an explicit device_id that
// collided on (name, type); the explicit ID is authoritative for that
// device, and the natural key keeps resolving to the original.
func (r *SQLiteRepository) GetByNaturalKey(ctx context.Context, name, deviceType string) (*Device, error) {
	query := fmt.Sprintf(
		"SELECT %s FROM devices WHERE name = ? AND type = ? ORDER BY created_at ASC LIMIT 1",
		deviceColumns,
	)

	row := r.db.QueryRowContext(ctx, query, name, deviceType)
	device, err := scanDevice(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("querying device by natural key: %w", err)
	}

	if err := r.loadGroups(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// List retrieves all devices with their group memberships.
func (r *SQLiteRepository) List(ctx context.Context) ([]Device, error) {
	query := fmt.Sprintf("SELECT %s FROM devices ORDER BY name", deviceColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var devices []Device
	for rows.Next() {
		device, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		devices = append(devices, *device)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating devices: %w", err)
	}

	for i := range devices {
		if err := r.loadGroups(ctx, &devices[i]); err != nil {
			return nil, err
		}
	}

	return devices, nil
}

// Create inserts a new device.
func (r *SQLiteRepository) Create(ctx context.Context, device *Device) error {
	now := time.Now().UTC()
	if device.RegisteredAt.IsZero() {
		device.RegisteredAt = now
	}
	if device.CreatedAt.IsZero() {
		device.CreatedAt = now
	}
	device.UpdatedAt = now

	var lastSeen any
	if device.LastSeen != nil {
		lastSeen = device.LastSeen.UTC().Format(time.RFC3339Nano)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO devices (id, name, type, description, registered_at, last_seen, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		device.ID, device.Name, device.Type, nullableString(device.Description),
		device.RegisteredAt.UTC().Format(time.RFC3339Nano), lastSeen,
		device.CreatedAt.UTC().Format(time.RFC3339Nano),
		device.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrDeviceExists, device.ID)
		}
		return fmt.Errorf("inserting device: %w", err)
	}

	if len(device.Groups) > 0 {
		return r.ReplaceGroups(ctx, device.ID, device.Groups)
	}
	return nil
}

// Touch updates only the last-seen timestamp.
func (r *SQLiteRepository) Touch(ctx context.Context, id string, seen time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE devices SET last_seen = ?, updated_at = ? WHERE id = ?`,
		seen.UTC().Format(time.RFC3339Nano),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("touching device: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking touch result: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}
	return nil
}

// ReplaceGroups replaces a device's group memberships in one transaction.
func (r *SQLiteRepository) ReplaceGroups(ctx context.Context, deviceID string, groupIDs []string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning group update: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	var exists int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM devices WHERE id = ?", deviceID).Scan(&exists); err != nil {
		return fmt.Errorf("checking device: %w", err)
	}
	if exists == 0 {
		return ErrDeviceNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_groups WHERE device_id = ?", deviceID); err != nil {
		return fmt.Errorf("clearing group memberships: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for _, groupID := range groupIDs {
		var found int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM groups WHERE id = ?", groupID).Scan(&found); err != nil {
			return fmt.Errorf("checking group: %w", err)
		}
		if found == 0 {
			return fmt.Errorf("%w: %s", ErrGroupNotFound, groupID)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO device_groups (device_id, group_id, created_at) VALUES (?, ?, ?)",
			deviceID, groupID, now,
		); err != nil {
			return fmt.Errorf("inserting group membership: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE devices SET updated_at = ? WHERE id = ?", now, deviceID,
	); err != nil {
		return fmt.Errorf("updating device timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing group update: %w", err)
	}
	return nil
}

// Delete removes a device and its group memberships.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_groups WHERE device_id = ?", id); err != nil {
		return fmt.Errorf("deleting group memberships: %w", err)
	}

	result, err := tx.ExecContext(ctx, "DELETE FROM devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting device: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrDeviceNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}
	return nil
}

// loadGroups populates the Groups slice for a device.
func (r *SQLiteRepository) loadGroups(ctx context.Context, device *Device) error {
	rows, err := r.db.QueryContext(ctx,
		"SELECT group_id FROM device_groups WHERE device_id = ? ORDER BY group_id", device.ID)
	if err != nil {
		return fmt.Errorf("querying group memberships: %w", err)
	}
	defer rows.Close()

	var groups []string
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			return fmt.Errorf("scanning group membership: %w", err)
		}
		groups = append(groups, groupID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating group memberships: %w", err)
	}

	device.Groups = groups
	return nil
}

// scanner abstracts sql.Row and sql.Rows for scanDevice.
type scanner interface {
	Scan(dest ...any) error
}

// scanDevice reads a device row in deviceColumns order.
func scanDevice(s scanner) (*Device, error) {
	var d Device
	var description, lastSeen sql.NullString
	var registeredAt, createdAt, updatedAt string

	if err := s.Scan(&d.ID, &d.Name, &d.Type, &description,
		&registeredAt, &lastSeen, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if description.Valid {
		d.Description = description.String
	}

	var err error
	if d.RegisteredAt, err = parseTimestamp(registeredAt); err != nil {
		return nil, fmt.Errorf("parsing registered_at: %w", err)
	}
	if d.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTimestamp(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	if lastSeen.Valid {
		seen, err := parseTimestamp(lastSeen.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_seen: %w", err)
		}
		d.LastSeen = &seen
	}

	return &d, nil
}

// parseTimestamp reads an RFC3339 timestamp as stored by this package.
func parseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// nullableString returns nil for empty strings, or the string otherwise.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
