package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GroupRepository defines the interface for group catalogue access.
// Policies reference groups by ID; the catalogue itself changes rarely.
type GroupRepository interface {
	// ListGroups retrieves all groups ordered by name.
	ListGroups(ctx context.Context) ([]Group, error)

	// GetGroup retrieves a group by ID.
	// Returns ErrGroupNotFound if the group does not exist.
	GetGroup(ctx context.Context, id string) (*Group, error)

	// CreateGroup inserts a new group. The ID is generated if empty.
	CreateGroup(ctx context.Context, group *Group) error
}

// SQLiteGroupRepository implements GroupRepository using SQLite.
type SQLiteGroupRepository struct {
	db *sql.DB
}

// NewSQLiteGroupRepository creates a new group repository.
func NewSQLiteGroupRepository(db *sql.DB) *SQLiteGroupRepository {
	return &SQLiteGroupRepository{db: db}
}

// ListGroups retrieves all groups ordered by name.
func (r *SQLiteGroupRepository) ListGroups(ctx context.Context) ([]Group, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, name, description, created_at FROM groups ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying groups: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		group, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning group: %w", err)
		}
		groups = append(groups, *group)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating groups: %w", err)
	}

	return groups, nil
}

// GetGroup retrieves a group by ID.
func (r *SQLiteGroupRepository) GetGroup(ctx context.Context, id string) (*Group, error) {
	row := r.db.QueryRowContext(ctx,
		"SELECT id, name, description, created_at FROM groups WHERE id = ?", id)

	group, err := scanGroup(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGroupNotFound
		}
		return nil, fmt.Errorf("querying group: %w", err)
	}
	return group, nil
}

// CreateGroup inserts a new group.
func (r *SQLiteGroupRepository) CreateGroup(ctx context.Context, group *Group) error {
	if group.ID == "" {
		group.ID = "grp-" + uuid.NewString()[:8]
	}
	if group.CreatedAt.IsZero() {
		group.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		"INSERT INTO groups (id, name, description, created_at) VALUES (?, ?, ?, ?)",
		group.ID, group.Name, nullableString(group.Description),
		group.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("group %q already exists: %w", group.Name, err)
		}
		return fmt.Errorf("inserting group: %w", err)
	}
	return nil
}

// scanGroup reads a group row.
func scanGroup(s scanner) (*Group, error) {
	var g Group
	var description sql.NullString
	var createdAt string

	if err := s.Scan(&g.ID, &g.Name, &description, &createdAt); err != nil {
		return nil, err
	}

	if description.Valid {
		g.Description = description.String
	}

	t, err := parseTimestamp(createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing group created_at: %w", err)
	}
	g.CreatedAt = t

	return &g, nil
}
