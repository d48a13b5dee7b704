package policy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Repository defines the interface for policy persistence.
type Repository interface {
	// GetByID retrieves a policy by ID.
	// Returns ErrPolicyNotFound if the policy does not exist.
	GetByID(ctx context.Context, id string) (*Policy, error)

	// List retrieves all policies ordered by ascending ID.
	List(ctx context.Context) ([]Policy, error)

	// Create inserts a new policy. The ID is generated if empty.
	// Returns ErrPolicyExists on ID collision.
	Create(ctx context.Context, p *Policy) error

	// Update modifies an existing policy.
	// Returns ErrPolicyNotFound if the policy does not exist.
	Update(ctx context.Context, p *Policy) error

	// Delete removes a policy by ID.
	// Returns ErrPolicyNotFound if the policy does not exist.
	Delete(ctx context.Context, id string) error
}

// SQLiteRepository implements Repository using SQLite. The role, group,
// and condition sets are stored as JSON text columns.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite-backed policy repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const policyColumns = "id, name, description, allowed_roles, allowed_groups, conditions, created_at, updated_at"

// GetByID retrieves a policy by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*Policy, error) {
	query := fmt.Sprintf("SELECT %s FROM policies WHERE id = ?", policyColumns)

	row := r.db.QueryRowContext(ctx, query, id)
	p, err := scanPolicy(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPolicyNotFound
		}
		return nil, fmt.Errorf("querying policy: %w", err)
	}
	return p, nil
}

// List retrieves all policies in ascending ID order. The ordering is
// load-bearing: evaluation short-circuits on first allow, so iteration
// order decides which policy gets credited in the audit trail.
func (r *SQLiteRepository) List(ctx context.Context) ([]Policy, error) {
	query := fmt.Sprintf("SELECT %s FROM policies ORDER BY id ASC", policyColumns)

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying policies: %w", err)
	}
	defer rows.Close()

	var policies []Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning policy: %w", err)
		}
		policies = append(policies, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating policies: %w", err)
	}

	return policies, nil
}

// Create inserts a new policy.
func (r *SQLiteRepository) Create(ctx context.Context, p *Policy) error {
	if p.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidPolicy)
	}
	if p.ID == "" {
		p.ID = "pol-" + uuid.NewString()[:8]
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	roles, groups, conditions, err := marshalPolicyFields(p)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO policies (id, name, description, allowed_roles, allowed_groups, conditions, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, nullableString(p.Description), roles, groups, conditions,
		p.CreatedAt.Format(time.RFC3339Nano), p.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("%w: %s", ErrPolicyExists, p.ID)
		}
		return fmt.Errorf("inserting policy: %w", err)
	}
	return nil
}

// Update modifies an existing policy.
func (r *SQLiteRepository) Update(ctx context.Context, p *Policy) error {
	if p.Name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidPolicy)
	}
	p.UpdatedAt = time.Now().UTC()

	roles, groups, conditions, err := marshalPolicyFields(p)
	if err != nil {
		return err
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE policies SET name = ?, description = ?, allowed_roles = ?, allowed_groups = ?, conditions = ?, updated_at = ?
		 WHERE id = ?`,
		p.Name, nullableString(p.Description), roles, groups, conditions,
		p.UpdatedAt.Format(time.RFC3339Nano), p.ID,
	)
	if err != nil {
		return fmt.Errorf("updating policy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// Delete removes a policy by ID.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM policies WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting policy: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking delete result: %w", err)
	}
	if affected == 0 {
		return ErrPolicyNotFound
	}
	return nil
}

// marshalPolicyFields encodes the JSON columns, normalizing nil to
// empty collections so the schema defaults hold.
func marshalPolicyFields(p *Policy) (roles, groups, conditions string, err error) {
	r := p.AllowedRoles
	if r == nil {
		r = []string{}
	}
	g := p.AllowedGroups
	if g == nil {
		g = []string{}
	}
	c := p.Conditions
	if c == nil {
		c = map[string]string{}
	}

	rb, err := json.Marshal(r)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling allowed roles: %w", err)
	}
	gb, err := json.Marshal(g)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling allowed groups: %w", err)
	}
	cb, err := json.Marshal(c)
	if err != nil {
		return "", "", "", fmt.Errorf("marshalling conditions: %w", err)
	}
	return string(rb), string(gb), string(cb), nil
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanPolicy reads a policy row in policyColumns order.
func scanPolicy(s scanner) (*Policy, error) {
	var p Policy
	var description sql.NullString
	var roles, groups, conditions string
	var createdAt, updatedAt string

	if err := s.Scan(&p.ID, &p.Name, &description,
		&roles, &groups, &conditions, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	if description.Valid {
		p.Description = description.String
	}
	if err := json.Unmarshal([]byte(roles), &p.AllowedRoles); err != nil {
		return nil, fmt.Errorf("unmarshalling allowed roles: %w", err)
	}
	if err := json.Unmarshal([]byte(groups), &p.AllowedGroups); err != nil {
		return nil, fmt.Errorf("unmarshalling allowed groups: %w", err)
	}
	if err := json.Unmarshal([]byte(conditions), &p.Conditions); err != nil {
		return nil, fmt.Errorf("unmarshalling conditions: %w", err)
	}

	var err error
	if p.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parsing policy created_at: %w", err)
	}
	if p.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing policy updated_at: %w", err)
	}

	return &p, nil
}

// nullableString returns nil for empty strings, or the string otherwise.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
