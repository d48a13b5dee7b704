package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/nerrad567/fleetgate/internal/audit"
)

// Recorder appends audit records without blocking the caller.
// Satisfied by *audit.Log.
type Recorder interface {
	Record(rec audit.Record) string
}

// Store provides policy access with an in-memory cache in front of a
// Repository. The decision engine iterates policies on every evaluation,
// so reads come from the cache; mutations write through and keep the
// cache in sync.
//
// All public methods are thread-safe.
type Store struct {
	repo     Repository
	auditLog Recorder
	cache    map[string]*Policy
	cacheMu  sync.RWMutex
}

// NewStore creates a policy store. Call Refresh before first use.
func NewStore(repo Repository, auditLog Recorder) *Store {
	return &Store{
		repo:     repo,
		auditLog: auditLog,
		cache:    make(map[string]*Policy),
	}
}

// Refresh reloads all policies from the repository into the cache.
// This should be called on application startup.
func (s *Store) Refresh(ctx context.Context) error {
	policies, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("loading policies: %w", err)
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache = make(map[string]*Policy, len(policies))
	for i := range policies {
		p := policies[i]
		s.cache[p.ID] = &p
	}
	return nil
}

// Policies returns all cached policies in ascending ID order.
//
// Deterministic ordering is part of the evaluation contract: the engine
// short-circuits on the first allowing policy, so the order decides
// which policy the audit trail credits. Returned policies are copies.
func (s *Store) Policies() []Policy {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	out := make([]Policy, 0, len(s.cache))
	for _, p := range s.cache {
		out = append(out, *p.DeepCopy())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get retrieves a cached policy by ID.
// Returns ErrPolicyNotFound if the policy does not exist.
func (s *Store) Get(id string) (*Policy, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()

	p, ok := s.cache[id]
	if !ok {
		return nil, ErrPolicyNotFound
	}
	return p.DeepCopy(), nil
}

// Create persists a new policy and records it in the audit trail.
func (s *Store) Create(ctx context.Context, userID string, p *Policy) error {
	if err := s.repo.Create(ctx, p); err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[p.ID] = p.DeepCopy()
	s.cacheMu.Unlock()

	s.auditLog.Record(audit.Record{
		Status:      audit.StatusCreated,
		UserID:      userID,
		Description: fmt.Sprintf("policy %q (%s) created", p.Name, p.ID),
	})
	return nil
}

// Update modifies an existing policy and records the change.
func (s *Store) Update(ctx context.Context, userID string, p *Policy) error {
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}

	s.cacheMu.Lock()
	s.cache[p.ID] = p.DeepCopy()
	s.cacheMu.Unlock()

	s.auditLog.Record(audit.Record{
		Status:      audit.StatusChanged,
		UserID:      userID,
		Description: fmt.Sprintf("policy %q (%s) changed", p.Name, p.ID),
	})
	return nil
}

// Delete removes a policy and records the deletion.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.cacheMu.Lock()
	delete(s.cache, id)
	s.cacheMu.Unlock()

	s.auditLog.Record(audit.Record{
		Status:      audit.StatusDeleted,
		UserID:      userID,
		Description: fmt.Sprintf("policy %s deleted", id),
	})
	return nil
}
