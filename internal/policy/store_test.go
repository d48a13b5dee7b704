package policy

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nerrad567/fleetgate/internal/audit"
)

// setupTestDB creates an in-memory SQLite database with the policies table.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE policies (
			id             TEXT PRIMARY KEY,
			name           TEXT NOT NULL,
			description    TEXT,
			allowed_roles  TEXT NOT NULL DEFAULT '[]',
			allowed_groups TEXT NOT NULL DEFAULT '[]',
			conditions     TEXT NOT NULL DEFAULT '{}',
			created_at     TEXT NOT NULL,
			updated_at     TEXT NOT NULL
		) STRICT;
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

func TestSQLiteRepository_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	p := &Policy{
		Name:          "eu-operators",
		Description:   "operators in the eu region",
		AllowedRoles:  []string{"operator", "admin"},
		AllowedGroups: []string{"grp-north"},
		Conditions:    map[string]string{"region": "eu"},
	}

	if err := repo.Create(ctx, p); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p.ID == "" {
		t.Fatal("ID not generated")
	}

	got, err := repo.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Name != "eu-operators" {
		t.Errorf("Name = %q, want eu-operators", got.Name)
	}
	if len(got.AllowedRoles) != 2 || got.AllowedRoles[0] != "operator" {
		t.Errorf("AllowedRoles = %v, want [operator admin]", got.AllowedRoles)
	}
	if len(got.AllowedGroups) != 1 || got.AllowedGroups[0] != "grp-north" {
		t.Errorf("AllowedGroups = %v, want [grp-north]", got.AllowedGroups)
	}
	if got.Conditions["region"] != "eu" {
		t.Errorf("Conditions = %v, want region=eu", got.Conditions)
	}
}

func TestSQLiteRepository_ListOrdering(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	// Insert out of order: List must return ascending ID regardless.
	for _, id := range []string{"pol-c", "pol-a", "pol-b"} {
		if err := repo.Create(ctx, &Policy{ID: id, Name: id, AllowedRoles: []string{"operator"}}); err != nil {
			t.Fatalf("Create(%s) error = %v", id, err)
		}
	}

	policies, err := repo.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(policies) != 3 {
		t.Fatalf("len = %d, want 3", len(policies))
	}
	for i, want := range []string{"pol-a", "pol-b", "pol-c"} {
		if policies[i].ID != want {
			t.Errorf("policies[%d].ID = %q, want %q", i, policies[i].ID, want)
		}
	}
}

func TestSQLiteRepository_Errors(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	if _, err := repo.GetByID(ctx, "missing"); !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("GetByID(missing) error = %v, want ErrPolicyNotFound", err)
	}

	if err := repo.Create(ctx, &Policy{}); !errors.Is(err, ErrInvalidPolicy) {
		t.Errorf("Create(unnamed) error = %v, want ErrInvalidPolicy", err)
	}

	if err := repo.Create(ctx, &Policy{ID: "pol-1", Name: "one"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, &Policy{ID: "pol-1", Name: "dup"}); !errors.Is(err, ErrPolicyExists) {
		t.Errorf("duplicate Create() error = %v, want ErrPolicyExists", err)
	}

	if err := repo.Update(ctx, &Policy{ID: "missing", Name: "x"}); !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrPolicyNotFound", err)
	}
	if err := repo.Delete(ctx, "missing"); !errors.Is(err, ErrPolicyNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrPolicyNotFound", err)
	}
}

func TestStore_CacheAndMutations(t *testing.T) {
	db := setupTestDB(t)
	repo := NewSQLiteRepository(db)
	ctx := context.Background()

	auditLog := &recordingAudit{}
	store := NewStore(repo, auditLog)

	if err := repo.Create(ctx, &Policy{ID: "pol-b", Name: "b", AllowedRoles: []string{"operator"}}); err != nil {
		t.Fatalf("seeding policy: %v", err)
	}
	if err := store.Refresh(ctx); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	t.Run("policies come back in ascending ID order", func(t *testing.T) {
		if err := store.Create(ctx, "user-1", &Policy{ID: "pol-a", Name: "a", AllowedRoles: []string{"admin"}}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		policies := store.Policies()
		if len(policies) != 2 {
			t.Fatalf("len = %d, want 2", len(policies))
		}
		if policies[0].ID != "pol-a" || policies[1].ID != "pol-b" {
			t.Errorf("order = [%s %s], want [pol-a pol-b]", policies[0].ID, policies[1].ID)
		}
	})

	t.Run("update writes through to cache", func(t *testing.T) {
		p, err := store.Get("pol-a")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		p.AllowedRoles = []string{"admin", "operator"}

		if err := store.Update(ctx, "user-1", p); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		cached, err := store.Get("pol-a")
		if err != nil {
			t.Fatalf("Get() after update error = %v", err)
		}
		if len(cached.AllowedRoles) != 2 {
			t.Errorf("AllowedRoles = %v, want two roles", cached.AllowedRoles)
		}
	})

	t.Run("returned policies are isolated from the cache", func(t *testing.T) {
		if err := store.Create(ctx, "user-1", &Policy{
			ID:            "pol-c",
			Name:          "c",
			AllowedRoles:  []string{"admin"},
			AllowedGroups: []string{"grp-1"},
			Conditions:    map[string]string{"region": "eu"},
		}); err != nil {
			t.Fatalf("Create() error = %v", err)
		}

		got, err := store.Get("pol-c")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		got.AllowedRoles[0] = "mutated"
		got.AllowedGroups[0] = "mutated"
		got.Conditions["region"] = "mutated"

		cached, err := store.Get("pol-c")
		if err != nil {
			t.Fatalf("Get() after mutation error = %v", err)
		}
		if cached.AllowedRoles[0] != "admin" {
			t.Errorf("cached AllowedRoles[0] = %q, caller mutation leaked into cache", cached.AllowedRoles[0])
		}
		if cached.AllowedGroups[0] != "grp-1" {
			t.Errorf("cached AllowedGroups[0] = %q, caller mutation leaked into cache", cached.AllowedGroups[0])
		}
		if cached.Conditions["region"] != "eu" {
			t.Errorf("cached Conditions[region] = %q, caller mutation leaked into cache", cached.Conditions["region"])
		}

		listed := store.Policies()
		for i := range listed {
			if listed[i].ID == "pol-c" {
				listed[i].Conditions["region"] = "mutated"
			}
		}
		cached, err = store.Get("pol-c")
		if err != nil {
			t.Fatalf("Get() after list mutation error = %v", err)
		}
		if cached.Conditions["region"] != "eu" {
			t.Errorf("cached Conditions[region] = %q after mutating a listed copy", cached.Conditions["region"])
		}
	})

	t.Run("delete evicts from cache", func(t *testing.T) {
		if err := store.Delete(ctx, "user-1", "pol-a"); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if _, err := store.Get("pol-a"); !errors.Is(err, ErrPolicyNotFound) {
			t.Errorf("Get() after delete error = %v, want ErrPolicyNotFound", err)
		}
	})

	t.Run("mutations are audited", func(t *testing.T) {
		var created, changed, deleted int
		auditLog.mu.Lock()
		for _, rec := range auditLog.records {
			switch rec.Status {
			case audit.StatusCreated:
				created++
			case audit.StatusChanged:
				changed++
			case audit.StatusDeleted:
				deleted++
			}
		}
		auditLog.mu.Unlock()

		if created != 2 || changed != 1 || deleted != 1 {
			t.Errorf("audit counts created/changed/deleted = %d/%d/%d, want 2/1/1", created, changed, deleted)
		}
	})
}
