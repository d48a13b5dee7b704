package router

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// setupMessageDB creates an in-memory SQLite database with the messages table.
func setupMessageDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}

	schema := `
		CREATE TABLE messages (
			id          TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL,
			topic       TEXT NOT NULL,
			payload     TEXT NOT NULL,
			received_at TEXT NOT NULL
		) STRICT;
		CREATE INDEX idx_messages_device ON messages(device_id);
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

func TestSQLiteMessageRepository_InsertAndList(t *testing.T) {
	repo := NewSQLiteMessageRepository(setupMessageDB(t))
	ctx := context.Background()

	msg := &InboundMessage{
		DeviceID: "dev-a",
		Topic:    "devices/dev-a/data",
		Payload:  []byte(`{"temperature": 21.5}`),
	}
	if err := repo.Insert(ctx, msg); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if msg.ID == "" {
		t.Error("Insert() did not assign an ID")
	}
	if msg.ReceivedAt.IsZero() {
		t.Error("Insert() did not assign ReceivedAt")
	}

	got, err := repo.ListByDevice(ctx, "dev-a", 5)
	if err != nil {
		t.Fatalf("ListByDevice() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListByDevice() returned %d messages, want 1", len(got))
	}
	if got[0].ID != msg.ID {
		t.Errorf("ID = %q, want %q", got[0].ID, msg.ID)
	}
	if string(got[0].Payload) != `{"temperature": 21.5}` {
		t.Errorf("Payload = %q, want original body", got[0].Payload)
	}
	if !got[0].ReceivedAt.Equal(msg.ReceivedAt) {
		t.Errorf("ReceivedAt = %v, want %v", got[0].ReceivedAt, msg.ReceivedAt)
	}
}

func TestSQLiteMessageRepository_ListOrderingAndLimit(t *testing.T) {
	repo := NewSQLiteMessageRepository(setupMessageDB(t))
	ctx := context.Background()
	base := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		msg := &InboundMessage{
			ID:         fmt.Sprintf("msg-%02d", i),
			DeviceID:   "dev-a",
			Topic:      "devices/dev-a/data",
			Payload:    []byte(fmt.Sprintf(`{"seq": %d}`, i)),
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Insert(ctx, msg); err != nil {
			t.Fatalf("Insert(%d) error = %v", i, err)
		}
	}
	// A message for another device must not leak into the listing.
	other := &InboundMessage{DeviceID: "dev-b", Topic: "devices/dev-b/data", Payload: []byte(`{}`)}
	if err := repo.Insert(ctx, other); err != nil {
		t.Fatalf("Insert(other) error = %v", err)
	}

	t.Run("newest first", func(t *testing.T) {
		got, err := repo.ListByDevice(ctx, "dev-a", 3)
		if err != nil {
			t.Fatalf("ListByDevice() error = %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("got %d messages, want 3", len(got))
		}
		for i, wantID := range []string{"msg-07", "msg-06", "msg-05"} {
			if got[i].ID != wantID {
				t.Errorf("got[%d].ID = %q, want %q", i, got[i].ID, wantID)
			}
		}
	})

	t.Run("zero limit defaults to five", func(t *testing.T) {
		got, err := repo.ListByDevice(ctx, "dev-a", 0)
		if err != nil {
			t.Fatalf("ListByDevice() error = %v", err)
		}
		if len(got) != 5 {
			t.Errorf("got %d messages, want default limit of 5", len(got))
		}
	})

	t.Run("unknown device returns empty", func(t *testing.T) {
		got, err := repo.ListByDevice(ctx, "no-such-device", 5)
		if err != nil {
			t.Fatalf("ListByDevice() error = %v", err)
		}
		if len(got) != 0 {
			t.Errorf("got %d messages, want 0", len(got))
		}
	})
}
