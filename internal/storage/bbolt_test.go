package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatsync/internal/models"
)

func TestStorage(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "storage_test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewBboltStorage(dbPath)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	defer func() { _ = store.Close() }()
	store.now = func() time.Time { return time.Unix(1700000000, 0) }

	history := []models.ChatMessage{
		{ID: "m1", FromID: "vendor123", FromRole: models.RoleVendor, ToID: "u1", ToRole: models.RoleUser, Message: "Room is ready", Timestamp: 100},
		{ID: "m2", FromID: "u1", FromRole: models.RoleUser, ToID: "vendor123", ToRole: models.RoleVendor, Message: "Thanks!", Timestamp: 200, IsRead: true},
	}

	t.Run("Missing", func(t *testing.T) {
		if _, _, err := store.LoadHistory("nobody"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		if err := store.SaveHistory("vendor123", history); err != nil {
			t.Fatalf("SaveHistory failed: %v", err)
		}

		loaded, savedAt, err := store.LoadHistory("vendor123")
		if err != nil {
			t.Fatalf("LoadHistory failed: %v", err)
		}
		if !savedAt.Equal(time.Unix(1700000000, 0)) {
			t.Errorf("expected saved time 1700000000, got %v", savedAt)
		}
		if len(loaded) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(loaded))
		}
		for i := range history {
			if loaded[i] != history[i] {
				t.Errorf("message %d: expected %+v, got %+v", i, history[i], loaded[i])
			}
		}
	})

	t.Run("SaveReplaces", func(t *testing.T) {
		if err := store.SaveHistory("vendor123", history[:1]); err != nil {
			t.Fatalf("SaveHistory failed: %v", err)
		}
		loaded, _, err := store.LoadHistory("vendor123")
		if err != nil {
			t.Fatalf("LoadHistory failed: %v", err)
		}
		if len(loaded) != 1 || loaded[0].ID != "m1" {
			t.Errorf("expected only m1, got %+v", loaded)
		}
	})

	t.Run("EmptyHistory", func(t *testing.T) {
		if err := store.SaveHistory("vendor456", nil); err != nil {
			t.Fatalf("SaveHistory failed: %v", err)
		}
		loaded, _, err := store.LoadHistory("vendor456")
		if err != nil {
			t.Fatalf("LoadHistory failed: %v", err)
		}
		if len(loaded) != 0 {
			t.Errorf("expected empty history, got %d messages", len(loaded))
		}
	})

	t.Run("MissingCounterpartID", func(t *testing.T) {
		if err := store.SaveHistory("", history); err == nil {
			t.Error("expected error for empty counterpart id")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		if err := store.Clear(); err != nil {
			t.Fatalf("Clear failed: %v", err)
		}
		if _, _, err := store.LoadHistory("vendor123"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound after Clear, got %v", err)
		}
	})
}
