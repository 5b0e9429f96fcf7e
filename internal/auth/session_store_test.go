package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemorySessionStore(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("missing key: got %v, want ErrSessionNotFound", err)
	}

	if err := store.Set(ctx, LoginValueKey("cmp-1"), "bob@example.com", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	value, err := store.Get(ctx, LoginValueKey("cmp-1"))
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if value != "bob@example.com" {
		t.Errorf("got %q, want the stored login", value)
	}

	if err := store.Delete(ctx, LoginValueKey("cmp-1")); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, LoginValueKey("cmp-1")); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("deleted key: got %v, want ErrSessionNotFound", err)
	}
}

func TestMemorySessionStore_TTL(t *testing.T) {
	store := NewMemorySessionStore()
	ctx := context.Background()

	if err := store.Set(ctx, "expiring", "v", time.Nanosecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := store.Get(ctx, "expiring"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expired key: got %v, want ErrSessionNotFound", err)
	}

	// A zero TTL means the entry does not expire.
	if err := store.Set(ctx, "pinned", "v", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := store.Get(ctx, "pinned"); err != nil {
		t.Errorf("zero-TTL key: got %v, want it to stay", err)
	}
}

func TestSessionKeysAreDistinct(t *testing.T) {
	if LoginValueKey("cmp-1") == TwoFactorPendingKey("cmp-1") {
		t.Error("login and pending keys must not collide")
	}
	if LoginValueKey("cmp-1") == LoginValueKey("cmp-2") {
		t.Error("keys must be scoped per component")
	}
}
