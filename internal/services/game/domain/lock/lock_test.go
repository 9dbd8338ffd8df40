package lock

import (
	"testing"
	"time"
)

func fixedNow() time.Time {
	return time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
}

func TestNewLockStampsExpiry(t *testing.T) {
	t.Parallel()

	created, err := New("scene-1", "character-1", "participant-1", true, fixedNow, func() (string, error) {
		return "lock-1", nil
	})
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if created.ExpiresAt != fixedNow().Add(TTL) {
		t.Fatalf("expected expiry at acquire+TTL, got %v", created.ExpiresAt)
	}
	if created.LastActivityAt != fixedNow() {
		t.Fatalf("expected activity stamped at acquire, got %v", created.LastActivityAt)
	}
	if !created.HiddenIntent {
		t.Fatal("expected hidden intent preserved")
	}
}

func TestNewLockRequiresKey(t *testing.T) {
	t.Parallel()

	if _, err := New("", "character-1", "participant-1", false, fixedNow, nil); err == nil {
		t.Fatal("expected missing scene to be rejected")
	}
	if _, err := New("scene-1", "", "participant-1", false, fixedNow, nil); err == nil {
		t.Fatal("expected missing character to be rejected")
	}
	if _, err := New("scene-1", "character-1", " ", false, fixedNow, nil); err == nil {
		t.Fatal("expected missing holder to be rejected")
	}
}

func TestRefreshedExtendsExpiry(t *testing.T) {
	t.Parallel()

	held, err := New("scene-1", "character-1", "participant-1", false, fixedNow, nil)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}

	later := fixedNow().Add(4 * time.Minute)
	refreshed := held.Refreshed(later)
	if refreshed.ExpiresAt != later.Add(TTL) {
		t.Fatalf("expected expiry pushed to heartbeat+TTL, got %v", refreshed.ExpiresAt)
	}
	if refreshed.ExpiresAt.Before(held.ExpiresAt) {
		t.Fatal("heartbeat must never shorten expiry")
	}
	if refreshed.AcquiredAt != held.AcquiredAt {
		t.Fatal("heartbeat must not change acquired-at")
	}
}

func TestExpired(t *testing.T) {
	t.Parallel()

	held, err := New("scene-1", "character-1", "participant-1", false, fixedNow, nil)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if held.Expired(fixedNow().Add(TTL)) {
		t.Fatal("expected lock live exactly at expiry instant")
	}
	if !held.Expired(fixedNow().Add(TTL + time.Second)) {
		t.Fatal("expected lock expired past expiry")
	}
}

func TestHeldBy(t *testing.T) {
	t.Parallel()

	held, err := New("scene-1", "character-1", "participant-1", false, fixedNow, nil)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if !held.HeldBy("participant-1") {
		t.Fatal("expected holder match")
	}
	if held.HeldBy("participant-2") {
		t.Fatal("expected holder mismatch")
	}
	if held.HeldBy("") {
		t.Fatal("expected empty participant never to hold a lock")
	}
}
