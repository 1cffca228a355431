package presence

import (
	"context"
	"testing"
	"time"
)

func TestMemoryTrackerHeartbeatMarksOnline(t *testing.T) {
	current := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewMemoryTracker(time.Minute, func() time.Time { return current })

	if err := tracker.Heartbeat(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	online, err := tracker.Online(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !online {
		t.Fatal("expected alice to be online after a heartbeat")
	}

	online, err = tracker.Online(context.Background(), "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if online {
		t.Fatal("expected bob to be offline without a heartbeat")
	}
}

func TestMemoryTrackerExpiresStaleEntries(t *testing.T) {
	current := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewMemoryTracker(time.Minute, func() time.Time { return current })

	if err := tracker.Heartbeat(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	current = current.Add(2 * time.Minute)

	online, err := tracker.Online(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if online {
		t.Fatal("expected alice to be offline after the liveness window")
	}

	active, err := tracker.ActiveUsers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active users, got %v", active)
	}
}

func TestMemoryTrackerActiveUsersSorted(t *testing.T) {
	current := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tracker := NewMemoryTracker(time.Minute, func() time.Time { return current })

	for _, userID := range []string{"carol", "alice", "bob"} {
		if err := tracker.Heartbeat(context.Background(), userID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	active, err := tracker.ActiveUsers(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{"alice", "bob", "carol"}
	if len(active) != len(expected) {
		t.Fatalf("expected %d active users, got %d", len(expected), len(active))
	}
	for index, userID := range expected {
		if active[index] != userID {
			t.Fatalf("expected %s at index %d, got %s", userID, index, active[index])
		}
	}
}
