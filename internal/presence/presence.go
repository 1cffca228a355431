package presence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Tracker records user liveness from periodic client heartbeats. Presence is
// advisory state: it is never consulted by the durable chat operations and
// losing it carries no correctness cost.
type Tracker interface {
	Heartbeat(ctx context.Context, userID string) error
	Online(ctx context.Context, userID string) (bool, error)
	ActiveUsers(ctx context.Context) ([]string, error)
}

// MemoryTracker keeps last-heartbeat times in process memory. Suitable for a
// single-instance deployment and for tests.
type MemoryTracker struct {
	mu    sync.RWMutex
	seen  map[string]time.Time
	ttl   time.Duration
	clock func() time.Time
}

// NewMemoryTracker constructs an in-memory tracker with the given liveness window.
func NewMemoryTracker(ttl time.Duration, clock func() time.Time) *MemoryTracker {
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryTracker{
		seen:  make(map[string]time.Time),
		ttl:   ttl,
		clock: clock,
	}
}

// Heartbeat marks the user as seen now.
func (t *MemoryTracker) Heartbeat(_ context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	t.mu.Lock()
	t.seen[userID] = t.clock()
	t.mu.Unlock()
	return nil
}

// Online reports whether the user heartbeated within the liveness window.
func (t *MemoryTracker) Online(_ context.Context, userID string) (bool, error) {
	t.mu.RLock()
	last, ok := t.seen[userID]
	t.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return t.clock().Sub(last) <= t.ttl, nil
}

// ActiveUsers returns every user inside the liveness window, sorted for
// deterministic output. Stale entries are pruned as a side effect.
func (t *MemoryTracker) ActiveUsers(_ context.Context) ([]string, error) {
	now := t.clock()
	t.mu.Lock()
	active := make([]string, 0, len(t.seen))
	for userID, last := range t.seen {
		if now.Sub(last) > t.ttl {
			delete(t.seen, userID)
			continue
		}
		active = append(active, userID)
	}
	t.mu.Unlock()
	sort.Strings(active)
	return active, nil
}
