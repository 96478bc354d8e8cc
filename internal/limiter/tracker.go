// Package limiter tracks consecutive login failures per identity and
// enforces a temporary lockout once a configurable threshold is crossed
// inside a rolling window.
package limiter

import (
	"context"
	"sync"
	"time"
)

// AttemptTracker is the login failure counter consumed by the auth
// service. It must be called through the same code path for unknown
// identities and wrong passwords so the two failures are
// indistinguishable to a caller.
type AttemptTracker interface {
	// RegisterFailure increments the failure counter for identity and
	// reports whether the account is now locked.
	RegisterFailure(ctx context.Context, identity string) (bool, error)
	// Locked reports whether identity is currently locked out.
	Locked(ctx context.Context, identity string) (bool, error)
	// Reset clears the counter, typically after a successful login.
	Reset(ctx context.Context, identity string) error
}

// Config tunes the failure threshold and windows.
type Config struct {
	MaxFailures     int
	Window          time.Duration
	LockoutDuration time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.Window <= 0 {
		c.Window = 15 * time.Minute
	}
	if c.LockoutDuration <= 0 {
		c.LockoutDuration = 15 * time.Minute
	}
	return c
}

type memoryEntry struct {
	failures    int
	windowStart time.Time
	lockedUntil time.Time
}

// MemoryTracker is a process-local AttemptTracker backed by a TTL map.
// Suitable for single-process deployments; horizontally scaled setups
// should use the Redis tracker so counters are shared.
type MemoryTracker struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	config  Config
	now     func() time.Time
}

// NewMemoryTracker creates an in-memory tracker.
func NewMemoryTracker(cfg Config) *MemoryTracker {
	return &MemoryTracker{
		entries: make(map[string]*memoryEntry),
		config:  cfg.withDefaults(),
		now:     time.Now,
	}
}

// RegisterFailure increments the counter for identity, starting a new
// window when the previous one has elapsed.
func (t *MemoryTracker) RegisterFailure(_ context.Context, identity string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	entry, ok := t.entries[identity]
	if !ok || now.Sub(entry.windowStart) > t.config.Window {
		entry = &memoryEntry{windowStart: now}
		t.entries[identity] = entry
	}

	entry.failures++
	if entry.failures >= t.config.MaxFailures {
		entry.lockedUntil = now.Add(t.config.LockoutDuration)
	}

	return now.Before(entry.lockedUntil), nil
}

// Locked reports whether identity is inside an active lockout.
func (t *MemoryTracker) Locked(_ context.Context, identity string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[identity]
	if !ok {
		return false, nil
	}

	now := t.now()
	if !entry.lockedUntil.IsZero() && now.Before(entry.lockedUntil) {
		return true, nil
	}
	if now.Sub(entry.windowStart) > t.config.Window {
		delete(t.entries, identity)
	}
	return false, nil
}

// Reset clears the counter for identity.
func (t *MemoryTracker) Reset(_ context.Context, identity string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, identity)
	return nil
}

// Failures returns the current counter value for identity. Zero when the
// window has elapsed.
func (t *MemoryTracker) Failures(_ context.Context, identity string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.entries[identity]
	if !ok || t.now().Sub(entry.windowStart) > t.config.Window {
		return 0
	}
	return entry.failures
}

// Sweep drops expired entries. Callers may run it periodically to bound
// memory on long-lived processes.
func (t *MemoryTracker) Sweep() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for identity, entry := range t.entries {
		if now.Sub(entry.windowStart) > t.config.Window && !now.Before(entry.lockedUntil) {
			delete(t.entries, identity)
		}
	}
}
