package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryTrackerLockoutAfterThreshold(t *testing.T) {
	tracker := NewMemoryTracker(Config{MaxFailures: 3, Window: time.Minute, LockoutDuration: time.Minute})
	ctx := context.Background()

	locked, err := tracker.RegisterFailure(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, locked)

	locked, err = tracker.RegisterFailure(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, locked)

	locked, err = tracker.RegisterFailure(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, locked)

	locked, err = tracker.Locked(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, locked)
}

func TestMemoryTrackerResetClearsCounter(t *testing.T) {
	tracker := NewMemoryTracker(Config{MaxFailures: 3, Window: time.Minute, LockoutDuration: time.Minute})
	ctx := context.Background()

	_, err := tracker.RegisterFailure(ctx, "alice")
	require.NoError(t, err)
	_, err = tracker.RegisterFailure(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 2, tracker.Failures(ctx, "alice"))

	require.NoError(t, tracker.Reset(ctx, "alice"))
	assert.Equal(t, 0, tracker.Failures(ctx, "alice"))

	locked, err := tracker.Locked(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestMemoryTrackerWindowExpiry(t *testing.T) {
	tracker := NewMemoryTracker(Config{MaxFailures: 3, Window: time.Minute, LockoutDuration: time.Minute})
	current := time.Now()
	tracker.now = func() time.Time { return current }
	ctx := context.Background()

	_, err := tracker.RegisterFailure(ctx, "alice")
	require.NoError(t, err)
	_, err = tracker.RegisterFailure(ctx, "alice")
	require.NoError(t, err)

	// Past the window the counter restarts from scratch.
	current = current.Add(2 * time.Minute)
	locked, err := tracker.RegisterFailure(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, locked)
	assert.Equal(t, 1, tracker.Failures(ctx, "alice"))
}

func TestMemoryTrackerLockoutExpires(t *testing.T) {
	tracker := NewMemoryTracker(Config{MaxFailures: 1, Window: time.Minute, LockoutDuration: time.Minute})
	current := time.Now()
	tracker.now = func() time.Time { return current }
	ctx := context.Background()

	locked, err := tracker.RegisterFailure(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, locked)

	current = current.Add(2 * time.Minute)
	locked, err = tracker.Locked(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, locked)
}

func TestMemoryTrackerSweep(t *testing.T) {
	tracker := NewMemoryTracker(Config{MaxFailures: 5, Window: time.Minute, LockoutDuration: time.Minute})
	current := time.Now()
	tracker.now = func() time.Time { return current }
	ctx := context.Background()

	_, err := tracker.RegisterFailure(ctx, "alice")
	require.NoError(t, err)
	_, err = tracker.RegisterFailure(ctx, "bob")
	require.NoError(t, err)

	current = current.Add(2 * time.Minute)
	tracker.Sweep()

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	assert.Empty(t, tracker.entries)
}
