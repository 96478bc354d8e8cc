package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/planora/planora-auth/internal/models"
	"github.com/planora/planora-auth/pkg/jobs"
)

type fakeAuditStore struct {
	mu       sync.Mutex
	entries  []*models.AuditEntry
	failures int
}

func (f *fakeAuditStore) CreateAuditEntry(_ context.Context, entry *models.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("transient insert failure")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestAuditServiceRecords(t *testing.T) {
	store := &fakeAuditStore{}
	svc := NewAuditService(store, zap.NewNop(), jobs.QueueConfig{Workers: 1, BufferSize: 8})
	svc.Start(context.Background())
	defer svc.Stop()

	actor := "u1"
	svc.Record(models.AuditEventLoginSuccess, &actor, map[string]interface{}{"jti": "jti-1"}, models.RequestMeta{IP: "10.0.0.1"})

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	entry := store.entries[0]
	assert.Equal(t, models.AuditEventLoginSuccess, entry.EventType)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, "u1", *entry.ActorID)
	assert.Contains(t, string(entry.Metadata), "jti-1")
}

func TestAuditServiceStampsEventTimeAtRecord(t *testing.T) {
	store := &fakeAuditStore{}
	svc := NewAuditService(store, zap.NewNop(), jobs.QueueConfig{Workers: 1, BufferSize: 8})
	svc.Start(context.Background())
	defer svc.Stop()

	// The timestamp is bound by the Record call, not the later insert:
	// a backlogged queue must not shift the recorded event time.
	before := time.Now().UTC()
	svc.Record(models.AuditEventLoginFailure, nil, nil, models.RequestMeta{})
	after := time.Now().UTC()

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 10*time.Millisecond)

	store.mu.Lock()
	defer store.mu.Unlock()
	created := store.entries[0].CreatedAt
	assert.False(t, created.Before(before))
	assert.False(t, created.After(after))
}

func TestAuditServiceRetriesTransientFailure(t *testing.T) {
	store := &fakeAuditStore{failures: 1}
	svc := NewAuditService(store, zap.NewNop(), jobs.QueueConfig{Workers: 1, BufferSize: 8, MaxRetries: 2, RetryDelay: 10 * time.Millisecond})
	svc.Start(context.Background())
	defer svc.Stop()

	svc.Record(models.AuditEventLogout, nil, nil, models.RequestMeta{})

	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 10*time.Millisecond)
}

func TestAuditServiceRecordBeforeStartDoesNotPanic(t *testing.T) {
	store := &fakeAuditStore{}
	svc := NewAuditService(store, zap.NewNop(), jobs.QueueConfig{})

	// Best-effort: recording against a stopped queue is dropped quietly.
	svc.Record(models.AuditEventLogout, nil, nil, models.RequestMeta{})
	assert.Equal(t, 0, store.count())
}
