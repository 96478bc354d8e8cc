package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/planora/planora-auth/internal/models"
	"github.com/planora/planora-auth/pkg/jobs"
)

type auditRepository interface {
	CreateAuditEntry(ctx context.Context, entry *models.AuditEntry) error
}

// AuditService appends security events to the audit trail through a
// background queue. Every path is best-effort: a full buffer, a stopped
// queue or a failed insert is logged and swallowed, never surfaced to
// the authentication operation that produced the event.
type AuditService struct {
	repo   auditRepository
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewAuditService builds the audit writer and its queue. Call Start
// before recording and Stop on shutdown to drain workers.
func NewAuditService(repo auditRepository, logger *zap.Logger, cfg jobs.QueueConfig) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{repo: repo, logger: logger}
	cfg.Logger = logger
	s.queue = jobs.NewQueue("audit", s.handle, cfg)
	return s
}

// Start begins background consumption.
func (s *AuditService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop shuts the queue down.
func (s *AuditService) Stop() {
	s.queue.Stop()
}

// Record enqueues an audit event. Metadata must carry only non-secret
// identifiers (jti, record id, reason codes), never token material.
func (s *AuditService) Record(eventType string, actorID *string, metadata map[string]interface{}, meta models.RequestMeta) {
	var payload []byte
	if len(metadata) > 0 {
		var err error
		payload, err = json.Marshal(metadata)
		if err != nil {
			s.logger.Warn("failed to encode audit metadata", zap.String("event", eventType), zap.Error(err))
			payload = nil
		}
	}

	// Stamped at enqueue time so a backlogged queue does not shift the
	// recorded event time to the insert.
	entry := &models.AuditEntry{
		ID:        uuid.NewString(),
		EventType: eventType,
		ActorID:   actorID,
		Metadata:  payload,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
		CreatedAt: time.Now().UTC(),
	}

	if !s.queue.TryEnqueue(jobs.Job{ID: entry.ID, Type: eventType, Payload: entry}) {
		s.logger.Warn("audit queue rejected event", zap.String("event", eventType))
	}
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditEntry)
	if !ok {
		s.logger.Warn("audit job carried unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.repo.CreateAuditEntry(ctx, entry)
}
