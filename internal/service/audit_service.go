package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/civicworks/civic-ops-api/internal/models"
	"github.com/civicworks/civic-ops-api/pkg/jobs"
)

type auditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
}

// AuditService records audit entries off the request path through a
// background queue. A failed enqueue degrades to a log line rather than
// failing the request.
type AuditService struct {
	repo    auditRepository
	queue   *jobs.Queue
	logger  *zap.Logger
	enabled bool
}

// AuditConfig tunes the background writer.
type AuditConfig struct {
	Enabled    bool
	Workers    int
	BufferSize int
}

// NewAuditService constructs the audit service and its queue.
func NewAuditService(repo auditRepository, cfg AuditConfig, logger *zap.Logger) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &AuditService{repo: repo, logger: logger, enabled: cfg.Enabled && repo != nil}
	s.queue = jobs.NewQueue("audit", s.handle, jobs.QueueConfig{
		Workers:    cfg.Workers,
		BufferSize: cfg.BufferSize,
		Logger:     logger,
	})
	return s
}

// Start begins background processing.
func (s *AuditService) Start(ctx context.Context) {
	if s == nil || !s.enabled {
		return
	}
	s.queue.Start(ctx)
}

// Stop drains the queue workers.
func (s *AuditService) Stop() {
	if s == nil || !s.enabled {
		return
	}
	s.queue.Stop()
}

// Record enqueues an audit entry. Details must be JSON-marshalable.
func (s *AuditService) Record(actor, action, resource, resourceID string, details interface{}) {
	if s == nil || !s.enabled {
		return
	}
	entry := &models.AuditLog{
		ID:         uuid.NewString(),
		Actor:      actor,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		CreatedAt:  time.Now().UTC(),
	}
	if details != nil {
		payload, err := json.Marshal(details)
		if err != nil {
			s.logger.Warn("audit details not serializable", zap.String("action", action), zap.Error(err))
		} else {
			entry.Details = payload
		}
	}
	if err := s.queue.Enqueue(jobs.Job{ID: entry.ID, Type: action, Payload: entry}); err != nil {
		s.logger.Warn("audit enqueue failed", zap.String("action", action), zap.Error(err))
	}
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	entry, ok := job.Payload.(*models.AuditLog)
	if !ok {
		s.logger.Warn("audit job carried unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return s.repo.Create(ctx, entry)
}
