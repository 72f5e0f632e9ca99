package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/edutrack-api/internal/models"
	"github.com/noah-isme/edutrack-api/pkg/jobs"
)

const auditJobKind = "audit_log"

type auditStore interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditService moves audit writes off the request path. When the buffer is
// full the row is written inline instead of being dropped.
type AuditService struct {
	store  auditStore
	queue  *jobs.Queue
	logger *zap.Logger
	now    func() time.Time
}

// NewAuditService starts a worker pool that persists audit rows through store.
func NewAuditService(store auditStore, logger *zap.Logger, workers int) *AuditService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &AuditService{store: store, logger: logger, now: time.Now}
	svc.queue = jobs.New("audit", svc.handle, jobs.Config{
		Workers:    workers,
		MaxRetries: 2,
		Logger:     logger,
	})
	svc.queue.Start()
	return svc
}

// CreateAuditLog stamps the row and queues it.
func (s *AuditService) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	if log == nil {
		return nil
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = s.now().UTC()
	}
	err := s.queue.Submit(jobs.Job{Kind: auditJobKind, Payload: log})
	if err == nil {
		return nil
	}
	if errors.Is(err, jobs.ErrQueueFull) || errors.Is(err, jobs.ErrQueueClosed) {
		s.logger.Debug("audit queue unavailable, writing inline", zap.Error(err))
		return s.store.CreateAuditLog(ctx, log)
	}
	return err
}

// Close drains pending rows.
func (s *AuditService) Close(ctx context.Context) error {
	return s.queue.Stop(ctx)
}

func (s *AuditService) handle(ctx context.Context, job jobs.Job) error {
	log, ok := job.Payload.(*models.AuditLog)
	if !ok {
		return fmt.Errorf("unexpected audit payload %T", job.Payload)
	}
	return s.store.CreateAuditLog(ctx, log)
}
