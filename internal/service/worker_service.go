package service

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/civicworks/civic-ops-api/internal/models"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
)

type workerRepository interface {
	List(ctx context.Context, filter models.WorkerFilter) ([]models.Worker, int, error)
	FindByID(ctx context.Context, id int64) (*models.Worker, error)
	Create(ctx context.Context, worker *models.Worker) error
	SetLeave(ctx context.Context, id int64, onLeave bool, busyThreshold int) error
}

// CreateWorkerRequest holds the payload for registering a worker.
type CreateWorkerRequest struct {
	Name        string   `json:"name" validate:"required"`
	Role        string   `json:"role" validate:"required"`
	Ward        string   `json:"ward" validate:"required"`
	Phone       *string  `json:"phone"`
	Email       *string  `json:"email" validate:"omitempty,email"`
	Rating      float64  `json:"rating" validate:"gte=0,lte=5"`
	Specialties []string `json:"specialties"`
}

// SetLeaveRequest holds the payload for toggling worker leave.
type SetLeaveRequest struct {
	OnLeave bool `json:"onLeave"`
}

// WorkerService handles worker roster use-cases.
type WorkerService struct {
	repo      workerRepository
	audit     *AuditService
	validator *validator.Validate
	logger    *zap.Logger
	engine    EngineConfig
}

// NewWorkerService constructs the worker service.
func NewWorkerService(repo workerRepository, audit *AuditService, validate *validator.Validate, logger *zap.Logger, engine EngineConfig) *WorkerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine.BusyThreshold <= 0 {
		engine.BusyThreshold = 4
	}
	return &WorkerService{repo: repo, audit: audit, validator: validate, logger: logger, engine: engine}
}

// List returns workers and pagination metadata.
func (s *WorkerService) List(ctx context.Context, filter models.WorkerFilter) ([]models.Worker, *models.Pagination, error) {
	workers, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list workers")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	pagination := &models.Pagination{Page: page, PageSize: size, TotalCount: total}
	return workers, pagination, nil
}

// Get returns a single worker.
func (s *WorkerService) Get(ctx context.Context, id int64) (*models.Worker, error) {
	worker, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "worker not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load worker")
	}
	return worker, nil
}

// Create registers a new worker. New workers start available with no
// active assignments.
func (s *WorkerService) Create(ctx context.Context, req CreateWorkerRequest) (*models.Worker, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid worker payload")
	}
	worker := &models.Worker{
		Name:        req.Name,
		Role:        req.Role,
		Ward:        req.Ward,
		Phone:       req.Phone,
		Email:       req.Email,
		Status:      models.WorkerStatusAvailable,
		Rating:      req.Rating,
		Specialties: pq.StringArray(req.Specialties),
	}
	if err := s.repo.Create(ctx, worker); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create worker")
	}
	return worker, nil
}

// SetLeave places a worker on leave or returns them to duty. Returning
// re-derives availability from the worker's active assignments.
func (s *WorkerService) SetLeave(ctx context.Context, id int64, actor string, req SetLeaveRequest) (*models.Worker, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if err := s.repo.SetLeave(ctx, id, req.OnLeave, s.engine.BusyThreshold); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "worker not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update worker leave")
	}
	s.audit.Record(actor, models.AuditActionWorkerLeave, "worker", strconv.FormatInt(id, 10), map[string]bool{"onLeave": req.OnLeave})
	return s.Get(ctx, id)
}
