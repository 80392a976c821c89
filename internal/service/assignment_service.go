package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/civicworks/civic-ops-api/internal/models"
	"github.com/civicworks/civic-ops-api/internal/repository"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
)

type assignmentRepository interface {
	Assign(ctx context.Context, params repository.AssignParams) (*models.Assignment, error)
	ListByIssue(ctx context.Context, issueID int64) ([]models.Assignment, error)
	ListByWorker(ctx context.Context, workerID int64) ([]models.Assignment, error)
}

type candidateRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Worker, error)
	ListCandidates(ctx context.Context) ([]models.Worker, error)
}

type assignmentIssueReader interface {
	FindByID(ctx context.Context, id int64) (*models.Issue, error)
}

// AssignWorkerRequest holds the payload for an assignment command.
type AssignWorkerRequest struct {
	WorkerID int64 `json:"workerId" validate:"required"`
	Reassign bool  `json:"reassign"`
}

const defaultSuggestionLimit = 5

// AssignmentService coordinates worker-issue assignments.
type AssignmentService struct {
	repo      assignmentRepository
	workers   candidateRepository
	issues    assignmentIssueReader
	cache     *CacheService
	audit     *AuditService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	engine    EngineConfig
}

// NewAssignmentService constructs the assignment service.
func NewAssignmentService(repo assignmentRepository, workers candidateRepository, issues assignmentIssueReader, cache *CacheService, audit *AuditService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, engine EngineConfig) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine.BusyThreshold <= 0 {
		engine.BusyThreshold = 4
	}
	return &AssignmentService{repo: repo, workers: workers, issues: issues, cache: cache, audit: audit, metrics: metrics, validator: validate, logger: logger, engine: engine}
}

// AssignWorker binds a worker to an issue. A busy worker may still be
// assigned; only workers on leave are refused. Reassignment must be
// requested explicitly and enabled in configuration.
func (s *AssignmentService) AssignWorker(ctx context.Context, issueID int64, actor string, req AssignWorkerRequest) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if req.Reassign && !s.engine.AllowReassign {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "reassignment is disabled")
	}

	if _, err := s.issues.FindByID(ctx, issueID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue")
	}
	if _, err := s.workers.FindByID(ctx, req.WorkerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "worker not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load worker")
	}

	assignment, err := s.repo.Assign(ctx, repository.AssignParams{
		IssueID:       issueID,
		WorkerID:      req.WorkerID,
		Actor:         actor,
		Reassign:      req.Reassign,
		BusyThreshold: s.engine.BusyThreshold,
	})
	if err != nil {
		s.metrics.RecordAssignment("rejected")
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue or worker not found")
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to assign worker")
	}

	s.metrics.RecordAssignment("assigned")
	s.audit.Record(actor, models.AuditActionAssignWorker, "issue", strconv.FormatInt(issueID, 10), map[string]interface{}{
		"workerId": req.WorkerID,
		"reassign": req.Reassign,
	})
	if err := s.cache.Invalidate(ctx, issueListCachePattern); err != nil {
		s.logger.Debug("issue list cache invalidation skipped", zap.Error(err))
	}
	return assignment, nil
}

// SuggestWorkers ranks assignment candidates for an issue. Workers on
// leave never appear. Candidates whose specialties cover the issue
// category rank first, then lighter current workloads, then higher
// ratings; remaining ties fall back to worker id.
func (s *AssignmentService) SuggestWorkers(ctx context.Context, issueID int64, limit int) ([]models.WorkerSuggestion, error) {
	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue")
	}
	if issue.Status == models.IssueStatusResolved {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot suggest workers for a resolved issue")
	}

	candidates, err := s.workers.ListCandidates(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list candidate workers")
	}

	suggestions := make([]models.WorkerSuggestion, 0, len(candidates))
	for _, worker := range candidates {
		suggestions = append(suggestions, models.WorkerSuggestion{
			Worker:         worker,
			SpecialtyMatch: hasSpecialty(worker, issue.Category),
		})
	}
	sort.SliceStable(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.SpecialtyMatch != b.SpecialtyMatch {
			return a.SpecialtyMatch
		}
		if a.CurrentAssignments != b.CurrentAssignments {
			return a.CurrentAssignments < b.CurrentAssignments
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return a.ID < b.ID
	})

	if limit <= 0 {
		limit = defaultSuggestionLimit
	}
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

// History returns the assignment records for an issue, newest first.
func (s *AssignmentService) History(ctx context.Context, issueID int64) ([]models.Assignment, error) {
	if _, err := s.issues.FindByID(ctx, issueID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue")
	}
	assignments, err := s.repo.ListByIssue(ctx, issueID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	return assignments, nil
}

// WorkerHistory returns the assignment records for a worker, newest first.
func (s *AssignmentService) WorkerHistory(ctx context.Context, workerID int64) ([]models.Assignment, error) {
	if _, err := s.workers.FindByID(ctx, workerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "worker not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load worker")
	}
	assignments, err := s.repo.ListByWorker(ctx, workerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, fmt.Sprintf("failed to list assignments for worker %d", workerID))
	}
	return assignments, nil
}

func hasSpecialty(worker models.Worker, category string) bool {
	for _, specialty := range worker.Specialties {
		if strings.EqualFold(specialty, category) {
			return true
		}
	}
	return false
}
