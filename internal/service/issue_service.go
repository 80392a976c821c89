package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/civicworks/civic-ops-api/internal/models"
	"github.com/civicworks/civic-ops-api/internal/repository"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
	"github.com/civicworks/civic-ops-api/pkg/export"
)

type issueRepository interface {
	List(ctx context.Context, filter models.IssueFilter) ([]models.IssueSummary, int, error)
	FindByID(ctx context.Context, id int64) (*models.Issue, error)
	Create(ctx context.Context, issue *models.Issue) error
	UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error
	AppendComment(ctx context.Context, comment *models.Comment) error
}

type issueResolver interface {
	Resolve(ctx context.Context, params repository.ResolveParams) error
}

// EngineConfig carries the lifecycle engine tunables.
type EngineConfig struct {
	BusyThreshold int
	AllowReassign bool
}

// ReportIssueRequest holds the payload for filing a new issue.
type ReportIssueRequest struct {
	Title       string          `json:"title" validate:"required"`
	Description string          `json:"description" validate:"required"`
	Category    string          `json:"category" validate:"required"`
	Priority    string          `json:"priority" validate:"required"`
	Ward        string          `json:"ward" validate:"required"`
	Location    models.Location `json:"location"`
	ReportedBy  models.Reporter `json:"reportedBy"`
	Tags        []string        `json:"tags"`
}

// AdvanceStatusRequest holds the payload for a status change. Reason is
// mandatory when the change is not the next forward step.
type AdvanceStatusRequest struct {
	Status string `json:"status" validate:"required"`
	Reason string `json:"reason"`
}

// AddCommentRequest holds the payload for a new comment.
type AddCommentRequest struct {
	Author  string `json:"author" validate:"required"`
	Message string `json:"message" validate:"required"`
}

const (
	issueListCacheKeyPrefix = "civic:issues:v1:"
	issueListCachePattern   = "civic:issues:*"
)

type issueListPayload struct {
	Issues     []models.IssueSummary `json:"issues"`
	Pagination *models.Pagination    `json:"pagination"`
}

// IssueService handles the issue lifecycle use-cases.
type IssueService struct {
	repo      issueRepository
	resolver  issueResolver
	cache     *CacheService
	audit     *AuditService
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	engine    EngineConfig
}

// NewIssueService constructs the issue service.
func NewIssueService(repo issueRepository, resolver issueResolver, cache *CacheService, audit *AuditService, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger, engine EngineConfig) *IssueService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if engine.BusyThreshold <= 0 {
		engine.BusyThreshold = 4
	}
	return &IssueService{repo: repo, resolver: resolver, cache: cache, audit: audit, metrics: metrics, validator: validate, logger: logger, engine: engine}
}

// List returns issue summaries and pagination metadata, served from
// cache when possible.
func (s *IssueService) List(ctx context.Context, filter models.IssueFilter) ([]models.IssueSummary, *models.Pagination, error) {
	key := issueListCacheKey(filter)
	if s.cache.Enabled() {
		var cached issueListPayload
		if hit, err := s.cache.Get(ctx, key, &cached); err == nil && hit {
			return cached.Issues, cached.Pagination, nil
		}
	}

	start := time.Now()
	issues, total, err := s.repo.List(ctx, filter)
	if s.metrics != nil {
		s.metrics.ObserveDBQuery("issues_list", time.Since(start))
	}
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list issues")
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

	if s.cache.Enabled() {
		if err := s.cache.Set(ctx, key, issueListPayload{Issues: issues, Pagination: pagination}, 0); err != nil {
			s.logger.Debug("issue list cache store skipped", zap.Error(err))
		}
	}
	return issues, pagination, nil
}

// Get returns an issue with its timeline and comments.
func (s *IssueService) Get(ctx context.Context, id int64) (*models.Issue, error) {
	issue, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load issue")
	}
	return issue, nil
}

// Report files a new issue. It always enters the lifecycle as new with
// a report timeline entry.
func (s *IssueService) Report(ctx context.Context, req ReportIssueRequest) (*models.Issue, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid issue payload")
	}
	priority := models.Priority(req.Priority)
	if !priority.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown priority %q", req.Priority))
	}
	if strings.TrimSpace(req.ReportedBy.Name) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reporter name is required")
	}

	issue := &models.Issue{
		Title:       req.Title,
		Description: req.Description,
		Category:    req.Category,
		Status:      models.IssueStatusNew,
		Priority:    priority,
		Location:    req.Location,
		Ward:        req.Ward,
		ReportedBy:  req.ReportedBy,
		Tags:        pq.StringArray(req.Tags),
	}
	if err := s.repo.Create(ctx, issue); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create issue")
	}

	s.invalidateLists(ctx)
	return s.Get(ctx, issue.ID)
}

// AdvanceStatus applies a status change to an issue. The regular path
// only permits the next forward lifecycle step; anything else is an
// override and requires a reason. Moving into resolved releases the
// active assignment and returns capacity to the worker.
func (s *IssueService) AdvanceStatus(ctx context.Context, id int64, actor string, req AdvanceStatusRequest) (*models.Issue, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	target := models.IssueStatus(req.Status)
	if !target.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown status %q", req.Status))
	}

	issue, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if issue.Status == target {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("issue is already %s", target))
	}
	if issue.Status == models.IssueStatusResolved {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "resolved issues cannot change status")
	}

	reason := strings.TrimSpace(req.Reason)
	override := !isForwardTransition(issue.Status, target)
	if override {
		if !isOverridable(target) {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("cannot move an issue back to %s", target))
		}
		if reason == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "a reason is required when skipping or reverting lifecycle steps")
		}
	}
	if requiresAssignee(target) && issue.AssignedTo == nil {
		return nil, appErrors.Clone(appErrors.ErrAssignmentRequired, fmt.Sprintf("issue must be assigned before it can be %s", target))
	}

	details := fmt.Sprintf("Status changed from %s to %s", issue.Status, target)
	if reason != "" {
		details += ": " + reason
	}

	if target == models.IssueStatusResolved {
		err = s.resolver.Resolve(ctx, repository.ResolveParams{
			IssueID:       id,
			Actor:         actor,
			Details:       details,
			BusyThreshold: s.engine.BusyThreshold,
		})
	} else {
		entry := models.TimelineEntry{
			Date:    time.Now().UTC(),
			Action:  fmt.Sprintf("Status updated to %s", target),
			Actor:   actor,
			Type:    models.TimelineEntryStatusUpdate,
			Details: details,
		}
		err = s.repo.UpdateStatus(ctx, repository.UpdateStatusParams{
			IssueID:  id,
			Expected: issue.Status,
			To:       target,
			Entry:    entry,
		})
	}
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "issue not found")
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update issue status")
	}

	s.metrics.RecordTransition(issue.Status, target)
	action := models.AuditActionStatusAdvance
	if override {
		action = models.AuditActionStatusOverride
	}
	s.audit.Record(actor, action, "issue", strconv.FormatInt(id, 10), map[string]string{
		"from":   string(issue.Status),
		"to":     string(target),
		"reason": reason,
	})
	s.invalidateLists(ctx)

	return s.Get(ctx, id)
}

// AddComment appends a comment to an issue and returns the updated
// issue. Comments never touch the issue status or timeline.
func (s *IssueService) AddComment(ctx context.Context, id int64, req AddCommentRequest) (*models.Issue, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid comment payload")
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "comment message cannot be blank")
	}

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	comment := &models.Comment{
		IssueID: id,
		Author:  req.Author,
		Date:    time.Now().UTC(),
		Message: message,
	}
	if err := s.repo.AppendComment(ctx, comment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store comment")
	}

	s.audit.Record(req.Author, models.AuditActionAddComment, "issue", strconv.FormatInt(id, 10), nil)
	return s.Get(ctx, id)
}

// Export renders the filtered issue list in the requested format.
func (s *IssueService) Export(ctx context.Context, filter models.IssueFilter, format export.Format) ([]byte, string, error) {
	exporter, err := export.ForFormat(format)
	if err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrValidation, err.Error())
	}

	filter.Page = 1
	if filter.PageSize <= 0 || filter.PageSize > 200 {
		filter.PageSize = 200
	}
	issues, _, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list issues for export")
	}

	dataset := export.Dataset{
		Headers: []string{"ID", "Title", "Category", "Status", "Priority", "Ward", "Address", "Reported", "Assigned To"},
	}
	for _, issue := range issues {
		assigned := ""
		if issue.AssignedTo != nil {
			assigned = strconv.FormatInt(*issue.AssignedTo, 10)
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"ID":          strconv.FormatInt(issue.ID, 10),
			"Title":       issue.Title,
			"Category":    issue.Category,
			"Status":      string(issue.Status),
			"Priority":    string(issue.Priority),
			"Ward":        issue.Ward,
			"Address":     issue.Address,
			"Reported":    issue.ReportedDate.Format("2006-01-02"),
			"Assigned To": assigned,
		})
	}

	payload, err := exporter.Render(dataset, "Civic Issues")
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return payload, exporter.ContentType(), nil
}

func (s *IssueService) invalidateLists(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, issueListCachePattern); err != nil {
		s.logger.Debug("issue list cache invalidation skipped", zap.Error(err))
	}
}

func issueListCacheKey(f models.IssueFilter) string {
	return issueListCacheKeyPrefix + strings.Join([]string{
		f.Status, f.Priority, f.Category, f.Ward, f.Search, string(f.Sort),
		strconv.Itoa(f.Page), strconv.Itoa(f.PageSize),
	}, "|")
}
