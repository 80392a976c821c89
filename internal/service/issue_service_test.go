package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicworks/civic-ops-api/internal/models"
	"github.com/civicworks/civic-ops-api/internal/repository"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
	"github.com/civicworks/civic-ops-api/pkg/export"
)

type mockIssueRepo struct {
	issues     map[int64]models.Issue
	comments   []models.Comment
	lastUpdate repository.UpdateStatusParams
	listTotal  int
	err        error
}

func (m *mockIssueRepo) List(ctx context.Context, filter models.IssueFilter) ([]models.IssueSummary, int, error) {
	if m.err != nil {
		return nil, 0, m.err
	}
	summaries := make([]models.IssueSummary, 0, len(m.issues))
	for _, issue := range m.issues {
		summaries = append(summaries, models.IssueSummary{
			ID:       issue.ID,
			Title:    issue.Title,
			Category: issue.Category,
			Status:   issue.Status,
			Priority: issue.Priority,
			Ward:     issue.Ward,
		})
	}
	return summaries, m.listTotal, nil
}

func (m *mockIssueRepo) FindByID(ctx context.Context, id int64) (*models.Issue, error) {
	if issue, ok := m.issues[id]; ok {
		copied := issue
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockIssueRepo) Create(ctx context.Context, issue *models.Issue) error {
	if m.issues == nil {
		m.issues = make(map[int64]models.Issue)
	}
	if issue.ID == 0 {
		issue.ID = int64(len(m.issues) + 1)
	}
	if issue.ReportedDate.IsZero() {
		issue.ReportedDate = time.Now().UTC()
	}
	m.issues[issue.ID] = *issue
	return nil
}

func (m *mockIssueRepo) UpdateStatus(ctx context.Context, params repository.UpdateStatusParams) error {
	m.lastUpdate = params
	issue, ok := m.issues[params.IssueID]
	if !ok {
		return sql.ErrNoRows
	}
	if issue.Status != params.Expected {
		return appErrors.Clone(appErrors.ErrConflict, "issue was modified concurrently")
	}
	issue.Status = params.To
	m.issues[params.IssueID] = issue
	return nil
}

func (m *mockIssueRepo) AppendComment(ctx context.Context, comment *models.Comment) error {
	m.comments = append(m.comments, *comment)
	if issue, ok := m.issues[comment.IssueID]; ok {
		issue.Comments = append(issue.Comments, *comment)
		m.issues[comment.IssueID] = issue
	}
	return nil
}

type mockResolver struct {
	calls []repository.ResolveParams
	err   error
	repo  *mockIssueRepo
}

func (m *mockResolver) Resolve(ctx context.Context, params repository.ResolveParams) error {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return m.err
	}
	if m.repo != nil {
		issue := m.repo.issues[params.IssueID]
		issue.Status = models.IssueStatusResolved
		issue.AssignedTo = nil
		m.repo.issues[params.IssueID] = issue
	}
	return nil
}

func newIssueService(repo *mockIssueRepo, resolver *mockResolver) *IssueService {
	return NewIssueService(repo, resolver, nil, nil, nil, validator.New(), zap.NewNop(), EngineConfig{BusyThreshold: 4})
}

func issueFixture(id int64, status models.IssueStatus, assignedTo *int64) models.Issue {
	return models.Issue{
		ID:       id,
		Title:    "Pothole on MG Road",
		Category: "Roads",
		Status:   status,
		Priority: models.PriorityHigh,
		Ward:     "Ward 12",
		ReportedBy: models.Reporter{
			Name: "Asha Rao",
		},
		AssignedTo: assignedTo,
	}
}

func TestIssueServiceAdvanceStatusForward(t *testing.T) {
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusNew, nil)}}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	issue, err := svc.AdvanceStatus(context.Background(), 1, "Inspector Devi", AdvanceStatusRequest{Status: "verified"})
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusVerified, issue.Status)
	assert.Equal(t, models.IssueStatusNew, repo.lastUpdate.Expected)
	assert.Equal(t, models.TimelineEntryStatusUpdate, repo.lastUpdate.Entry.Type)
	assert.Equal(t, "Status changed from new to verified", repo.lastUpdate.Entry.Details)
	assert.Equal(t, "Inspector Devi", repo.lastUpdate.Entry.Actor)
}

func TestIssueServiceAdvanceStatusOverrideEntryKeepsReason(t *testing.T) {
	worker := int64(7)
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusInProgress, &worker)}}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	_, err := svc.AdvanceStatus(context.Background(), 1, "Supervisor Khan", AdvanceStatusRequest{Status: "verified", Reason: "crew dispatched to the wrong site"})
	require.NoError(t, err)
	assert.Equal(t, models.TimelineEntryStatusUpdate, repo.lastUpdate.Entry.Type)
	assert.Equal(t, "Status changed from in-progress to verified: crew dispatched to the wrong site", repo.lastUpdate.Entry.Details)
}

func TestIssueServiceAdvanceStatusNoOp(t *testing.T) {
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusVerified, nil)}}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	_, err := svc.AdvanceStatus(context.Background(), 1, "ops", AdvanceStatusRequest{Status: "verified"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestIssueServiceAdvanceStatusResolvedIsTerminal(t *testing.T) {
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusResolved, nil)}}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	_, err := svc.AdvanceStatus(context.Background(), 1, "ops", AdvanceStatusRequest{Status: "in-progress", Reason: "reopening"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestIssueServiceAdvanceStatusOverrideNeedsReason(t *testing.T) {
	worker := int64(7)
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusAssigned, &worker)}}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	// assigned -> resolved skips in-progress, so it needs a reason.
	_, err := svc.AdvanceStatus(context.Background(), 1, "ops", AdvanceStatusRequest{Status: "resolved", Reason: "   "})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestIssueServiceAdvanceStatusOverrideWithReason(t *testing.T) {
	worker := int64(7)
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusAssigned, &worker)}}
	resolver := &mockResolver{repo: repo}
	svc := newIssueService(repo, resolver)

	issue, err := svc.AdvanceStatus(context.Background(), 1, "Supervisor Khan", AdvanceStatusRequest{Status: "resolved", Reason: "fixed during inspection"})
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusResolved, issue.Status)
	require.Len(t, resolver.calls, 1)
	assert.Equal(t, "Status changed from assigned to resolved: fixed during inspection", resolver.calls[0].Details)
	assert.Equal(t, 4, resolver.calls[0].BusyThreshold)
}

func TestIssueServiceAdvanceStatusNeverBackToNew(t *testing.T) {
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusVerified, nil)}}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	_, err := svc.AdvanceStatus(context.Background(), 1, "ops", AdvanceStatusRequest{Status: "new", Reason: "undo"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestIssueServiceAdvanceStatusRequiresAssignee(t *testing.T) {
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusVerified, nil)}}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	_, err := svc.AdvanceStatus(context.Background(), 1, "ops", AdvanceStatusRequest{Status: "in-progress", Reason: "crew already on site"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrAssignmentRequired))
}

func TestIssueServiceAdvanceStatusUnknownStatus(t *testing.T) {
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusNew, nil)}}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	_, err := svc.AdvanceStatus(context.Background(), 1, "ops", AdvanceStatusRequest{Status: "closed"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestIssueServiceAdvanceStatusNotFound(t *testing.T) {
	svc := newIssueService(&mockIssueRepo{}, &mockResolver{})

	_, err := svc.AdvanceStatus(context.Background(), 99, "ops", AdvanceStatusRequest{Status: "verified"})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestIssueServiceReport(t *testing.T) {
	repo := &mockIssueRepo{}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	issue, err := svc.Report(context.Background(), ReportIssueRequest{
		Title:       "Streetlight out",
		Description: "Lamp post 14 dark for three nights",
		Category:    "Electrical",
		Priority:    "medium",
		Ward:        "Ward 3",
		ReportedBy:  models.Reporter{Name: "Ravi Kumar"},
		Tags:        []string{"streetlight"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.IssueStatusNew, issue.Status)
	assert.NotZero(t, issue.ID)
}

func TestIssueServiceReportUnknownPriority(t *testing.T) {
	svc := newIssueService(&mockIssueRepo{}, &mockResolver{})

	_, err := svc.Report(context.Background(), ReportIssueRequest{
		Title:       "Streetlight out",
		Description: "Lamp post 14 dark",
		Category:    "Electrical",
		Priority:    "urgent",
		Ward:        "Ward 3",
		ReportedBy:  models.Reporter{Name: "Ravi Kumar"},
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestIssueServiceAddComment(t *testing.T) {
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusNew, nil)}}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	issue, err := svc.AddComment(context.Background(), 1, AddCommentRequest{Author: "Asha Rao", Message: "  still open  "})
	require.NoError(t, err)
	require.Len(t, repo.comments, 1)
	assert.Equal(t, "still open", repo.comments[0].Message)
	require.Len(t, issue.Comments, 1)
	assert.Equal(t, "still open", issue.Comments[0].Message)
	// The issue status is untouched by comments.
	assert.Equal(t, models.IssueStatusNew, issue.Status)
}

func TestIssueServiceAddCommentBlankMessage(t *testing.T) {
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusNew, nil)}}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	_, err := svc.AddComment(context.Background(), 1, AddCommentRequest{Author: "Asha Rao", Message: "   "})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, repo.comments)
}

func TestIssueServiceListPaginationDefaults(t *testing.T) {
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusNew, nil)}, listTotal: 1}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	issues, pagination, err := svc.List(context.Background(), models.IssueFilter{})
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 50, pagination.PageSize)
	assert.Equal(t, 1, pagination.TotalCount)
}

func TestIssueServiceExportCSV(t *testing.T) {
	repo := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusNew, nil)}, listTotal: 1}
	svc := newIssueService(repo, &mockResolver{repo: repo})

	payload, contentType, err := svc.Export(context.Background(), models.IssueFilter{}, export.FormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", contentType)
	assert.Contains(t, string(payload), "Pothole on MG Road")
}

func TestIssueServiceExportUnknownFormat(t *testing.T) {
	svc := newIssueService(&mockIssueRepo{}, &mockResolver{})

	_, _, err := svc.Export(context.Background(), models.IssueFilter{}, export.Format("xlsx"))
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
