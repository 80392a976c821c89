package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicworks/civic-ops-api/internal/models"
	"github.com/civicworks/civic-ops-api/internal/repository"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
)

type mockAssignmentRepo struct {
	calls      []repository.AssignParams
	err        error
	byIssue    map[int64][]models.Assignment
	byWorker   map[int64][]models.Assignment
	assignment *models.Assignment
}

func (m *mockAssignmentRepo) Assign(ctx context.Context, params repository.AssignParams) (*models.Assignment, error) {
	m.calls = append(m.calls, params)
	if m.err != nil {
		return nil, m.err
	}
	if m.assignment != nil {
		return m.assignment, nil
	}
	return &models.Assignment{ID: "a-1", WorkerID: params.WorkerID, IssueID: params.IssueID, Status: models.AssignmentStatusActive}, nil
}

func (m *mockAssignmentRepo) ListByIssue(ctx context.Context, issueID int64) ([]models.Assignment, error) {
	return m.byIssue[issueID], nil
}

func (m *mockAssignmentRepo) ListByWorker(ctx context.Context, workerID int64) ([]models.Assignment, error) {
	return m.byWorker[workerID], nil
}

type mockCandidateRepo struct {
	workers    map[int64]models.Worker
	candidates []models.Worker
}

func (m *mockCandidateRepo) FindByID(ctx context.Context, id int64) (*models.Worker, error) {
	if worker, ok := m.workers[id]; ok {
		copied := worker
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockCandidateRepo) ListCandidates(ctx context.Context) ([]models.Worker, error) {
	return m.candidates, nil
}

func newAssignmentService(repo *mockAssignmentRepo, workers *mockCandidateRepo, issues *mockIssueRepo, allowReassign bool) *AssignmentService {
	engine := EngineConfig{BusyThreshold: 4, AllowReassign: allowReassign}
	return NewAssignmentService(repo, workers, issues, nil, nil, nil, validator.New(), zap.NewNop(), engine)
}

func workerFixture(id int64, assignments int, rating float64, specialties ...string) models.Worker {
	return models.Worker{
		ID:                 id,
		Name:               "Worker",
		Role:               "Technician",
		Ward:               "Ward 12",
		Status:             models.WorkerStatusAvailable,
		CurrentAssignments: assignments,
		Rating:             rating,
		Specialties:        pq.StringArray(specialties),
	}
}

func TestAssignmentServiceAssignWorker(t *testing.T) {
	repo := &mockAssignmentRepo{}
	workers := &mockCandidateRepo{workers: map[int64]models.Worker{7: workerFixture(7, 1, 4.5, "Roads")}}
	issues := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusVerified, nil)}}
	svc := newAssignmentService(repo, workers, issues, true)

	assignment, err := svc.AssignWorker(context.Background(), 1, "Supervisor Khan", AssignWorkerRequest{WorkerID: 7})
	require.NoError(t, err)
	assert.Equal(t, int64(7), assignment.WorkerID)
	require.Len(t, repo.calls, 1)
	assert.Equal(t, 4, repo.calls[0].BusyThreshold)
	assert.Equal(t, "Supervisor Khan", repo.calls[0].Actor)
	assert.False(t, repo.calls[0].Reassign)
}

func TestAssignmentServiceAssignWorkerUnknownIssue(t *testing.T) {
	svc := newAssignmentService(&mockAssignmentRepo{}, &mockCandidateRepo{}, &mockIssueRepo{}, true)

	_, err := svc.AssignWorker(context.Background(), 99, "ops", AssignWorkerRequest{WorkerID: 7})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestAssignmentServiceAssignWorkerUnknownWorker(t *testing.T) {
	issues := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusNew, nil)}}
	svc := newAssignmentService(&mockAssignmentRepo{}, &mockCandidateRepo{}, issues, true)

	_, err := svc.AssignWorker(context.Background(), 1, "ops", AssignWorkerRequest{WorkerID: 7})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestAssignmentServiceAssignWorkerReassignDisabled(t *testing.T) {
	issues := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusAssigned, nil)}}
	workers := &mockCandidateRepo{workers: map[int64]models.Worker{7: workerFixture(7, 0, 4.0)}}
	svc := newAssignmentService(&mockAssignmentRepo{}, workers, issues, false)

	_, err := svc.AssignWorker(context.Background(), 1, "ops", AssignWorkerRequest{WorkerID: 7, Reassign: true})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrForbidden))
}

func TestAssignmentServiceAssignWorkerPropagatesDomainErrors(t *testing.T) {
	repo := &mockAssignmentRepo{err: appErrors.Clone(appErrors.ErrWorkerUnavailable, "worker 7 is on leave")}
	workers := &mockCandidateRepo{workers: map[int64]models.Worker{7: workerFixture(7, 0, 4.0)}}
	issues := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusVerified, nil)}}
	svc := newAssignmentService(repo, workers, issues, true)

	_, err := svc.AssignWorker(context.Background(), 1, "ops", AssignWorkerRequest{WorkerID: 7})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrWorkerUnavailable))
}

func TestAssignmentServiceSuggestWorkersRanking(t *testing.T) {
	// Specialty match outranks workload; workload outranks rating.
	workers := &mockCandidateRepo{candidates: []models.Worker{
		workerFixture(1, 0, 5.0),
		workerFixture(2, 3, 4.0, "Roads"),
		workerFixture(3, 1, 3.5, "Roads"),
		workerFixture(4, 1, 4.8, "Roads"),
	}}
	issues := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusNew, nil)}}
	svc := newAssignmentService(&mockAssignmentRepo{}, workers, issues, true)

	suggestions, err := svc.SuggestWorkers(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, suggestions, 4)
	assert.Equal(t, int64(4), suggestions[0].ID)
	assert.Equal(t, int64(3), suggestions[1].ID)
	assert.Equal(t, int64(2), suggestions[2].ID)
	assert.Equal(t, int64(1), suggestions[3].ID)
	assert.True(t, suggestions[0].SpecialtyMatch)
	assert.False(t, suggestions[3].SpecialtyMatch)
}

func TestAssignmentServiceSuggestWorkersTieBreakByID(t *testing.T) {
	workers := &mockCandidateRepo{candidates: []models.Worker{
		workerFixture(9, 2, 4.0),
		workerFixture(2, 2, 4.0),
	}}
	issues := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusNew, nil)}}
	svc := newAssignmentService(&mockAssignmentRepo{}, workers, issues, true)

	suggestions, err := svc.SuggestWorkers(context.Background(), 1, 0)
	require.NoError(t, err)
	require.Len(t, suggestions, 2)
	assert.Equal(t, int64(2), suggestions[0].ID)
	assert.Equal(t, int64(9), suggestions[1].ID)
}

func TestAssignmentServiceSuggestWorkersLimit(t *testing.T) {
	workers := &mockCandidateRepo{candidates: []models.Worker{
		workerFixture(1, 0, 4.0),
		workerFixture(2, 1, 4.0),
		workerFixture(3, 2, 4.0),
	}}
	issues := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusNew, nil)}}
	svc := newAssignmentService(&mockAssignmentRepo{}, workers, issues, true)

	suggestions, err := svc.SuggestWorkers(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.Len(t, suggestions, 2)
}

func TestAssignmentServiceSuggestWorkersResolvedIssue(t *testing.T) {
	issues := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusResolved, nil)}}
	svc := newAssignmentService(&mockAssignmentRepo{}, &mockCandidateRepo{}, issues, true)

	_, err := svc.SuggestWorkers(context.Background(), 1, 0)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidTransition))
}

func TestAssignmentServiceHistory(t *testing.T) {
	repo := &mockAssignmentRepo{byIssue: map[int64][]models.Assignment{
		1: {{ID: "a-2", IssueID: 1, WorkerID: 8, Status: models.AssignmentStatusActive}, {ID: "a-1", IssueID: 1, WorkerID: 7, Status: models.AssignmentStatusReleased}},
	}}
	issues := &mockIssueRepo{issues: map[int64]models.Issue{1: issueFixture(1, models.IssueStatusAssigned, nil)}}
	svc := newAssignmentService(repo, &mockCandidateRepo{}, issues, true)

	history, err := svc.History(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, models.AssignmentStatusActive, history[0].Status)
}
