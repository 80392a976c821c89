package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/civicworks/civic-ops-api/internal/models"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
)

type mockWorkerRepo struct {
	workers    map[int64]models.Worker
	leaveCalls []bool
	threshold  int
	listTotal  int
}

func (m *mockWorkerRepo) List(ctx context.Context, filter models.WorkerFilter) ([]models.Worker, int, error) {
	workers := make([]models.Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	return workers, m.listTotal, nil
}

func (m *mockWorkerRepo) FindByID(ctx context.Context, id int64) (*models.Worker, error) {
	if worker, ok := m.workers[id]; ok {
		copied := worker
		return &copied, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockWorkerRepo) Create(ctx context.Context, worker *models.Worker) error {
	if m.workers == nil {
		m.workers = make(map[int64]models.Worker)
	}
	if worker.ID == 0 {
		worker.ID = int64(len(m.workers) + 1)
	}
	m.workers[worker.ID] = *worker
	return nil
}

func (m *mockWorkerRepo) SetLeave(ctx context.Context, id int64, onLeave bool, busyThreshold int) error {
	m.leaveCalls = append(m.leaveCalls, onLeave)
	m.threshold = busyThreshold
	worker, ok := m.workers[id]
	if !ok {
		return sql.ErrNoRows
	}
	if onLeave {
		worker.Status = models.WorkerStatusOnLeave
	} else if worker.CurrentAssignments >= busyThreshold {
		worker.Status = models.WorkerStatusBusy
	} else {
		worker.Status = models.WorkerStatusAvailable
	}
	m.workers[id] = worker
	return nil
}

func newWorkerService(repo *mockWorkerRepo) *WorkerService {
	return NewWorkerService(repo, nil, validator.New(), zap.NewNop(), EngineConfig{BusyThreshold: 4})
}

func TestWorkerServiceCreate(t *testing.T) {
	repo := &mockWorkerRepo{}
	svc := newWorkerService(repo)

	worker, err := svc.Create(context.Background(), CreateWorkerRequest{
		Name:        "Meena Patil",
		Role:        "Electrician",
		Ward:        "Ward 3",
		Rating:      4.2,
		Specialties: []string{"Electrical"},
	})
	require.NoError(t, err)
	assert.NotZero(t, worker.ID)
	assert.Equal(t, models.WorkerStatusAvailable, worker.Status)
	assert.Zero(t, worker.CurrentAssignments)
}

func TestWorkerServiceCreateInvalidRating(t *testing.T) {
	svc := newWorkerService(&mockWorkerRepo{})

	_, err := svc.Create(context.Background(), CreateWorkerRequest{Name: "X", Role: "Y", Ward: "Z", Rating: 9})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestWorkerServiceSetLeave(t *testing.T) {
	repo := &mockWorkerRepo{workers: map[int64]models.Worker{7: {ID: 7, Name: "Meena", Status: models.WorkerStatusAvailable, CurrentAssignments: 2}}}
	svc := newWorkerService(repo)

	worker, err := svc.SetLeave(context.Background(), 7, "Admin", SetLeaveRequest{OnLeave: true})
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusOnLeave, worker.Status)
	assert.Equal(t, 4, repo.threshold)
}

func TestWorkerServiceReturnFromLeaveRederivesStatus(t *testing.T) {
	repo := &mockWorkerRepo{workers: map[int64]models.Worker{7: {ID: 7, Name: "Meena", Status: models.WorkerStatusOnLeave, CurrentAssignments: 5}}}
	svc := newWorkerService(repo)

	worker, err := svc.SetLeave(context.Background(), 7, "Admin", SetLeaveRequest{OnLeave: false})
	require.NoError(t, err)
	assert.Equal(t, models.WorkerStatusBusy, worker.Status)
}

func TestWorkerServiceSetLeaveNotFound(t *testing.T) {
	svc := newWorkerService(&mockWorkerRepo{})

	_, err := svc.SetLeave(context.Background(), 99, "Admin", SetLeaveRequest{OnLeave: true})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
}

func TestWorkerServiceListPaginationDefaults(t *testing.T) {
	repo := &mockWorkerRepo{workers: map[int64]models.Worker{1: {ID: 1, Name: "A"}}, listTotal: 1}
	svc := newWorkerService(repo)

	workers, pagination, err := svc.List(context.Background(), models.WorkerFilter{})
	require.NoError(t, err)
	assert.Len(t, workers, 1)
	assert.Equal(t, 1, pagination.Page)
	assert.Equal(t, 50, pagination.PageSize)
}
