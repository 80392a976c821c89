package repository

import (
	"context"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicworks/civic-ops-api/internal/models"
)

func workerRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "name", "role", "ward", "phone", "email", "status", "current_assignments", "completed_this_month", "rating", "specialties"}).
		AddRow(1, "Meena Patil", "Electrician", "Ward 3", nil, nil, "available", 1, 4, 4.2, "{Electrical}")
}

func TestWorkerRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM workers WHERE 1=1 ORDER BY name ASC, id ASC LIMIT 50 OFFSET 0")).
		WillReturnRows(workerRows())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM workers WHERE 1=1")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	workers, total, err := repo.List(context.Background(), models.WorkerFilter{})
	require.NoError(t, err)
	require.Len(t, workers, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Meena Patil", workers[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRepositoryListCandidatesExcludesOnLeave(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM workers WHERE status <> $1 ORDER BY id ASC")).
		WithArgs(models.WorkerStatusOnLeave).
		WillReturnRows(workerRows())

	workers, err := repo.ListCandidates(context.Background())
	require.NoError(t, err)
	assert.Len(t, workers, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRepositorySetLeave(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, current_assignments FROM workers WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "current_assignments"}).AddRow("available", 2))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE workers SET status = $1 WHERE id = $2")).
		WithArgs(models.WorkerStatusOnLeave, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SetLeave(context.Background(), 1, true, 4)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWorkerRepositoryReturnFromLeaveBusyAtThreshold(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewWorkerRepository(db)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, current_assignments FROM workers WHERE id = $1 FOR UPDATE")).
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"status", "current_assignments"}).AddRow("on-leave", 4))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE workers SET status = $1 WHERE id = $2")).
		WithArgs(models.WorkerStatusBusy, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.SetLeave(context.Background(), 1, false, 4)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeriveWorkerStatus(t *testing.T) {
	assert.Equal(t, models.WorkerStatusAvailable, deriveWorkerStatus(0, 4))
	assert.Equal(t, models.WorkerStatusAvailable, deriveWorkerStatus(3, 4))
	assert.Equal(t, models.WorkerStatusBusy, deriveWorkerStatus(4, 4))
	assert.Equal(t, models.WorkerStatusBusy, deriveWorkerStatus(7, 4))
	// A lower threshold flips the same workload to busy.
	assert.Equal(t, models.WorkerStatusBusy, deriveWorkerStatus(3, 3))
}
