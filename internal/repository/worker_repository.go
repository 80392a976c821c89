package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/civicworks/civic-ops-api/internal/models"
)

const workerColumns = `id, name, role, ward, phone, email, status, current_assignments, completed_this_month, rating, specialties`

// WorkerRepository manages persistence for field workers.
type WorkerRepository struct {
	db *sqlx.DB
}

// NewWorkerRepository constructs a WorkerRepository.
func NewWorkerRepository(db *sqlx.DB) *WorkerRepository {
	return &WorkerRepository{db: db}
}

// List returns workers matching the filter along with the total count.
func (r *WorkerRepository) List(ctx context.Context, filter models.WorkerFilter) ([]models.Worker, int, error) {
	base := "FROM workers WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.Status != "" && filter.Status != "all" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Ward != "" && filter.Ward != "all" {
		conditions = append(conditions, fmt.Sprintf("ward = $%d", len(args)+1))
		args = append(args, filter.Ward)
	}
	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		n := len(args) + 1
		conditions = append(conditions, fmt.Sprintf("(LOWER(name) LIKE $%d OR LOWER(role) LIKE $%d)", n, n))
		args = append(args, search)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY name ASC, id ASC LIMIT %d OFFSET %d", workerColumns, base, size, offset)
	var workers []models.Worker
	if err := r.db.SelectContext(ctx, &workers, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list workers: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count workers: %w", err)
	}

	return workers, total, nil
}

// FindByID fetches a worker by ID.
func (r *WorkerRepository) FindByID(ctx context.Context, id int64) (*models.Worker, error) {
	query := fmt.Sprintf("SELECT %s FROM workers WHERE id = $1", workerColumns)
	var worker models.Worker
	if err := r.db.GetContext(ctx, &worker, query, id); err != nil {
		return nil, err
	}
	return &worker, nil
}

// ListCandidates returns workers eligible for new assignments. Workers
// on leave are excluded entirely; ranking happens in the service.
func (r *WorkerRepository) ListCandidates(ctx context.Context) ([]models.Worker, error) {
	query := fmt.Sprintf("SELECT %s FROM workers WHERE status <> $1 ORDER BY id ASC", workerColumns)
	var workers []models.Worker
	if err := r.db.SelectContext(ctx, &workers, query, models.WorkerStatusOnLeave); err != nil {
		return nil, fmt.Errorf("list candidate workers: %w", err)
	}
	return workers, nil
}

// Create inserts a new worker record.
func (r *WorkerRepository) Create(ctx context.Context, worker *models.Worker) error {
	if worker.Status == "" {
		worker.Status = models.WorkerStatusAvailable
	}
	const query = `INSERT INTO workers (name, role, ward, phone, email, status, current_assignments, completed_this_month, rating, specialties)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := r.db.GetContext(ctx, &worker.ID, query,
		worker.Name, worker.Role, worker.Ward, worker.Phone, worker.Email,
		worker.Status, worker.CurrentAssignments, worker.CompletedThisMonth, worker.Rating, worker.Specialties,
	); err != nil {
		return fmt.Errorf("create worker: %w", err)
	}
	return nil
}

// SetLeave places a worker on leave or brings them back. Returning from
// leave re-derives the status from the active-assignment count against
// the busy threshold.
func (r *WorkerRepository) SetLeave(ctx context.Context, id int64, onLeave bool, busyThreshold int) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin worker leave: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var worker struct {
		Status             models.WorkerStatus `db:"status"`
		CurrentAssignments int                 `db:"current_assignments"`
	}
	const lockQuery = `SELECT status, current_assignments FROM workers WHERE id = $1 FOR UPDATE`
	if err = tx.GetContext(ctx, &worker, lockQuery, id); err != nil {
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		return fmt.Errorf("lock worker: %w", err)
	}

	status := models.WorkerStatusOnLeave
	if !onLeave {
		status = deriveWorkerStatus(worker.CurrentAssignments, busyThreshold)
	}

	if _, err = tx.ExecContext(ctx, `UPDATE workers SET status = $1 WHERE id = $2`, status, id); err != nil {
		return fmt.Errorf("update worker leave: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit worker leave: %w", err)
	}
	return nil
}

// deriveWorkerStatus maps an active-assignment count to available or
// busy. Callers must not apply it to workers on leave.
func deriveWorkerStatus(activeAssignments, busyThreshold int) models.WorkerStatus {
	if activeAssignments >= busyThreshold {
		return models.WorkerStatusBusy
	}
	return models.WorkerStatusAvailable
}
