package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicworks/civic-ops-api/internal/models"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
)

// AssignmentRepository persists worker-issue assignments. The assign
// and resolve paths each touch an issue, a worker and an append-only
// record; both run as a single transaction with the affected rows
// locked, so concurrent commands against the same issue or worker
// serialize and either commit fully or not at all.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

type lockedIssue struct {
	ID         int64              `db:"id"`
	Status     models.IssueStatus `db:"status"`
	AssignedTo *int64             `db:"assigned_to"`
}

type lockedWorker struct {
	ID                 int64               `db:"id"`
	Name               string              `db:"name"`
	Role               string              `db:"role"`
	Status             models.WorkerStatus `db:"status"`
	CurrentAssignments int                 `db:"current_assignments"`
}

// AssignParams describes an assignment command.
type AssignParams struct {
	IssueID       int64
	WorkerID      int64
	Actor         string
	Reassign      bool
	BusyThreshold int
}

// Assign binds a worker to an issue. It enforces the availability and
// single-active-assignment rules under row locks, auto-advances the
// issue into the assigned state when it was new or verified, bumps the
// worker's active count and appends the assignment timeline entry.
func (r *AssignmentRepository) Assign(ctx context.Context, params AssignParams) (assignment *models.Assignment, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin assign: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	issue, err := lockIssue(ctx, tx, params.IssueID)
	if err != nil {
		return nil, err
	}
	if issue.Status == models.IssueStatusResolved {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot assign a resolved issue")
	}
	if issue.AssignedTo != nil {
		if !params.Reassign {
			return nil, appErrors.Clone(appErrors.ErrIssueAlreadyAssigned, fmt.Sprintf("issue %d already has an active assignment", issue.ID))
		}
		if *issue.AssignedTo == params.WorkerID {
			return nil, appErrors.Clone(appErrors.ErrIssueAlreadyAssigned, fmt.Sprintf("issue %d is already assigned to worker %d", issue.ID, params.WorkerID))
		}
	}

	// Worker rows are locked in id order so that two reassignments
	// touching the same pair cannot deadlock.
	workerIDs := []int64{params.WorkerID}
	if issue.AssignedTo != nil && *issue.AssignedTo < params.WorkerID {
		workerIDs = []int64{*issue.AssignedTo, params.WorkerID}
	} else if issue.AssignedTo != nil {
		workerIDs = []int64{params.WorkerID, *issue.AssignedTo}
	}
	locked := make(map[int64]*lockedWorker, len(workerIDs))
	for _, id := range workerIDs {
		var w *lockedWorker
		w, err = lockWorker(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = w
	}

	worker := locked[params.WorkerID]
	if worker.Status == models.WorkerStatusOnLeave {
		return nil, appErrors.Clone(appErrors.ErrWorkerUnavailable, fmt.Sprintf("worker %d is on leave", worker.ID))
	}

	now := time.Now().UTC()

	if issue.AssignedTo != nil {
		prior := locked[*issue.AssignedTo]
		if err = releaseActiveAssignment(ctx, tx, issue.ID, now); err != nil {
			return nil, err
		}
		if err = adjustWorker(ctx, tx, prior, -1, 0, params.BusyThreshold); err != nil {
			return nil, err
		}
	}

	assignment = &models.Assignment{
		ID:           uuid.NewString(),
		WorkerID:     params.WorkerID,
		IssueID:      params.IssueID,
		AssignedDate: now,
		Status:       models.AssignmentStatusActive,
	}
	const insertQuery = `INSERT INTO assignments (id, worker_id, issue_id, assigned_date, status) VALUES ($1, $2, $3, $4, $5)`
	if _, err = tx.ExecContext(ctx, insertQuery, assignment.ID, assignment.WorkerID, assignment.IssueID, assignment.AssignedDate, assignment.Status); err != nil {
		return nil, fmt.Errorf("insert assignment: %w", err)
	}

	// Assigning always moves a new or verified issue forward.
	newStatus := issue.Status
	if issue.Status == models.IssueStatusNew || issue.Status == models.IssueStatusVerified {
		newStatus = models.IssueStatusAssigned
	}
	const updateIssueQuery = `UPDATE issues SET status = $1, assigned_to = $2, assigned_date = $3 WHERE id = $4`
	if _, err = tx.ExecContext(ctx, updateIssueQuery, newStatus, params.WorkerID, now, issue.ID); err != nil {
		return nil, fmt.Errorf("update assigned issue: %w", err)
	}

	if err = adjustWorker(ctx, tx, worker, 1, 0, params.BusyThreshold); err != nil {
		return nil, err
	}

	entry := models.TimelineEntry{
		ID:      uuid.NewString(),
		IssueID: issue.ID,
		Date:    now,
		Action:  fmt.Sprintf("Assigned to %s", worker.Name),
		Actor:   params.Actor,
		Type:    models.TimelineEntryAssignment,
		Details: fmt.Sprintf("Assigned to %s (%s)", worker.Name, worker.Role),
	}
	if err = appendTimelineTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit assign: %w", err)
	}
	return assignment, nil
}

// ResolveParams describes the resolution of an assigned issue.
type ResolveParams struct {
	IssueID       int64
	Actor         string
	Details       string
	BusyThreshold int
}

// Resolve marks an issue resolved, releases its active assignment and
// gives the worker their capacity back, all in one transaction.
func (r *AssignmentRepository) Resolve(ctx context.Context, params ResolveParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin resolve: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	issue, err := lockIssue(ctx, tx, params.IssueID)
	if err != nil {
		return err
	}
	if issue.Status == models.IssueStatusResolved {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "issue is already resolved")
	}
	if issue.AssignedTo == nil {
		return appErrors.Clone(appErrors.ErrAssignmentRequired, "cannot resolve an unassigned issue")
	}

	worker, err := lockWorker(ctx, tx, *issue.AssignedTo)
	if err != nil {
		return err
	}

	now := time.Now().UTC()

	if _, err = tx.ExecContext(ctx, `UPDATE issues SET status = $1 WHERE id = $2`, models.IssueStatusResolved, issue.ID); err != nil {
		return fmt.Errorf("update resolved issue: %w", err)
	}

	if err = releaseActiveAssignment(ctx, tx, issue.ID, now); err != nil {
		return err
	}
	if err = adjustWorker(ctx, tx, worker, -1, 1, params.BusyThreshold); err != nil {
		return err
	}

	entry := models.TimelineEntry{
		ID:      uuid.NewString(),
		IssueID: issue.ID,
		Date:    now,
		Action:  "Status updated to resolved",
		Actor:   params.Actor,
		Type:    models.TimelineEntryStatusUpdate,
		Details: params.Details,
	}
	if err = appendTimelineTx(ctx, tx, entry); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit resolve: %w", err)
	}
	return nil
}

// ListByIssue returns all assignment records for an issue, newest first.
func (r *AssignmentRepository) ListByIssue(ctx context.Context, issueID int64) ([]models.Assignment, error) {
	const query = `SELECT id, worker_id, issue_id, assigned_date, status, released_at FROM assignments WHERE issue_id = $1 ORDER BY assigned_date DESC`
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, issueID); err != nil {
		return nil, fmt.Errorf("list assignments by issue: %w", err)
	}
	return assignments, nil
}

// ListByWorker returns all assignment records for a worker, newest first.
func (r *AssignmentRepository) ListByWorker(ctx context.Context, workerID int64) ([]models.Assignment, error) {
	const query = `SELECT id, worker_id, issue_id, assigned_date, status, released_at FROM assignments WHERE worker_id = $1 ORDER BY assigned_date DESC`
	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, workerID); err != nil {
		return nil, fmt.Errorf("list assignments by worker: %w", err)
	}
	return assignments, nil
}

func lockIssue(ctx context.Context, tx *sqlx.Tx, id int64) (*lockedIssue, error) {
	var issue lockedIssue
	const query = `SELECT id, status, assigned_to FROM issues WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &issue, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock issue: %w", err)
	}
	return &issue, nil
}

func lockWorker(ctx context.Context, tx *sqlx.Tx, id int64) (*lockedWorker, error) {
	var worker lockedWorker
	const query = `SELECT id, name, role, status, current_assignments FROM workers WHERE id = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &worker, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("lock worker: %w", err)
	}
	return &worker, nil
}

func releaseActiveAssignment(ctx context.Context, tx *sqlx.Tx, issueID int64, at time.Time) error {
	const query = `UPDATE assignments SET status = $1, released_at = $2 WHERE issue_id = $3 AND status = $4`
	if _, err := tx.ExecContext(ctx, query, models.AssignmentStatusReleased, at, issueID, models.AssignmentStatusActive); err != nil {
		return fmt.Errorf("release assignment: %w", err)
	}
	return nil
}

// adjustWorker applies an active-assignment delta and re-derives the
// worker's status against the busy threshold. A worker on leave keeps
// that status regardless of capacity changes.
func adjustWorker(ctx context.Context, tx *sqlx.Tx, worker *lockedWorker, delta, completedDelta, busyThreshold int) error {
	count := worker.CurrentAssignments + delta
	if count < 0 {
		count = 0
	}
	status := worker.Status
	if status != models.WorkerStatusOnLeave {
		status = deriveWorkerStatus(count, busyThreshold)
	}
	const query = `UPDATE workers SET current_assignments = $1, status = $2, completed_this_month = completed_this_month + $3 WHERE id = $4`
	if _, err := tx.ExecContext(ctx, query, count, status, completedDelta, worker.ID); err != nil {
		return fmt.Errorf("update worker capacity: %w", err)
	}
	worker.CurrentAssignments = count
	worker.Status = status
	return nil
}
