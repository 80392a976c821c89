package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/civicworks/civic-ops-api/internal/models"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
)

const issueColumns = `id, title, description, category, status, priority,
	lat AS "location.lat", lng AS "location.lng", address AS "location.address", landmark AS "location.landmark",
	ward,
	reporter_name AS "reported_by.name", reporter_phone AS "reported_by.phone", reporter_email AS "reported_by.email",
	reported_date, assigned_to, assigned_date, tags`

// IssueRepository manages persistence for issues, their timelines and
// comments.
type IssueRepository struct {
	db *sqlx.DB
}

// NewIssueRepository constructs an IssueRepository.
func NewIssueRepository(db *sqlx.DB) *IssueRepository {
	return &IssueRepository{db: db}
}

// List returns issue summaries matching the filter along with the total
// count. Specified filter fields combine with AND; free text matches
// title, description, category and ward case-insensitively.
func (r *IssueRepository) List(ctx context.Context, filter models.IssueFilter) ([]models.IssueSummary, int, error) {
	base := "FROM issues WHERE 1=1"
	var conditions []string
	var args []interface{}

	addEquals := func(column, value string) {
		if value == "" || value == "all" {
			return
		}
		conditions = append(conditions, fmt.Sprintf("%s = $%d", column, len(args)+1))
		args = append(args, value)
	}
	addEquals("status", filter.Status)
	addEquals("priority", filter.Priority)
	addEquals("category", filter.Category)
	addEquals("ward", filter.Ward)

	if filter.Search != "" {
		search := "%" + strings.ToLower(filter.Search) + "%"
		n := len(args) + 1
		conditions = append(conditions, fmt.Sprintf(
			"(LOWER(title) LIKE $%d OR LOWER(description) LIKE $%d OR LOWER(category) LIKE $%d OR LOWER(ward) LIKE $%d)",
			n, n, n, n))
		args = append(args, search)
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	// Status order is plain lexicographic on the status name, matching
	// the reference behaviour, not lifecycle order.
	var orderBy string
	switch filter.Sort {
	case models.IssueSortPriority:
		orderBy = "CASE priority WHEN 'high' THEN 3 WHEN 'medium' THEN 2 WHEN 'low' THEN 1 ELSE 0 END DESC, id ASC"
	case models.IssueSortStatus:
		orderBy = "status ASC, id ASC"
	default:
		orderBy = "reported_date DESC, id ASC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(
		`SELECT id, title, category, status, priority, address, ward, reported_date, assigned_to %s ORDER BY %s LIMIT %d OFFSET %d`,
		base, orderBy, size, offset)
	var issues []models.IssueSummary
	if err := r.db.SelectContext(ctx, &issues, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list issues: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count issues: %w", err)
	}

	return issues, total, nil
}

// FindByID fetches an issue with its timeline and comments.
func (r *IssueRepository) FindByID(ctx context.Context, id int64) (*models.Issue, error) {
	query := fmt.Sprintf("SELECT %s FROM issues WHERE id = $1", issueColumns)
	var issue models.Issue
	if err := r.db.GetContext(ctx, &issue, query, id); err != nil {
		return nil, err
	}

	timeline, err := r.ListTimeline(ctx, id)
	if err != nil {
		return nil, err
	}
	issue.Timeline = timeline

	comments, err := r.ListComments(ctx, id)
	if err != nil {
		return nil, err
	}
	issue.Comments = comments

	return &issue, nil
}

// ListTimeline returns the issue's timeline in insertion order.
func (r *IssueRepository) ListTimeline(ctx context.Context, issueID int64) ([]models.TimelineEntry, error) {
	const query = `SELECT id, issue_id, date, action, actor, type, details FROM timeline_entries WHERE issue_id = $1 ORDER BY date ASC, id ASC`
	var entries []models.TimelineEntry
	if err := r.db.SelectContext(ctx, &entries, query, issueID); err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return entries, nil
}

// ListComments returns the issue's comments in insertion order.
func (r *IssueRepository) ListComments(ctx context.Context, issueID int64) ([]models.Comment, error) {
	const query = `SELECT id, issue_id, author, date, message FROM comments WHERE issue_id = $1 ORDER BY date ASC, id ASC`
	var comments []models.Comment
	if err := r.db.SelectContext(ctx, &comments, query, issueID); err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	return comments, nil
}

// Create inserts a new issue along with its initial "report" timeline
// entry.
func (r *IssueRepository) Create(ctx context.Context, issue *models.Issue) (err error) {
	if issue.ReportedDate.IsZero() {
		issue.ReportedDate = time.Now().UTC()
	}
	if issue.Status == "" {
		issue.Status = models.IssueStatusNew
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create issue: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const insertQuery = `INSERT INTO issues
		(title, description, category, status, priority, lat, lng, address, landmark, ward, reporter_name, reporter_phone, reporter_email, reported_date, tags)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`
	if err = tx.GetContext(ctx, &issue.ID, insertQuery,
		issue.Title, issue.Description, issue.Category, issue.Status, issue.Priority,
		issue.Location.Lat, issue.Location.Lng, issue.Location.Address, issue.Location.Landmark,
		issue.Ward, issue.ReportedBy.Name, issue.ReportedBy.Phone, issue.ReportedBy.Email,
		issue.ReportedDate, issue.Tags,
	); err != nil {
		return fmt.Errorf("insert issue: %w", err)
	}

	entry := models.TimelineEntry{
		ID:      uuid.NewString(),
		IssueID: issue.ID,
		Date:    issue.ReportedDate,
		Action:  "Issue reported",
		Actor:   issue.ReportedBy.Name,
		Type:    models.TimelineEntryReport,
		Details: "Issue reported by citizen",
	}
	if err = appendTimelineTx(ctx, tx, entry); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit create issue: %w", err)
	}
	return nil
}

// UpdateStatusParams describes a guarded status update.
type UpdateStatusParams struct {
	IssueID  int64
	Expected models.IssueStatus
	To       models.IssueStatus
	Entry    models.TimelineEntry
}

// UpdateStatus applies a status change and its timeline entry in one
// transaction. The update is guarded by the expected current status so
// that concurrent commands against the same issue cannot both win; a
// lost race surfaces as a conflict.
func (r *IssueRepository) UpdateStatus(ctx context.Context, params UpdateStatusParams) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin status update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const updateQuery = `UPDATE issues SET status = $1 WHERE id = $2 AND status = $3`
	result, err := tx.ExecContext(ctx, updateQuery, params.To, params.IssueID, params.Expected)
	if err != nil {
		return fmt.Errorf("update issue status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check updated issue rows: %w", err)
	}
	if affected == 0 {
		return appErrors.Clone(appErrors.ErrConflict, "issue was modified concurrently")
	}

	entry := params.Entry
	entry.IssueID = params.IssueID
	if err = appendTimelineTx(ctx, tx, entry); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit status update: %w", err)
	}
	return nil
}

// AppendComment stores a new comment on the issue.
func (r *IssueRepository) AppendComment(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.Date.IsZero() {
		comment.Date = time.Now().UTC()
	}
	const query = `INSERT INTO comments (id, issue_id, author, date, message) VALUES (:id, :issue_id, :author, :date, :message)`
	if _, err := r.db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("append comment: %w", err)
	}
	return nil
}

func appendTimelineTx(ctx context.Context, tx *sqlx.Tx, entry models.TimelineEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now().UTC()
	}
	const query = `INSERT INTO timeline_entries (id, issue_id, date, action, actor, type, details) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := tx.ExecContext(ctx, query, entry.ID, entry.IssueID, entry.Date, entry.Action, entry.Actor, entry.Type, entry.Details); err != nil {
		return fmt.Errorf("append timeline entry: %w", err)
	}
	return nil
}
