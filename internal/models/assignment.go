package models

import "time"

// AssignmentStatus marks whether an assignment is still active.
// Assignments are never mutated beyond release; reassignment creates a
// new record so history stays auditable.
type AssignmentStatus string

const (
	AssignmentStatusActive   AssignmentStatus = "active"
	AssignmentStatusReleased AssignmentStatus = "released"
)

// Assignment is the binding record between one worker and one issue.
type Assignment struct {
	ID           string           `db:"id" json:"id"`
	WorkerID     int64            `db:"worker_id" json:"workerId"`
	IssueID      int64            `db:"issue_id" json:"issueId"`
	AssignedDate time.Time        `db:"assigned_date" json:"assignedDate"`
	Status       AssignmentStatus `db:"status" json:"status"`
	ReleasedAt   *time.Time       `db:"released_at" json:"releasedAt,omitempty"`
}
