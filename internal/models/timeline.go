package models

import "time"

// TimelineEntryType classifies lifecycle events on an issue.
type TimelineEntryType string

const (
	TimelineEntryReport       TimelineEntryType = "report"
	TimelineEntryVerification TimelineEntryType = "verification"
	TimelineEntryAssignment   TimelineEntryType = "assignment"
	TimelineEntryProgress     TimelineEntryType = "progress"
	TimelineEntryStatusUpdate TimelineEntryType = "status-update"
)

// TimelineEntry is an immutable audit record of a lifecycle event.
// Entries are appended at "now", so insertion order is chronological.
type TimelineEntry struct {
	ID      string            `db:"id" json:"id"`
	IssueID int64             `db:"issue_id" json:"-"`
	Date    time.Time         `db:"date" json:"date"`
	Action  string            `db:"action" json:"action"`
	Actor   string            `db:"actor" json:"actor"`
	Type    TimelineEntryType `db:"type" json:"type"`
	Details string            `db:"details" json:"details,omitempty"`
}

// Comment is an append-only remark on an issue. No edit, no delete.
type Comment struct {
	ID      string    `db:"id" json:"id"`
	IssueID int64     `db:"issue_id" json:"-"`
	Author  string    `db:"author" json:"author"`
	Date    time.Time `db:"date" json:"date"`
	Message string    `db:"message" json:"message"`
}
