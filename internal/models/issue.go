package models

import (
	"time"

	"github.com/lib/pq"
)

// IssueStatus enumerates the lifecycle states of a civic issue.
type IssueStatus string

const (
	IssueStatusNew        IssueStatus = "new"
	IssueStatusVerified   IssueStatus = "verified"
	IssueStatusAssigned   IssueStatus = "assigned"
	IssueStatusInProgress IssueStatus = "in-progress"
	IssueStatusResolved   IssueStatus = "resolved"
)

// Valid reports whether the status is one of the known lifecycle states.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusNew, IssueStatusVerified, IssueStatusAssigned, IssueStatusInProgress, IssueStatusResolved:
		return true
	}
	return false
}

// Priority enumerates issue urgency levels. Priority is set at report
// time and never re-derived.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether the priority is a known level.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Rank orders priorities for sorting, high first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// Location pins an issue to a place.
type Location struct {
	Lat      float64 `db:"lat" json:"lat"`
	Lng      float64 `db:"lng" json:"lng"`
	Address  string  `db:"address" json:"address"`
	Landmark *string `db:"landmark" json:"landmark,omitempty"`
}

// Reporter identifies the citizen who filed the issue.
type Reporter struct {
	Name  string  `db:"name" json:"name"`
	Phone *string `db:"phone" json:"phone,omitempty"`
	Email *string `db:"email" json:"email,omitempty"`
}

// Issue is a reported civic problem tracked through its lifecycle.
// The timeline and comments are append-only and owned by the issue.
type Issue struct {
	ID           int64          `db:"id" json:"id"`
	Title        string         `db:"title" json:"title"`
	Description  string         `db:"description" json:"description"`
	Category     string         `db:"category" json:"category"`
	Status       IssueStatus    `db:"status" json:"status"`
	Priority     Priority       `db:"priority" json:"priority"`
	Location     Location       `db:"location" json:"location"`
	Ward         string         `db:"ward" json:"ward"`
	ReportedBy   Reporter       `db:"reported_by" json:"reportedBy"`
	ReportedDate time.Time      `db:"reported_date" json:"reportedDate"`
	AssignedTo   *int64         `db:"assigned_to" json:"assignedTo,omitempty"`
	AssignedDate *time.Time     `db:"assigned_date" json:"assignedDate,omitempty"`
	Tags         pq.StringArray `db:"tags" json:"tags,omitempty"`

	Timeline []TimelineEntry `db:"-" json:"timeline,omitempty"`
	Comments []Comment       `db:"-" json:"comments,omitempty"`
}

// IssueSummary is the list-view projection of an issue.
type IssueSummary struct {
	ID           int64       `db:"id" json:"id"`
	Title        string      `db:"title" json:"title"`
	Category     string      `db:"category" json:"category"`
	Status       IssueStatus `db:"status" json:"status"`
	Priority     Priority    `db:"priority" json:"priority"`
	Address      string      `db:"address" json:"address"`
	Ward         string      `db:"ward" json:"ward"`
	ReportedDate time.Time   `db:"reported_date" json:"reportedDate"`
	AssignedTo   *int64      `db:"assigned_to" json:"assignedTo,omitempty"`
}

// IssueSort identifies a supported list ordering.
type IssueSort string

const (
	IssueSortDate     IssueSort = "date"
	IssueSortPriority IssueSort = "priority"
	IssueSortStatus   IssueSort = "status"
)

// IssueFilter captures list-query constraints. Zero values (or the
// "all" sentinel) mean no constraint on that field; specified fields
// combine with AND.
type IssueFilter struct {
	Status   string
	Priority string
	Category string
	Ward     string
	Search   string
	Sort     IssueSort
	Page     int
	PageSize int
}
