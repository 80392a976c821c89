package models

import "github.com/lib/pq"

// WorkerStatus enumerates worker availability states. Available and
// busy are derived from the active-assignment count against the busy
// threshold; on-leave is set externally and overrides the derivation.
type WorkerStatus string

const (
	WorkerStatusAvailable WorkerStatus = "available"
	WorkerStatusBusy      WorkerStatus = "busy"
	WorkerStatusOnLeave   WorkerStatus = "on-leave"
)

// Valid reports whether the status is a known worker state.
func (s WorkerStatus) Valid() bool {
	switch s {
	case WorkerStatusAvailable, WorkerStatusBusy, WorkerStatusOnLeave:
		return true
	}
	return false
}

// Worker is a field staff member who can be assigned to issues.
type Worker struct {
	ID                 int64          `db:"id" json:"id"`
	Name               string         `db:"name" json:"name"`
	Role               string         `db:"role" json:"role"`
	Ward               string         `db:"ward" json:"ward"`
	Phone              *string        `db:"phone" json:"phone,omitempty"`
	Email              *string        `db:"email" json:"email,omitempty"`
	Status             WorkerStatus   `db:"status" json:"status"`
	CurrentAssignments int            `db:"current_assignments" json:"currentAssignments"`
	CompletedThisMonth int            `db:"completed_this_month" json:"completedThisMonth"`
	Rating             float64        `db:"rating" json:"rating"`
	Specialties        pq.StringArray `db:"specialties" json:"specialties,omitempty"`
}

// WorkerSuggestion is a ranked candidate for an issue assignment.
type WorkerSuggestion struct {
	Worker
	SpecialtyMatch bool `json:"specialtyMatch"`
}

// WorkerFilter captures list-query constraints for workers.
type WorkerFilter struct {
	Status   string
	Ward     string
	Search   string
	Page     int
	PageSize int
}
