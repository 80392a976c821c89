package service

import "github.com/civicworks/civic-ops-api/internal/models"

// forwardTransitions encodes the regular lifecycle order. Anything else
// is only reachable through an administrative override with a reason.
var forwardTransitions = map[models.IssueStatus]models.IssueStatus{
	models.IssueStatusNew:        models.IssueStatusVerified,
	models.IssueStatusVerified:   models.IssueStatusAssigned,
	models.IssueStatusAssigned:   models.IssueStatusInProgress,
	models.IssueStatusInProgress: models.IssueStatusResolved,
}

// isForwardTransition reports whether from -> to is a regular forward
// edge of the lifecycle.
func isForwardTransition(from, to models.IssueStatus) bool {
	return forwardTransitions[from] == to
}

// overridable statuses an operator may force an issue into from any
// non-terminal state. "new" is deliberately absent: an issue can never
// return to the unverified pool.
var overridable = map[models.IssueStatus]struct{}{
	models.IssueStatusVerified:   {},
	models.IssueStatusAssigned:   {},
	models.IssueStatusInProgress: {},
	models.IssueStatusResolved:   {},
}

// isOverridable reports whether a status may be set via override.
func isOverridable(to models.IssueStatus) bool {
	_, ok := overridable[to]
	return ok
}

// requiresAssignee reports whether an issue must carry an active
// assignment before entering the given status.
func requiresAssignee(to models.IssueStatus) bool {
	switch to {
	case models.IssueStatusAssigned, models.IssueStatusInProgress, models.IssueStatusResolved:
		return true
	}
	return false
}
