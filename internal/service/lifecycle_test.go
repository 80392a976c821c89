package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/civicworks/civic-ops-api/internal/models"
)

func TestForwardTransitions(t *testing.T) {
	assert.True(t, isForwardTransition(models.IssueStatusNew, models.IssueStatusVerified))
	assert.True(t, isForwardTransition(models.IssueStatusVerified, models.IssueStatusAssigned))
	assert.True(t, isForwardTransition(models.IssueStatusAssigned, models.IssueStatusInProgress))
	assert.True(t, isForwardTransition(models.IssueStatusInProgress, models.IssueStatusResolved))

	assert.False(t, isForwardTransition(models.IssueStatusNew, models.IssueStatusAssigned))
	assert.False(t, isForwardTransition(models.IssueStatusVerified, models.IssueStatusNew))
	assert.False(t, isForwardTransition(models.IssueStatusResolved, models.IssueStatusNew))
	assert.False(t, isForwardTransition(models.IssueStatusNew, models.IssueStatusNew))
}

func TestOverridableExcludesNew(t *testing.T) {
	assert.False(t, isOverridable(models.IssueStatusNew))
	assert.True(t, isOverridable(models.IssueStatusVerified))
	assert.True(t, isOverridable(models.IssueStatusResolved))
}

func TestRequiresAssignee(t *testing.T) {
	assert.False(t, requiresAssignee(models.IssueStatusVerified))
	assert.True(t, requiresAssignee(models.IssueStatusAssigned))
	assert.True(t, requiresAssignee(models.IssueStatusInProgress))
	assert.True(t, requiresAssignee(models.IssueStatusResolved))
}
