package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/civicworks/civic-ops-api/internal/middleware"
	"github.com/civicworks/civic-ops-api/internal/service"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
	"github.com/civicworks/civic-ops-api/pkg/response"
)

// AssignmentHandler exposes assignment coordination endpoints.
type AssignmentHandler struct {
	assignments *service.AssignmentService
}

// NewAssignmentHandler constructs AssignmentHandler.
func NewAssignmentHandler(assignments *service.AssignmentService) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments}
}

// Assign godoc
// @Summary Assign a worker to an issue
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path int true "Issue ID"
// @Param payload body service.AssignWorkerRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Router /issues/{id}/assign [post]
func (h *AssignmentHandler) Assign(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.AssignWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignment, err := h.assignments.AssignWorker(c.Request.Context(), id, middleware.CurrentActor(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// Suggest godoc
// @Summary Suggest ranked workers for an issue
// @Tags Assignments
// @Produce json
// @Param id path int true "Issue ID"
// @Param limit query int false "Maximum suggestions"
// @Success 200 {object} response.Envelope
// @Router /issues/{id}/assignees [get]
func (h *AssignmentHandler) Suggest(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "5"))
	suggestions, err := h.assignments.SuggestWorkers(c.Request.Context(), id, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, suggestions, nil)
}

// History godoc
// @Summary List an issue's assignment history
// @Tags Assignments
// @Produce json
// @Param id path int true "Issue ID"
// @Success 200 {object} response.Envelope
// @Router /issues/{id}/assignments [get]
func (h *AssignmentHandler) History(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	assignments, err := h.assignments.History(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, nil)
}
