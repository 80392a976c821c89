package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/civicworks/civic-ops-api/internal/middleware"
	"github.com/civicworks/civic-ops-api/internal/models"
	"github.com/civicworks/civic-ops-api/internal/service"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
	"github.com/civicworks/civic-ops-api/pkg/response"
)

// WorkerHandler exposes worker roster endpoints.
type WorkerHandler struct {
	workers     *service.WorkerService
	assignments *service.AssignmentService
}

// NewWorkerHandler constructs WorkerHandler.
func NewWorkerHandler(workers *service.WorkerService, assignments *service.AssignmentService) *WorkerHandler {
	return &WorkerHandler{workers: workers, assignments: assignments}
}

// List godoc
// @Summary List workers
// @Tags Workers
// @Produce json
// @Param status query string false "Filter by status"
// @Param ward query string false "Filter by ward"
// @Param search query string false "Search by name or role"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /workers [get]
func (h *WorkerHandler) List(c *gin.Context) {
	var filter models.WorkerFilter
	filter.Status = c.Query("status")
	filter.Ward = c.Query("ward")
	filter.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = size
	}

	workers, pagination, err := h.workers.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, workers, pagination)
}

// Get godoc
// @Summary Get worker detail
// @Tags Workers
// @Produce json
// @Param id path int true "Worker ID"
// @Success 200 {object} response.Envelope
// @Router /workers/{id} [get]
func (h *WorkerHandler) Get(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	worker, err := h.workers.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, worker, nil)
}

// Create godoc
// @Summary Register a worker
// @Tags Workers
// @Accept json
// @Produce json
// @Param payload body service.CreateWorkerRequest true "Worker payload"
// @Success 201 {object} response.Envelope
// @Router /workers [post]
func (h *WorkerHandler) Create(c *gin.Context) {
	var req service.CreateWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	worker, err := h.workers.Create(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, worker)
}

// SetLeave godoc
// @Summary Toggle worker leave
// @Tags Workers
// @Accept json
// @Produce json
// @Param id path int true "Worker ID"
// @Param payload body service.SetLeaveRequest true "Leave payload"
// @Success 200 {object} response.Envelope
// @Router /workers/{id}/leave [patch]
func (h *WorkerHandler) SetLeave(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.SetLeaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	worker, err := h.workers.SetLeave(c.Request.Context(), id, middleware.CurrentActor(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, worker, nil)
}

// Assignments godoc
// @Summary List a worker's assignment history
// @Tags Workers
// @Produce json
// @Param id path int true "Worker ID"
// @Success 200 {object} response.Envelope
// @Router /workers/{id}/assignments [get]
func (h *WorkerHandler) Assignments(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	assignments, err := h.assignments.WorkerHistory(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, nil)
}
