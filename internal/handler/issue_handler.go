package handler

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/civicworks/civic-ops-api/internal/middleware"
	"github.com/civicworks/civic-ops-api/internal/models"
	"github.com/civicworks/civic-ops-api/internal/service"
	appErrors "github.com/civicworks/civic-ops-api/pkg/errors"
	"github.com/civicworks/civic-ops-api/pkg/export"
	"github.com/civicworks/civic-ops-api/pkg/response"
)

// IssueHandler exposes issue lifecycle endpoints.
type IssueHandler struct {
	issues *service.IssueService
}

// NewIssueHandler constructs IssueHandler.
func NewIssueHandler(issues *service.IssueService) *IssueHandler {
	return &IssueHandler{issues: issues}
}

func issueFilterFromQuery(c *gin.Context) models.IssueFilter {
	var filter models.IssueFilter
	filter.Status = c.Query("status")
	filter.Priority = c.Query("priority")
	filter.Category = c.Query("category")
	filter.Ward = c.Query("ward")
	filter.Search = strings.TrimSpace(c.Query("search"))
	filter.Sort = models.IssueSort(c.Query("sort"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		filter.PageSize = size
	}
	return filter
}

// List godoc
// @Summary List issues
// @Tags Issues
// @Produce json
// @Param status query string false "Filter by status"
// @Param priority query string false "Filter by priority"
// @Param category query string false "Filter by category"
// @Param ward query string false "Filter by ward"
// @Param search query string false "Free text search"
// @Param sort query string false "Sort by date, priority or status"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /issues [get]
func (h *IssueHandler) List(c *gin.Context) {
	issues, pagination, err := h.issues.List(c.Request.Context(), issueFilterFromQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issues, pagination)
}

// Get godoc
// @Summary Get issue detail with timeline and comments
// @Tags Issues
// @Produce json
// @Param id path int true "Issue ID"
// @Success 200 {object} response.Envelope
// @Router /issues/{id} [get]
func (h *IssueHandler) Get(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	issue, err := h.issues.Get(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// Report godoc
// @Summary Report a new issue
// @Tags Issues
// @Accept json
// @Produce json
// @Param payload body service.ReportIssueRequest true "Issue payload"
// @Success 201 {object} response.Envelope
// @Router /issues [post]
func (h *IssueHandler) Report(c *gin.Context) {
	var req service.ReportIssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	issue, err := h.issues.Report(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, issue)
}

// AdvanceStatus godoc
// @Summary Change issue status
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path int true "Issue ID"
// @Param payload body service.AdvanceStatusRequest true "Status payload"
// @Success 200 {object} response.Envelope
// @Router /issues/{id}/status [patch]
func (h *IssueHandler) AdvanceStatus(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.AdvanceStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	issue, err := h.issues.AdvanceStatus(c.Request.Context(), id, middleware.CurrentActor(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, issue, nil)
}

// AddComment godoc
// @Summary Add a comment to an issue
// @Tags Issues
// @Accept json
// @Produce json
// @Param id path int true "Issue ID"
// @Param payload body service.AddCommentRequest true "Comment payload"
// @Success 201 {object} response.Envelope
// @Router /issues/{id}/comments [post]
func (h *IssueHandler) AddComment(c *gin.Context) {
	id, err := pathID(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req service.AddCommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	issue, err := h.issues.AddComment(c.Request.Context(), id, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, issue)
}

// Export godoc
// @Summary Export the filtered issue list
// @Tags Issues
// @Produce text/csv
// @Produce application/pdf
// @Param format query string false "csv or pdf"
// @Success 200 {file} file
// @Router /issues/export [get]
func (h *IssueHandler) Export(c *gin.Context) {
	format := export.Format(c.DefaultQuery("format", string(export.FormatCSV)))
	payload, contentType, err := h.issues.Export(c.Request.Context(), issueFilterFromQuery(c), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("issues-%s.%s", time.Now().UTC().Format("20060102"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
