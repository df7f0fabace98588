package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smartgrade-api/internal/dto"
	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/internal/service"
	"github.com/noah-isme/smartgrade-api/pkg/response"
)

type studentService interface {
	Roster(ctx context.Context, filter models.StudentFilter, actor service.Actor) ([]dto.RosterEntry, *models.Pagination, error)
	Detail(ctx context.Context, id string, opts service.DetailOptions, actor service.Actor) (*dto.StudentDetailResponse, error)
	Create(ctx context.Context, req service.CreateStudentRequest, actor service.Actor) (*models.StudentDetail, error)
	Update(ctx context.Context, id string, req service.UpdateStudentRequest, actor service.Actor) (*models.StudentDetail, error)
	Delete(ctx context.Context, id string, actor service.Actor) error
}

// StudentHandler exposes student endpoints.
type StudentHandler struct {
	students studentService
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService) *StudentHandler {
	return &StudentHandler{students: students}
}

// List godoc
// @Summary Student roster
// @Description Students visible to the caller with the composite status of their latest observation
// @Tags Students
// @Produce json
// @Param search query string false "Search by username or name"
// @Param class_name query string false "Filter by class"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	filter := models.StudentFilter{
		Search:    strings.TrimSpace(c.Query("search")),
		ClassName: strings.TrimSpace(c.Query("class_name")),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "limit", 50),
		SortBy:    c.Query("sort"),
		SortOrder: c.Query("order"),
	}

	entries, pagination, err := h.students.Roster(c.Request.Context(), filter, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, pagination)
}

// Get godoc
// @Summary Student detail
// @Description Observations, latest-observation risk and per-subject health. scope=mine limits observations to the caller's
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Param scope query string false "mine"
// @Param risk_mode query string false "latest (default), latest_strict, aggregate, composite or composite_mean"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	opts := service.DetailOptions{
		MineOnly: strings.EqualFold(c.Query("scope"), "mine"),
		RiskMode: c.Query("risk_mode"),
	}
	detail, err := h.students.Detail(c.Request.Context(), c.Param("id"), opts, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create student
// @Description Provisions a student account and links it to the calling teacher
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.CreateStudentRequest true "Student payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.CreateStudentRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.students.Create(c.Request.Context(), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Update godoc
// @Summary Update student
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.UpdateStudentRequest true "Student payload"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [put]
func (h *StudentHandler) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.UpdateStudentRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.students.Update(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Delete godoc
// @Summary Delete student
// @Tags Students
// @Param id path string true "Student ID"
// @Success 204 {object} response.Envelope
// @Router /students/{id} [delete]
func (h *StudentHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.students.Delete(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
