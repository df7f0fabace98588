package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/internal/service"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/response"
)

type observationService interface {
	List(ctx context.Context, filter models.ObservationFilter, actor service.Actor) ([]models.Observation, *models.Pagination, error)
	Record(ctx context.Context, studentID string, req service.ObservationRequest, actor service.Actor) (*models.Observation, bool, error)
	Update(ctx context.Context, id string, req service.ObservationRequest, actor service.Actor) (*models.Observation, error)
	Delete(ctx context.Context, id string, actor service.Actor) error
}

// ObservationHandler exposes manual observation endpoints.
type ObservationHandler struct {
	observations observationService
}

// NewObservationHandler constructs the handler.
func NewObservationHandler(observations observationService) *ObservationHandler {
	return &ObservationHandler{observations: observations}
}

// List godoc
// @Summary List a student's observations
// @Tags Observations
// @Produce json
// @Param id path string true "Student ID"
// @Param subject query string false "Subject"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Param mine query bool false "Only the caller's observations"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/observations [get]
func (h *ObservationHandler) List(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	filter := models.ObservationFilter{
		StudentID: c.Param("id"),
		Subject:   c.Query("subject"),
		Page:      queryInt(c, "page", 1),
		PageSize:  queryInt(c, "limit", 50),
	}
	if c.Query("mine") == "true" {
		filter.TeacherID = actor.UserID
	}
	for key, target := range map[string]**time.Time{"from": &filter.DateFrom, "to": &filter.DateTo} {
		raw := c.Query(key)
		if raw == "" {
			continue
		}
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, key+" must be YYYY-MM-DD"))
			return
		}
		*target = &parsed
	}

	items, pagination, err := h.observations.List(c.Request.Context(), filter, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Record godoc
// @Summary Record an observation
// @Description Creates or overwrites the caller's observation of the student for that date
// @Tags Observations
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.ObservationRequest true "Observation"
// @Success 201 {object} response.Envelope
// @Success 200 {object} response.Envelope
// @Router /students/{id}/observations [post]
func (h *ObservationHandler) Record(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.ObservationRequest
	if !bindJSON(c, &req) {
		return
	}
	observation, created, err := h.observations.Record(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	if created {
		response.Created(c, observation)
		return
	}
	response.JSON(c, http.StatusOK, observation, nil)
}

// Update godoc
// @Summary Edit an observation
// @Tags Observations
// @Accept json
// @Produce json
// @Param id path string true "Observation ID"
// @Param payload body service.ObservationRequest true "Observation"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /observations/{id} [put]
func (h *ObservationHandler) Update(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	var req service.ObservationRequest
	if !bindJSON(c, &req) {
		return
	}
	observation, err := h.observations.Update(c.Request.Context(), c.Param("id"), req, actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, observation, nil)
}

// Delete godoc
// @Summary Delete an observation
// @Tags Observations
// @Param id path string true "Observation ID"
// @Success 204 {object} response.Envelope
// @Router /observations/{id} [delete]
func (h *ObservationHandler) Delete(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	if err := h.observations.Delete(c.Request.Context(), c.Param("id"), actor); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
