package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smartgrade-api/internal/dto"
	"github.com/noah-isme/smartgrade-api/internal/middleware"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/response"
)

type dashboardService interface {
	Teacher(ctx context.Context, teacherID string) (*dto.TeacherDashboardResponse, bool, error)
	Student(ctx context.Context, userID, riskMode string) (*dto.StudentDashboardResponse, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Teacher godoc
// @Summary Teacher dashboard
// @Description Roster size, status counts and the at-risk list. Admins may pass teacher_id.
// @Tags Dashboard
// @Produce json
// @Param teacher_id query string false "Teacher user ID (admin only)"
// @Success 200 {object} response.Envelope
// @Router /dashboard/teacher [get]
func (h *DashboardHandler) Teacher(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	teacherID := actor.UserID
	if requested := strings.TrimSpace(c.Query("teacher_id")); requested != "" && requested != actor.UserID {
		if !actor.IsAdmin() {
			response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "teachers can only view their own dashboard"))
			return
		}
		teacherID = requested
	}
	start := time.Now()
	summary, cacheHit, err := h.service.Teacher(c.Request.Context(), teacherID)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.reply(c, summary, cacheHit, start)
}

// Student godoc
// @Summary Student self dashboard
// @Description Latest observations, self status, risk status, subject health and feedback
// @Tags Dashboard
// @Produce json
// @Param risk_mode query string false "latest (default), latest_strict, aggregate, composite or composite_mean"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /me/dashboard [get]
func (h *DashboardHandler) Student(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	actor, ok := currentActor(c)
	if !ok {
		return
	}
	start := time.Now()
	summary, cacheHit, err := h.service.Student(c.Request.Context(), actor.UserID, c.Query("risk_mode"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.reply(c, summary, cacheHit, start)
}

func (h *DashboardHandler) reply(c *gin.Context, data interface{}, cacheHit bool, start time.Time) {
	middleware.SetCacheHit(c, cacheHit)
	middleware.SetMeta(c, "processing_time_ms", time.Since(start).Milliseconds())
	response.JSON(c, http.StatusOK, data, nil, middleware.ExtractMeta(c))
}
