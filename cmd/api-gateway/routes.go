package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/handler"
	"github.com/noah-isme/smartgrade-api/internal/middleware"
	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/internal/service"
	"github.com/noah-isme/smartgrade-api/pkg/config"
	"github.com/noah-isme/smartgrade-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/smartgrade-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/smartgrade-api/pkg/middleware/requestid"
)

type routes struct {
	auth         *handler.AuthHandler
	users        *handler.UserHandler
	students     *handler.StudentHandler
	observations *handler.ObservationHandler
	engagement   *handler.EngagementHandler
	imports      *handler.ImportHandler
	dashboard    *handler.DashboardHandler
	reports      *handler.ReportHandler
	metrics      *handler.MetricsHandler
	tokens       middleware.TokenValidator
	audit        middleware.AuditWriter
}

func newRouter(cfg *config.Config, logr *zap.Logger, metricsSvc *service.MetricsService, h routes) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.MaxMultipartMemory = cfg.Import.MaxFileSizeBytes

	r.GET("/health", h.metrics.Health)
	r.GET("/ready", h.metrics.Ready)
	r.GET("/metrics", h.metrics.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	staff := []models.UserRole{models.RoleTeacher, models.RoleAdmin}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())

	auth := api.Group("/auth")
	auth.POST("/login", h.auth.Login)
	auth.POST("/register", h.auth.Register)
	auth.POST("/refresh", h.auth.Refresh)

	// Signed tokens authorise downloads; links are shareable without a bearer header.
	api.GET("/reports/download/:token", h.reports.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(h.tokens))

	secured.POST("/auth/logout", h.auth.Logout)
	secured.POST("/auth/change-password", h.auth.ChangePassword)
	secured.GET("/auth/me", h.auth.Me)

	// Provisioned accounts reach nothing below until they change their password.
	app := secured.Group("", middleware.RequirePasswordChanged())
	app.GET("/me/profile", h.users.Profile)
	app.PUT("/me/profile", h.users.UpdateProfile)

	me := app.Group("/me", middleware.RequireRoles(models.RoleStudent))
	me.GET("/dashboard", h.dashboard.Student)
	me.GET("/feedback", h.engagement.MyFeedback)

	users := app.Group("/users", middleware.RequireRoles(models.RoleAdmin))
	users.GET("", h.users.List)
	users.POST("", h.users.Create)
	users.GET("/:id", h.users.Get)
	users.PUT("/:id", h.users.Update)
	users.DELETE("/:id", h.users.Delete)

	teach := app.Group("", middleware.RequireRoles(staff...))
	teach.GET("/dashboard/teacher", h.dashboard.Teacher)

	students := teach.Group("/students")
	students.GET("", h.students.List)
	students.POST("", h.students.Create)
	students.GET("/:id", h.students.Get)
	students.PUT("/:id", h.students.Update)
	students.DELETE("/:id", h.students.Delete)
	students.GET("/:id/observations", h.observations.List)
	students.POST("/:id/observations", h.observations.Record)
	students.POST("/:id/feedback", h.engagement.SendFeedback)
	students.GET("/:id/feedback", h.engagement.ListFeedback)
	students.POST("/:id/notes", h.engagement.CreateNote)
	students.GET("/:id/notes", h.engagement.ListNotes)
	students.POST("/:id/contacts", h.engagement.CreateContact)
	students.GET("/:id/contacts", h.engagement.ListContacts)

	teach.PUT("/observations/:id", h.observations.Update)
	teach.DELETE("/observations/:id", h.observations.Delete)
	teach.DELETE("/notes/:id", middleware.Audit(h.audit, logr, models.AuditActionNoteDelete, "private_note"), h.engagement.DeleteNote)

	teach.POST("/imports/observations", h.imports.Observations)

	teach.POST("/reports", middleware.Audit(h.audit, logr, models.AuditActionReportRequest, "report_job"), h.reports.Create)
	teach.GET("/reports", h.reports.List)
	teach.GET("/reports/:id", h.reports.Status)

	app.GET("/metrics/snapshot", middleware.RequireRoles(models.RoleAdmin), h.metrics.Snapshot)

	return r
}
