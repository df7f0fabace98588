package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	_ "github.com/noah-isme/smartgrade-api/api/swagger"
	"github.com/noah-isme/smartgrade-api/internal/handler"
	"github.com/noah-isme/smartgrade-api/internal/repository"
	"github.com/noah-isme/smartgrade-api/internal/service"
	"github.com/noah-isme/smartgrade-api/pkg/cache"
	"github.com/noah-isme/smartgrade-api/pkg/config"
	"github.com/noah-isme/smartgrade-api/pkg/database"
	"github.com/noah-isme/smartgrade-api/pkg/export"
	"github.com/noah-isme/smartgrade-api/pkg/jobs"
	"github.com/noah-isme/smartgrade-api/pkg/logger"
	"github.com/noah-isme/smartgrade-api/pkg/risk"
	"github.com/noah-isme/smartgrade-api/pkg/storage"
)

// @title SmartGrade API
// @version 1.0.0
// @description Student observation tracking, risk evaluation and CSV reconciliation for teachers
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(ctx, cfg.Database, logr)
	if err != nil {
		logr.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, dashboard cache disabled", zap.Error(err))
		redisClient = nil
	}

	app, err := build(ctx, cfg, db, redisClient, logr)
	if err != nil {
		logr.Fatal("failed to wire application", zap.Error(err))
	}
	defer app.shutdown()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           app.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Warn("graceful shutdown failed", zap.Error(err))
	}
}

type application struct {
	router   *gin.Engine
	shutdown func()
}

func build(ctx context.Context, cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, logr *zap.Logger) (*application, error) {
	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	teacherRepo := repository.NewTeacherRepository(db)
	observationRepo := repository.NewObservationRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	noteRepo := repository.NewNoteRepository(db)
	contactRepo := repository.NewContactRepository(db)
	reportRepo := repository.NewReportRepository(db)

	var (
		cacheRepo *repository.CacheRepository
		cacheSvc  *service.CacheService
	)
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Dashboard.CacheTTL, logr, cfg.Dashboard.Enabled)
	}

	evaluator := service.NewEvaluationService(riskConfig(cfg.Risk))

	identities := service.NewIdentityProvisioner(userRepo, studentRepo, service.IdentityConfig{
		CredentialPolicy: cfg.Import.CredentialPolicy,
		DefaultPassword:  cfg.Import.DefaultPassword,
		DefaultClassName: cfg.Import.DefaultClassName,
	}, logr)
	userSvc := service.NewUserService(userRepo, studentRepo, teacherRepo, validate, logr, 0)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "smartgrade-api",
	})
	studentSvc := service.NewStudentService(service.StudentServiceParams{
		Repo:         studentRepo,
		Users:        userRepo,
		Identities:   identities,
		Observations: observationRepo,
		Feedback:     feedbackRepo,
		Evaluator:    evaluator,
		Cache:        cacheSvc,
		Validator:    validate,
		Logger:       logr,
	})
	observationSvc := service.NewObservationService(observationRepo, studentRepo, teacherRepo, cacheSvc, validate, logr)
	feedbackSvc := service.NewFeedbackService(feedbackRepo, studentRepo, studentRepo, teacherRepo, validate, logr)
	noteSvc := service.NewNoteService(noteRepo, studentRepo, validate)
	importSvc := service.NewImportService(service.ImportServiceParams{
		Identities:   identities,
		Students:     studentRepo,
		Observations: observationRepo,
		Teachers:     teacherRepo,
		Audit:        userRepo,
		Cache:        cacheSvc,
		Metrics:      metricsSvc,
		Logger:       logr,
		Config: service.ImportConfig{
			MaxFileSize:  cfg.Import.MaxFileSizeBytes,
			ErrorPreview: cfg.Import.ErrorPreview,
			AllowedMIMEs: cfg.Import.AllowedMIMEs,
		},
	})
	dashboardSvc := service.NewDashboardService(service.DashboardServiceParams{
		Roster:       studentSvc,
		Students:     studentRepo,
		Observations: observationRepo,
		Feedback:     feedbackRepo,
		Evaluator:    evaluator,
		Cache:        cacheSvc,
		Logger:       logr,
		Config:       service.DashboardServiceConfig{CacheTTL: cfg.Dashboard.CacheTTL},
	})

	retries := cfg.Notifications.Retries
	contactWorker := service.NewContactWorker(contactRepo, service.NewLogNotifier(logr), metricsSvc, retries, logr)
	contactQueue := jobs.NewQueue("contacts", contactWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		MaxRetries: retries,
		Logger:     logr,
	})
	contactSvc := service.NewContactService(contactRepo, studentRepo, contactQueue, validate, logr)

	reportStore, err := storage.NewLocalStorage(cfg.Reports.StorageDir)
	if err != nil {
		return nil, err
	}
	signer := storage.NewSignedURLSigner(cfg.Reports.SignedURLSecret, cfg.Reports.SignedURLTTL)
	exportSvc := service.NewExportService(studentSvc, reportStore, signer, service.ExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Reports.SignedURLTTL,
	}, logr, &export.CSVExporter{BOM: true}, export.NewPDFExporter())
	const reportAttempts = 3
	reportWorker := service.NewReportWorker(reportRepo, exportSvc, reportAttempts, logr)
	reportQueue := jobs.NewQueue("reports", reportWorker.Handle, jobs.QueueConfig{
		Workers:    2,
		MaxRetries: reportAttempts,
		RetryDelay: 2 * time.Second,
		Logger:     logr,
	})
	reportSvc := service.NewReportService(reportRepo, studentRepo, reportQueue, exportSvc, logr, service.ReportServiceConfig{
		ResultTTL:       cfg.Reports.SignedURLTTL,
		CleanupInterval: cfg.Reports.CleanupInterval,
	})

	contactQueue.Start(ctx)
	reportQueue.Start(ctx)
	contactSvc.RecoverQueued(ctx)
	reportSvc.RecoverPendingJobs(ctx)
	reportSvc.StartCleanup(ctx)

	dependencies := map[string]handler.Pinger{"postgres": db}
	if redisClient != nil {
		dependencies["redis"] = cache.Probe{Client: redisClient}
	}

	router := newRouter(cfg, logr, metricsSvc, routes{
		auth:         handler.NewAuthHandler(authSvc, userSvc),
		users:        handler.NewUserHandler(userSvc),
		students:     handler.NewStudentHandler(studentSvc),
		observations: handler.NewObservationHandler(observationSvc),
		engagement:   handler.NewEngagementHandler(feedbackSvc, noteSvc, contactSvc),
		imports:      handler.NewImportHandler(importSvc),
		dashboard:    handler.NewDashboardHandler(dashboardSvc),
		reports:      handler.NewReportHandler(reportSvc, logr),
		metrics: handler.NewMetricsHandler(metricsSvc, dependencies, map[string]handler.QueueStatser{
			"contacts": contactQueue,
			"reports":  reportQueue,
		}),
		tokens: authSvc,
		audit:  userRepo,
	})

	return &application{
		router: router,
		shutdown: func() {
			reportQueue.Stop()
			contactQueue.Stop()
			if cacheRepo != nil {
				_ = cacheRepo.Close()
			}
		},
	}, nil
}

func riskConfig(c config.RiskConfig) risk.Config {
	return risk.Config{
		CriticalBelow:         c.CriticalBelow,
		WarningBelow:          c.WarningBelow,
		StrictWarningBelow:    c.StrictWarningBelow,
		AttendanceScale:       c.AttendanceScale,
		QuizMax:               c.QuizMax,
		AttendanceWeight:      c.AttendanceWeight,
		HomeworkWeight:        c.HomeworkWeight,
		QuizWeight:            c.QuizWeight,
		HealthGoodAtLeast:     c.HealthGoodAtLeast,
		HealthWarnAtLeast:     c.HealthWarnAtLeast,
		CompositeSafeAtLeast:  c.CompositeSafeAtLeast,
		CompositeWatchAtLeast: c.CompositeWatchAtLeast,
	}
}
