package service

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/dto"
	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/internal/repository"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/jobs"
)

type reportJobStore interface {
	Create(ctx context.Context, job *models.ReportJob) error
	GetByID(ctx context.Context, id string) (*models.ReportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error
	AdvanceProgress(ctx context.Context, id string, progress int) error
	ListPending(ctx context.Context, limit int) ([]models.ReportJob, error)
	ExpireResults(ctx context.Context, cutoff time.Time) (int64, error)
	ListByCreator(ctx context.Context, createdBy string, limit int) ([]models.ReportJob, error)
}

type exportGenerator interface {
	Generate(ctx context.Context, job *models.ReportJob, progress ProgressFunc) (*ExportResult, error)
}

// Report progress milestones. Evaluating students fills the band between
// progressStarted and progressEvaluated; rendering and storing the file take the rest.
const (
	progressStarted   = 5
	progressEvaluated = 90
	progressDone      = 100
	progressStep      = 5
)

// ReportService accepts roster and history export requests from teachers and admins
// and serves the finished files.
type ReportService struct {
	repo     reportJobStore
	students studentGate
	queue    jobDispatcher
	exporter *ExportService
	logger   *zap.Logger
	cfg      ReportServiceConfig
}

// ReportServiceConfig governs result expiry.
type ReportServiceConfig struct {
	ResultTTL       time.Duration
	CleanupInterval time.Duration
}

// ReportDownload is an opened export ready to stream.
type ReportDownload struct {
	File      *os.File
	Filename  string
	Format    models.ReportFormat
	ExpiresAt time.Time
}

// NewReportService constructs the report service.
func NewReportService(repo reportJobStore, students studentGate, queue jobDispatcher, exporter *ExportService, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	return &ReportService{repo: repo, students: students, queue: queue, exporter: exporter, logger: logger, cfg: cfg}
}

// CreateJob queues a report. Teachers' reports are scoped to their own students;
// history reports additionally require access to the named student.
func (s *ReportService) CreateJob(ctx context.Context, req dto.ReportRequest, actor Actor) (*dto.ReportJobResponse, error) {
	if err := s.checkRequest(ctx, req, actor); err != nil {
		return nil, err
	}
	job := &models.ReportJob{
		Type: req.Type,
		Params: models.ReportJobParams{
			ClassName: strings.TrimSpace(req.ClassName),
			StudentID: req.StudentID,
			Format:    req.Format,
		},
		Status:    models.ReportStatusQueued,
		CreatedBy: actor.UserID,
	}
	if !actor.IsAdmin() {
		job.Params.TeacherID = actor.UserID
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report job")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
		failJob(ctx, s.repo, job.ID, "failed to enqueue job", s.logger)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue report job")
	}
	return &dto.ReportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// GetStatus returns a job's progress to its creator or an admin.
func (s *ReportService) GetStatus(ctx context.Context, id string, actor Actor) (*dto.ReportStatusResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if !actor.IsAdmin() && job.CreatedBy != actor.UserID {
		return nil, appErrors.ErrForbidden
	}
	status := reportStatus(*job)
	return &status, nil
}

// ListMine returns the caller's twenty most recent jobs.
func (s *ReportService) ListMine(ctx context.Context, actor Actor) ([]dto.ReportStatusResponse, error) {
	records, err := s.repo.ListByCreator(ctx, actor.UserID, 20)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list report jobs")
	}
	out := make([]dto.ReportStatusResponse, 0, len(records))
	for _, job := range records {
		out = append(out, reportStatus(job))
	}
	return out, nil
}

func reportStatus(job models.ReportJob) dto.ReportStatusResponse {
	resp := dto.ReportStatusResponse{
		ID:        job.ID,
		Type:      job.Type,
		Status:    job.Status,
		Progress:  job.Progress,
		ResultURL: job.ResultURL,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp
}

// ResolveDownload checks a signed token against the job's current link and opens the file.
// Expired results have no link, so their tokens are refused even before the signature lapses.
func (s *ReportService) ResolveDownload(ctx context.Context, token string) (*ReportDownload, error) {
	jobID, relPath, expiresAt, err := s.exporter.ParseToken(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report job")
	}
	if job.Status != models.ReportStatusFinished {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "report not ready")
	}
	if job.ResultURL == nil || !strings.HasSuffix(*job.ResultURL, "/"+token) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.exporter.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export file")
	}
	return &ReportDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		Format:    job.Params.Format,
		ExpiresAt: expiresAt,
	}, nil
}

// RecoverPendingJobs requeues jobs left queued or half rendered by a previous process.
func (s *ReportService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.repo.ListPending(ctx, 50)
	if err != nil {
		s.logger.Warn("failed to list pending report jobs", zap.Error(err))
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: string(job.Type)}); err != nil {
			s.logger.Warn("failed to requeue report job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	if len(pending) > 0 {
		s.logger.Info("report jobs recovered", zap.Int("count", len(pending)))
	}
}

// StartCleanup expires old results every CleanupInterval until ctx ends.
func (s *ReportService) StartCleanup(ctx context.Context) {
	if s.cfg.CleanupInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.expireResults(ctx, time.Now())
			}
		}
	}()
}

// expireResults unlinks results older than ResultTTL before deleting their files,
// so a status poll never hands out a link to a missing file.
func (s *ReportService) expireResults(ctx context.Context, now time.Time) {
	expired, err := s.repo.ExpireResults(ctx, now.Add(-s.cfg.ResultTTL))
	if err != nil {
		s.logger.Warn("report result expiry failed", zap.Error(err))
		return
	}
	removed, err := s.exporter.Cleanup(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Warn("report file cleanup failed", zap.Error(err))
	}
	if expired > 0 || len(removed) > 0 {
		s.logger.Info("report results expired", zap.Int64("jobs", expired), zap.Int("files", len(removed)))
	}
}

func (s *ReportService) checkRequest(ctx context.Context, req dto.ReportRequest, actor Actor) error {
	switch req.Type {
	case models.ReportTypeRoster, models.ReportTypeHistory:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported report type")
	}
	switch req.Format {
	case models.ReportFormatCSV, models.ReportFormatPDF:
	default:
		return appErrors.Clone(appErrors.ErrValidation, "unsupported report format")
	}
	if req.Type != models.ReportTypeHistory {
		return nil
	}
	if req.StudentID == "" {
		return appErrors.Clone(appErrors.ErrValidation, "student_id is required for history reports")
	}
	_, err := authorizeStudent(ctx, s.students, req.StudentID, actor)
	return err
}

func failJob(ctx context.Context, repo reportJobStore, id, msg string, logger *zap.Logger) {
	failed := models.ReportStatusFailed
	progress := progressDone
	now := time.Now().UTC()
	if err := repo.Update(ctx, id, repository.UpdateReportJobParams{
		Status:       &failed,
		Progress:     &progress,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		logger.Warn("failed to mark report job failed", zap.String("job_id", id), zap.Error(err))
	}
}

// ReportWorker renders queued report jobs.
type ReportWorker struct {
	repo       reportJobStore
	exporter   exportGenerator
	logger     *zap.Logger
	maxRetries int
}

// NewReportWorker constructs a worker. maxRetries must match the queue's so the
// last attempt marks the job failed instead of queued.
func NewReportWorker(repo reportJobStore, exporter exportGenerator, maxRetries int, logger *zap.Logger) *ReportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ReportWorker{repo: repo, exporter: exporter, logger: logger, maxRetries: maxRetries}
}

// Handle renders one job, persisting progress as students are evaluated.
func (w *ReportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	processing := models.ReportStatusProcessing
	started := progressStarted
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{Status: &processing, Progress: &started}); err != nil {
		return err
	}

	tracker := &progressTracker{ctx: ctx, repo: w.repo, jobID: job.ID, last: progressStarted, logger: w.logger}
	result, err := w.exporter.Generate(ctx, record, tracker.observe)
	if err != nil {
		w.retryOrFail(ctx, job, err)
		return err
	}

	finished := models.ReportStatusFinished
	done := progressDone
	now := time.Now().UTC()
	url := result.URL
	noError := ""
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:       &finished,
		Progress:     &done,
		ResultURL:    &url,
		ErrorMessage: &noError,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Warn("failed to mark report job finished", zap.String("job_id", job.ID), zap.Error(err))
		return err
	}
	w.logger.Info("report job finished", zap.String("job_id", job.ID), zap.String("type", string(record.Type)), zap.Int("attempt", job.Attempt))
	return nil
}

func (w *ReportWorker) retryOrFail(ctx context.Context, job jobs.Job, cause error) {
	msg := cause.Error()
	if job.Attempt >= w.maxRetries {
		failJob(ctx, w.repo, job.ID, msg, w.logger)
		return
	}
	queued := models.ReportStatusQueued
	reset := 0
	if err := w.repo.Update(ctx, job.ID, repository.UpdateReportJobParams{
		Status:       &queued,
		Progress:     &reset,
		ErrorMessage: &msg,
	}); err != nil {
		w.logger.Warn("failed to requeue report job", zap.String("job_id", job.ID), zap.Error(err))
	}
}

// progressTracker maps evaluated students onto the progress band and writes only
// when the bar moves by at least progressStep.
type progressTracker struct {
	ctx    context.Context
	repo   reportJobStore
	jobID  string
	last   int
	logger *zap.Logger
}

func (t *progressTracker) observe(done, total int) {
	if total <= 0 {
		return
	}
	if done > total {
		done = total
	}
	pct := progressStarted + (progressEvaluated-progressStarted)*done/total
	if pct-t.last < progressStep && done < total {
		return
	}
	if pct <= t.last {
		return
	}
	if err := t.repo.AdvanceProgress(t.ctx, t.jobID, pct); err != nil {
		t.logger.Warn("report progress update failed", zap.String("job_id", t.jobID), zap.Error(err))
		return
	}
	t.last = pct
}
