package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/dto"
	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/internal/repository"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/jobs"
)

type reportRepoStub struct {
	mu    sync.Mutex
	seq   int
	jobs  map[string]*models.ReportJob
	ticks []int
}

func newReportRepoStub() *reportRepoStub {
	return &reportRepoStub{jobs: make(map[string]*models.ReportJob)}
}

func (r *reportRepoStub) Create(ctx context.Context, job *models.ReportJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", r.seq)
	}
	job.CreatedAt = time.Now().UTC()
	clone := *job
	r.jobs[job.ID] = &clone
	return nil
}

func (r *reportRepoStub) GetByID(ctx context.Context, id string) (*models.ReportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *job
	return &clone, nil
}

func (r *reportRepoStub) Update(ctx context.Context, id string, params repository.UpdateReportJobParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Progress != nil {
		job.Progress = *params.Progress
	}
	if params.ResultURL != nil {
		url := *params.ResultURL
		job.ResultURL = &url
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		job.ErrorMessage = &msg
	}
	if params.FinishedAt != nil {
		finished := *params.FinishedAt
		job.FinishedAt = &finished
	}
	return nil
}

func (r *reportRepoStub) AdvanceProgress(ctx context.Context, id string, progress int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	r.ticks = append(r.ticks, progress)
	if job.Status == models.ReportStatusProcessing && job.Progress < progress {
		job.Progress = progress
	}
	return nil
}

func (r *reportRepoStub) ListPending(ctx context.Context, limit int) ([]models.ReportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ReportJob
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusQueued || job.Status == models.ReportStatusProcessing {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *reportRepoStub) ExpireResults(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, job := range r.jobs {
		if job.Status == models.ReportStatusFinished && job.ResultURL != nil && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			job.ResultURL = nil
			n++
		}
	}
	return n, nil
}

func (r *reportRepoStub) ListByCreator(ctx context.Context, createdBy string, limit int) ([]models.ReportJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ReportJob
	for _, job := range r.jobs {
		if job.CreatedBy == createdBy {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *reportRepoStub) get(id string) models.ReportJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.jobs[id]
}

type reportFixture struct {
	svc      *ReportService
	repo     *reportRepoStub
	queue    *recordingQueue
	students *memStudents
	exporter *ExportService
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	repo := newReportRepoStub()
	queue := &recordingQueue{}
	students := newMemStudents(newMemUsers())
	exporter, _ := newExportServiceForTest(t, sampleReportSource())
	svc := NewReportService(repo, students, queue, exporter, zap.NewNop(), ReportServiceConfig{ResultTTL: time.Hour})
	return &reportFixture{svc: svc, repo: repo, queue: queue, students: students, exporter: exporter}
}

func TestReportServiceCreateRosterJob(t *testing.T) {
	f := newReportFixture(t)

	resp, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatCSV, ClassName: " M.4/1 "}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ReportStatusQueued, resp.Status)
	require.Len(t, f.queue.jobs, 1)
	assert.Equal(t, resp.ID, f.queue.jobs[0].ID)

	stored := f.repo.get(resp.ID)
	assert.Equal(t, "M.4/1", stored.Params.ClassName)
	assert.Equal(t, "teacher-1", stored.Params.TeacherID)
	assert.Equal(t, "teacher-1", stored.CreatedBy)
}

func TestReportServiceAdminRosterIsUnscoped(t *testing.T) {
	f := newReportFixture(t)

	resp, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatPDF}, adminActor())
	require.NoError(t, err)
	assert.Empty(t, f.repo.get(resp.ID).Params.TeacherID)
}

func TestReportServiceHistoryValidation(t *testing.T) {
	f := newReportFixture(t)
	linked := f.students.seed("s1", "M.4/1", "teacher-1")
	other := f.students.seed("s2", "M.4/1", "teacher-2")

	_, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeHistory, Format: models.ReportFormatCSV}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeHistory, Format: models.ReportFormatCSV, StudentID: other.ID}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeHistory, Format: models.ReportFormatCSV, StudentID: "missing"}, adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeHistory, Format: models.ReportFormatCSV, StudentID: linked.ID}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Len(t, f.queue.jobs, 1)
}

func TestReportServiceRejectsUnknownFormat(t *testing.T) {
	f := newReportFixture(t)

	_, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: "xlsx"}, adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceEnqueueFailureMarksJobFailed(t *testing.T) {
	f := newReportFixture(t)
	f.queue.err = errors.New("queue full")

	_, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatCSV}, adminActor())
	require.Error(t, err)
	jobsByAdmin, _ := f.repo.ListByCreator(context.Background(), "admin-1", 10)
	require.Len(t, jobsByAdmin, 1)
	assert.Equal(t, models.ReportStatusFailed, jobsByAdmin[0].Status)
}

func TestReportServiceStatusOwnership(t *testing.T) {
	f := newReportFixture(t)
	resp, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatCSV}, teacherActor("teacher-1"))
	require.NoError(t, err)

	status, err := f.svc.GetStatus(context.Background(), resp.ID, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ReportTypeRoster, status.Type)

	_, err = f.svc.GetStatus(context.Background(), resp.ID, teacherActor("teacher-2"))
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = f.svc.GetStatus(context.Background(), resp.ID, adminActor())
	require.NoError(t, err)

	_, err = f.svc.GetStatus(context.Background(), "missing", adminActor())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestReportServiceListMine(t *testing.T) {
	f := newReportFixture(t)
	for i := 0; i < 2; i++ {
		_, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatCSV}, teacherActor("teacher-1"))
		require.NoError(t, err)
	}
	_, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatCSV}, adminActor())
	require.NoError(t, err)

	mine, err := f.svc.ListMine(context.Background(), teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestReportWorkerGeneratesAndServesDownload(t *testing.T) {
	f := newReportFixture(t)
	resp, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatCSV}, teacherActor("teacher-1"))
	require.NoError(t, err)

	worker := NewReportWorker(f.repo, f.exporter, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: resp.ID, Attempt: 1}))

	stored := f.repo.get(resp.ID)
	assert.Equal(t, models.ReportStatusFinished, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ResultURL)
	require.NotNil(t, stored.FinishedAt)

	token := (*stored.ResultURL)[strings.LastIndex(*stored.ResultURL, "/")+1:]
	download, err := f.svc.ResolveDownload(context.Background(), token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, models.ReportFormatCSV, download.Format)
	assert.True(t, strings.HasSuffix(download.Filename, ".csv"))
	body, err := io.ReadAll(download.File)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Somchai")

	_, err = f.svc.ResolveDownload(context.Background(), "garbage")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

type failingExporter struct{}

func (failingExporter) Generate(ctx context.Context, job *models.ReportJob, progress ProgressFunc) (*ExportResult, error) {
	return nil, errors.New("render failed")
}

func TestReportWorkerRetriesThenFails(t *testing.T) {
	f := newReportFixture(t)
	resp, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatPDF}, adminActor())
	require.NoError(t, err)
	worker := NewReportWorker(f.repo, failingExporter{}, 2, zap.NewNop())

	require.Error(t, worker.Handle(context.Background(), jobs.Job{ID: resp.ID, Attempt: 1}))
	stored := f.repo.get(resp.ID)
	assert.Equal(t, models.ReportStatusQueued, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "render failed", *stored.ErrorMessage)

	require.Error(t, worker.Handle(context.Background(), jobs.Job{ID: resp.ID, Attempt: 2}))
	stored = f.repo.get(resp.ID)
	assert.Equal(t, models.ReportStatusFailed, stored.Status)
	assert.NotNil(t, stored.FinishedAt)
}

func TestReportServiceRecoverPendingJobs(t *testing.T) {
	f := newReportFixture(t)
	_, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatCSV}, adminActor())
	require.NoError(t, err)
	f.queue.jobs = nil

	interrupted, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatPDF}, adminActor())
	require.NoError(t, err)
	processing := models.ReportStatusProcessing
	require.NoError(t, f.repo.Update(context.Background(), interrupted.ID, repository.UpdateReportJobParams{Status: &processing}))
	done, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatPDF}, adminActor())
	require.NoError(t, err)
	finished := models.ReportStatusFinished
	require.NoError(t, f.repo.Update(context.Background(), done.ID, repository.UpdateReportJobParams{Status: &finished}))
	f.queue.jobs = nil

	f.svc.RecoverPendingJobs(context.Background())
	require.Len(t, f.queue.jobs, 2)
	var ids []string
	for _, j := range f.queue.jobs {
		ids = append(ids, j.ID)
	}
	assert.Contains(t, ids, interrupted.ID)
	assert.NotContains(t, ids, done.ID)
}

// pagedExporter reports one tick per student of a fixed roster.
type pagedExporter struct {
	students int
}

func (p pagedExporter) Generate(ctx context.Context, job *models.ReportJob, progress ProgressFunc) (*ExportResult, error) {
	for i := 1; i <= p.students; i++ {
		progress(i, p.students)
	}
	return &ExportResult{URL: "/api/v1/reports/download/tok"}, nil
}

func TestReportWorkerPersistsPerStudentProgress(t *testing.T) {
	f := newReportFixture(t)
	resp, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatCSV}, adminActor())
	require.NoError(t, err)

	worker := NewReportWorker(f.repo, pagedExporter{students: 40}, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: resp.ID, Attempt: 1}))

	require.NotEmpty(t, f.repo.ticks)
	assert.Less(t, len(f.repo.ticks), 40)
	assert.IsIncreasing(t, f.repo.ticks)
	assert.Equal(t, progressEvaluated, f.repo.ticks[len(f.repo.ticks)-1])
	for i := 1; i < len(f.repo.ticks); i++ {
		assert.GreaterOrEqual(t, f.repo.ticks[i]-f.repo.ticks[i-1], progressStep)
	}
	assert.Equal(t, progressDone, f.repo.get(resp.ID).Progress)
}

func TestReportWorkerHistoryProgress(t *testing.T) {
	f := newReportFixture(t)
	st := f.students.seed("s1", "M.4/1", "teacher-1")
	resp, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeHistory, Format: models.ReportFormatCSV, StudentID: st.ID}, teacherActor("teacher-1"))
	require.NoError(t, err)

	worker := NewReportWorker(f.repo, f.exporter, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: resp.ID, Attempt: 1}))
	assert.Equal(t, []int{progressEvaluated}, f.repo.ticks)
}

func TestReportServiceExpiresOldResults(t *testing.T) {
	f := newReportFixture(t)
	resp, err := f.svc.CreateJob(context.Background(), dto.ReportRequest{Type: models.ReportTypeRoster, Format: models.ReportFormatCSV}, teacherActor("teacher-1"))
	require.NoError(t, err)
	worker := NewReportWorker(f.repo, f.exporter, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: resp.ID, Attempt: 1}))
	stored := f.repo.get(resp.ID)
	token := (*stored.ResultURL)[strings.LastIndex(*stored.ResultURL, "/")+1:]

	f.svc.expireResults(context.Background(), time.Now())
	assert.NotNil(t, f.repo.get(resp.ID).ResultURL)

	f.svc.expireResults(context.Background(), time.Now().Add(2*time.Hour))
	status, err := f.svc.GetStatus(context.Background(), resp.ID, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Nil(t, status.ResultURL)

	_, err = f.svc.ResolveDownload(context.Background(), token)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
