package service

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/dto"
	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/pkg/export"
	"github.com/noah-isme/smartgrade-api/pkg/storage"
)

type reportDataSource interface {
	RosterPages(ctx context.Context, teacherID, className string, visit func(entries []dto.RosterEntry, done, total int) error) error
	Detail(ctx context.Context, id string, opts DetailOptions, actor Actor) (*dto.StudentDetailResponse, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ProgressFunc receives how many students of a report have been evaluated.
type ProgressFunc func(done, total int)

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets and persists rendered files.
type ExportService struct {
	source  reportDataSource
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// NewExportService constructs an ExportService.
func NewExportService(source reportDataSource, storage fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		source:  source,
		storage: storage,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Generate builds the dataset of a job, renders it and returns a signed download URL.
// progress may be nil.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob, progress ProgressFunc) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	if progress == nil {
		progress = func(int, int) {}
	}
	dataset, title, err := s.buildDataset(ctx, job, progress)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	s.logger.Debug("report rendered", zap.String("job_id", job.ID), zap.String("path", relPath), zap.Int("rows", len(dataset.Rows)))
	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/reports/download/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	scope := job.Params.ClassName
	if job.Type == models.ReportTypeHistory {
		scope = job.Params.StudentID
	}
	return fmt.Sprintf("%s_%s_%s_%s.%s", job.Type, sanitizeFilename(scope), timestamp, shortID(job.ID), job.Params.Format)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "all"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob, progress ProgressFunc) (export.Dataset, string, error) {
	switch job.Type {
	case models.ReportTypeRoster:
		return s.buildRosterDataset(ctx, job.Params, progress)
	case models.ReportTypeHistory:
		return s.buildHistoryDataset(ctx, job.Params, progress)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

func (s *ExportService) buildRosterDataset(ctx context.Context, params models.ReportJobParams, progress ProgressFunc) (export.Dataset, string, error) {
	headers := []string{"Username", "Full Name", "Class", "Last Record", "Total", "Status", "Summary"}
	var rows []map[string]string
	err := s.source.RosterPages(ctx, params.TeacherID, params.ClassName, func(entries []dto.RosterEntry, done, total int) error {
		for _, e := range entries {
			rows = append(rows, map[string]string{
				"Username":    e.Username,
				"Full Name":   e.FullName,
				"Class":       e.ClassName,
				"Last Record": formatReportDate(e.LastRecordDate),
				"Total":       strconv.FormatFloat(e.Total, 'f', -1, 64),
				"Status":      string(e.Status),
				"Summary":     e.Summary,
			})
		}
		progress(done, total)
		return ctx.Err()
	})
	if err != nil {
		return export.Dataset{}, "", err
	}
	title := "Student Roster"
	if params.ClassName != "" {
		title = fmt.Sprintf("Student Roster %s", params.ClassName)
	}
	return export.Dataset{Headers: headers, Rows: rows, StatusColumn: "Status"}, title, nil
}

func (s *ExportService) buildHistoryDataset(ctx context.Context, params models.ReportJobParams, progress ProgressFunc) (export.Dataset, string, error) {
	actor := Actor{UserID: params.TeacherID, Role: models.RoleTeacher}
	if params.TeacherID == "" {
		actor.Role = models.RoleAdmin
	}
	detail, err := s.source.Detail(ctx, params.StudentID, DetailOptions{}, actor)
	if err != nil {
		return export.Dataset{}, "", err
	}
	headers := []string{"Date", "Subject", "Attendance", "Quiz", "Homework", "Activity"}
	rows := make([]map[string]string, 0, len(detail.Observations)+len(detail.SubjectHealth))
	for _, o := range detail.Observations {
		homework := "no"
		if o.HomeworkDone {
			homework = "yes"
		}
		rows = append(rows, map[string]string{
			"Date":       o.RecordDate.Format("2006-01-02"),
			"Subject":    o.Subject,
			"Attendance": strconv.Itoa(o.AttendanceScore),
			"Quiz":       strconv.FormatFloat(o.QuizScore, 'f', -1, 64),
			"Homework":   homework,
			"Activity":   strconv.Itoa(o.ActivityScore),
		})
	}
	for _, h := range detail.SubjectHealth {
		rows = append(rows, map[string]string{
			"Date":       "health",
			"Subject":    h.Subject,
			"Attendance": fmt.Sprintf("%.0f%%", h.Ratios.Attendance),
			"Quiz":       fmt.Sprintf("%.0f%%", h.Ratios.Quiz),
			"Homework":   fmt.Sprintf("%.0f%%", h.Ratios.Homework),
			"Activity":   fmt.Sprintf("%.0f %s", h.Score, h.Status),
		})
	}
	progress(1, 1)
	title := fmt.Sprintf("Observation History %s (%s)", detail.Student.Username, detail.Risk.Status)
	return export.Dataset{Headers: headers, Rows: rows}, title, nil
}

func formatReportDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}
