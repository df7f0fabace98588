package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/pkg/csvrows"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/risk"
)

// Recognised import columns.
const (
	ColumnUsername        = "username"
	ColumnClassName       = "class_name"
	ColumnRecordDate      = "record_date"
	ColumnAttendanceScore = "attendance_score"
	ColumnHomeworkDone    = "homework_done"
	ColumnQuizScore       = "quiz_score"
	ColumnActivityScore   = "activity_score"
	ColumnSubject         = "subject"
)

var knownColumns = map[string]struct{}{
	ColumnUsername: {}, ColumnClassName: {}, ColumnRecordDate: {}, ColumnAttendanceScore: {},
	ColumnHomeworkDone: {}, ColumnQuizScore: {}, ColumnActivityScore: {}, ColumnSubject: {},
}

// record_date layouts in the order they are tried.
var importDateLayouts = []string{"01/02/2006", "02/01/2006", "2006-01-02"}

var truthyTokens = map[string]struct{}{
	"1": {}, "true": {}, "yes": {}, "y": {}, "t": {}, "x": {}, "on": {},
}

// RowSource yields input rows one at a time. Next returns io.EOF once exhausted.
type RowSource interface {
	Next() (csvrows.Row, error)
}

type studentProvisioner interface {
	ProvisionStudent(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error)
}

type importStudentLinker interface {
	AddTeacher(ctx context.Context, studentID, teacherID string) error
}

type observationUpserter interface {
	Upsert(ctx context.Context, observation *models.Observation) (bool, error)
}

type teacherProfileReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.Teacher, error)
}

type auditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// ImportConfig tunes the upload front of the importer.
type ImportConfig struct {
	MaxFileSize  int64
	ErrorPreview int
	AllowedMIMEs []string
}

// ImportOptions are per-request import settings.
type ImportOptions struct {
	// DefaultClassName is used for new students when a row carries no class_name.
	DefaultClassName string
}

// ImportResult is the response body of an import.
type ImportResult struct {
	models.ImportReport
	Preview        []string `json:"error_preview,omitempty"`
	IgnoredColumns []string `json:"ignored_columns,omitempty"`
	Message        string   `json:"message"`
}

// ImportService reconciles uploaded observation rows into stored observations.
type ImportService struct {
	identities   studentProvisioner
	students     importStudentLinker
	observations observationUpserter
	teachers     teacherProfileReader
	audit        auditWriter
	cache        *CacheService
	metrics      *MetricsService
	logger       *zap.Logger
	cfg          ImportConfig
	now          func() time.Time
}

// ImportServiceParams groups constructor dependencies.
type ImportServiceParams struct {
	Identities   studentProvisioner
	Students     importStudentLinker
	Observations observationUpserter
	Teachers     teacherProfileReader
	Audit        auditWriter
	Cache        *CacheService
	Metrics      *MetricsService
	Logger       *zap.Logger
	Config       ImportConfig
}

// NewImportService constructs an ImportService.
func NewImportService(params ImportServiceParams) *ImportService {
	cfg := params.Config
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 5 * 1024 * 1024
	}
	if cfg.ErrorPreview <= 0 {
		cfg.ErrorPreview = 5
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"text/csv", "text/plain"}
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ImportService{
		identities:   params.Identities,
		students:     params.Students,
		observations: params.Observations,
		teachers:     params.Teachers,
		audit:        params.Audit,
		cache:        params.Cache,
		metrics:      params.Metrics,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
}

// ImportCSV validates an uploaded file and imports its rows. Validation failures reject the
// whole file before any row is processed.
func (s *ImportService) ImportCSV(ctx context.Context, filename string, size int64, r io.Reader, opts ImportOptions, actor Actor) (*ImportResult, error) {
	if r == nil || filename == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFile, "only .csv files are supported")
	}
	if size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrFileTooLarge, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSize))
	}

	payload, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxFileSize+1))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read upload")
	}
	if int64(len(payload)) > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrFileTooLarge, fmt.Sprintf("file exceeds %d bytes", s.cfg.MaxFileSize))
	}
	if !s.allowedContent(payload) {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFile, "file is not a text CSV")
	}

	reader, err := csvrows.NewReader(bytes.NewReader(payload))
	if err != nil {
		if errors.Is(err, csvrows.ErrNoHeader) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "csv file is empty")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unable to read csv file")
	}
	if !reader.HasColumn(ColumnUsername) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "csv header must include username")
	}

	ignored := unknownColumns(reader.Headers())
	if len(ignored) > 0 {
		s.logger.Info("import ignores unrecognised columns", zap.String("filename", filename), zap.Strings("columns", ignored))
	}

	report, err := s.Import(ctx, reader, opts, actor)
	if err != nil {
		return nil, err
	}
	return &ImportResult{
		ImportReport:   *report,
		Preview:        report.Preview(s.cfg.ErrorPreview),
		IgnoredColumns: ignored,
		Message:        fmt.Sprintf("imported %d new and %d updated observations", report.Created, report.Updated),
	}, nil
}

func unknownColumns(headers []string) []string {
	var out []string
	for _, h := range headers {
		if h == "" {
			continue
		}
		if _, ok := knownColumns[h]; !ok {
			out = append(out, h)
		}
	}
	return out
}

func (s *ImportService) allowedContent(payload []byte) bool {
	if len(payload) == 0 {
		return true
	}
	for detected := mimetype.Detect(payload); detected != nil; detected = detected.Parent() {
		for _, allowed := range s.cfg.AllowedMIMEs {
			if detected.Is(allowed) {
				return true
			}
		}
	}
	return false
}

// Import reconciles every row of rows into observations owned by actor. Row failures are
// recorded in the report and never abort the run; only a failing row source does.
func (s *ImportService) Import(ctx context.Context, rows RowSource, opts ImportOptions, actor Actor) (*models.ImportReport, error) {
	if actor.UserID == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "import requires an acting teacher")
	}
	start := s.now()
	report := &models.ImportReport{Errors: []models.ImportRowError{}}
	subject := s.teacherSubject(ctx, actor.UserID)
	touched := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "import cancelled")
		}
		row, err := rows.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "failed to read rows")
		}
		if row.Err != nil {
			report.Errors = append(report.Errors, models.ImportRowError{Row: row.Index, Message: row.Err.Error()})
			continue
		}

		username := NormalizeUsername(row.Get(ColumnUsername))
		if username == "" {
			report.Skipped++
			continue
		}

		studentID, inserted, err := s.importRow(ctx, row, username, subject, opts, actor)
		if err != nil {
			report.Errors = append(report.Errors, models.ImportRowError{Row: row.Index, Username: username, Message: rowErrorMessage(err)})
			continue
		}
		touched[studentID] = struct{}{}
		if inserted {
			report.Created++
		} else {
			report.Updated++
		}
	}

	s.afterImport(ctx, report, touched, actor, s.now().Sub(start))
	return report, nil
}

func (s *ImportService) importRow(ctx context.Context, row csvrows.Row, username, defaultSubject string, opts ImportOptions, actor Actor) (studentID string, inserted bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("import row panicked", zap.Int("row", row.Index), zap.Any("panic", r))
			err = fmt.Errorf("unexpected failure: %v", r)
		}
	}()

	className := row.Get(ColumnClassName)
	if className == "" {
		className = opts.DefaultClassName
	}
	provisioned, err := s.identities.ProvisionStudent(ctx, ProvisionRequest{
		Username:  username,
		ClassName: className,
		ActorID:   actor.UserID,
	})
	if err != nil {
		return "", false, err
	}
	studentID = provisioned.Student.ID

	if err := s.students.AddTeacher(ctx, studentID, actor.UserID); err != nil {
		return "", false, err
	}

	subject := row.Get(ColumnSubject)
	if subject == "" {
		subject = defaultSubject
	}
	teacherID := actor.UserID
	observation := &models.Observation{
		StudentID:       studentID,
		TeacherID:       &teacherID,
		RecordDate:      ParseRecordDate(row.Get(ColumnRecordDate), s.now()),
		AttendanceScore: CoerceInt(row.Get(ColumnAttendanceScore)),
		QuizScore:       CoerceFloat(row.Get(ColumnQuizScore)),
		HomeworkDone:    CoerceBool(row.Get(ColumnHomeworkDone)),
		ActivityScore:   CoerceInt(row.Get(ColumnActivityScore)),
		Subject:         subject,
	}
	inserted, err = s.observations.Upsert(ctx, observation)
	if err != nil {
		return "", false, err
	}
	return studentID, inserted, nil
}

func (s *ImportService) teacherSubject(ctx context.Context, teacherID string) string {
	if s.teachers != nil {
		teacher, err := s.teachers.FindByUserID(ctx, teacherID)
		if err == nil && teacher.Department.Subject() != "" {
			return teacher.Department.Subject()
		}
	}
	return risk.DefaultSubject
}

func (s *ImportService) afterImport(ctx context.Context, report *models.ImportReport, touched map[string]struct{}, actor Actor, elapsed time.Duration) {
	s.metrics.ObserveImport(report, elapsed)

	if len(touched) > 0 {
		ids := make([]string, 0, len(touched))
		for id := range touched {
			ids = append(ids, id)
		}
		s.cache.ForgetTeachers(ctx, actor.UserID)
		s.cache.ForgetStudents(ctx, ids...)
	}

	if s.audit != nil {
		payload, _ := json.Marshal(map[string]int{
			"created": report.Created,
			"updated": report.Updated,
			"skipped": report.Skipped,
			"errors":  len(report.Errors),
		})
		actorID := actor.UserID
		entry := &models.AuditLog{
			UserID:    &actorID,
			Action:    models.AuditActionObservationImport,
			Resource:  "observation",
			NewValues: payload,
			IPAddress: actor.IP,
			UserAgent: actor.UserAgent,
			CreatedAt: s.now().UTC(),
		}
		if err := s.audit.CreateAuditLog(ctx, entry); err != nil {
			s.logger.Warn("failed to write import audit log", zap.Error(err))
		}
	}

	s.logger.Info("observation import finished",
		zap.String("teacher_id", actor.UserID),
		zap.Int("created", report.Created),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("elapsed", elapsed),
	)
}

func rowErrorMessage(err error) string {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

// ParseRecordDate tries month-first, day-first, then ISO layouts. Blank or unparseable
// input yields the calendar date of now.
func ParseRecordDate(raw string, now time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw != "" {
		for _, layout := range importDateLayouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t
			}
		}
	}
	y, m, d := now.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// CoerceInt parses an integer, truncating decimals. Anything else is 0.
func CoerceInt(raw string) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if v, err := strconv.Atoi(raw); err == nil {
		return v
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return 0
	}
	return int(f)
}

// CoerceFloat parses a finite float. Anything else is 0.
func CoerceFloat(raw string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// CoerceBool reports whether raw is one of the accepted truthy tokens.
func CoerceBool(raw string) bool {
	_, ok := truthyTokens[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}
