package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/dto"
	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/risk"
)

type rosterSource interface {
	RosterAll(ctx context.Context, teacherID, className string) ([]dto.RosterEntry, error)
}

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL     time.Duration
	RecentLimit  int
	AtRiskLimit  int
	FeedbackSize int
}

// DashboardService composes the teacher and student dashboards.
type DashboardService struct {
	roster       rosterSource
	students     studentSelfReader
	observations observationHistoryReader
	feedback     feedbackReader
	evaluator    *EvaluationService
	cache        *CacheService
	logger       *zap.Logger
	now          func() time.Time
	cfg          DashboardServiceConfig
}

// DashboardServiceParams groups constructor dependencies.
type DashboardServiceParams struct {
	Roster       rosterSource
	Students     studentSelfReader
	Observations observationHistoryReader
	Feedback     feedbackReader
	Evaluator    *EvaluationService
	Cache        *CacheService
	Logger       *zap.Logger
	Config       DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(params DashboardServiceParams) *DashboardService {
	cfg := params.Config
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = 10
	}
	if cfg.AtRiskLimit <= 0 {
		cfg.AtRiskLimit = 20
	}
	if cfg.FeedbackSize <= 0 {
		cfg.FeedbackSize = 10
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	evaluator := params.Evaluator
	if evaluator == nil {
		evaluator = NewEvaluationService(risk.DefaultConfig())
	}
	return &DashboardService{
		roster:       params.Roster,
		students:     params.Students,
		observations: params.Observations,
		feedback:     params.Feedback,
		evaluator:    evaluator,
		cache:        params.Cache,
		logger:       logger,
		now:          time.Now,
		cfg:          cfg,
	}
}

// Teacher returns the roster summary of a teacher and indicates cache utilisation.
func (s *DashboardService) Teacher(ctx context.Context, teacherID string) (*dto.TeacherDashboardResponse, bool, error) {
	if teacherID == "" {
		return nil, false, appErrors.Clone(appErrors.ErrValidation, "teacher id is required")
	}
	return remember(ctx, s.cache, teacherDashboardKey(teacherID), s.cfg.CacheTTL, func() (*dto.TeacherDashboardResponse, error) {
		return s.buildTeacher(ctx, teacherID)
	})
}

func (s *DashboardService) buildTeacher(ctx context.Context, teacherID string) (*dto.TeacherDashboardResponse, error) {
	entries, err := s.roster.RosterAll(ctx, teacherID, "")
	if err != nil {
		return nil, err
	}
	summary := &dto.TeacherDashboardResponse{
		TeacherID:    teacherID,
		RosterSize:   len(entries),
		StatusCounts: make(map[risk.Status]int),
		AtRisk:       make([]dto.RosterEntry, 0),
		GeneratedAt:  s.now().UTC(),
	}
	for _, entry := range entries {
		summary.StatusCounts[entry.Status]++
		if entry.Status == risk.StatusWarning || entry.Status == risk.StatusCritical {
			summary.AtRisk = append(summary.AtRisk, entry)
		}
	}
	sort.SliceStable(summary.AtRisk, func(i, j int) bool {
		a, b := summary.AtRisk[i], summary.AtRisk[j]
		if a.Status != b.Status {
			return a.Status == risk.StatusCritical
		}
		return a.Total < b.Total
	})
	if len(summary.AtRisk) > s.cfg.AtRiskLimit {
		summary.AtRisk = summary.AtRisk[:s.cfg.AtRiskLimit]
	}
	return summary, nil
}

// Student returns the self view of the student account userID. SelfStatus reads only the
// recent window while Risk and SubjectHealth cover the whole history; riskMode selects the
// policy behind Risk and defaults to latest.
func (s *DashboardService) Student(ctx context.Context, userID, riskMode string) (*dto.StudentDashboardResponse, bool, error) {
	mode, err := s.evaluator.ResolveMode(riskMode, risk.ModeLatest)
	if err != nil {
		return nil, false, err
	}
	student, err := s.students.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		}
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return remember(ctx, s.cache, studentDashboardKey(student.ID, mode), s.cfg.CacheTTL, func() (*dto.StudentDashboardResponse, error) {
		return s.buildStudent(ctx, student, mode)
	})
}

func (s *DashboardService) buildStudent(ctx context.Context, student *models.StudentDetail, mode risk.Mode) (*dto.StudentDashboardResponse, error) {
	history, err := s.observations.ListByStudent(ctx, student.ID, "", 0)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load observations")
	}
	recent := history
	if len(recent) > s.cfg.RecentLimit {
		recent = recent[:s.cfg.RecentLimit]
	}
	feedback, err := s.feedback.ListByStudent(ctx, student.ID, s.cfg.FeedbackSize)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feedback")
	}
	return &dto.StudentDashboardResponse{
		Student:       *student,
		Recent:        recent,
		SelfStatus:    s.evaluator.Assess(risk.ModeCompositeMean, recent),
		RiskMode:      mode,
		Risk:          s.evaluator.Assess(mode, history),
		SubjectHealth: s.evaluator.SubjectHealth(history),
		Feedback:      feedback,
		GeneratedAt:   s.now().UTC(),
	}, nil
}
