package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/pkg/database"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/risk"
)

type observationRepository interface {
	List(ctx context.Context, filter models.ObservationFilter) ([]models.Observation, int, error)
	FindByID(ctx context.Context, id string) (*models.Observation, error)
	Upsert(ctx context.Context, observation *models.Observation) (bool, error)
	Update(ctx context.Context, observation *models.Observation) error
	Delete(ctx context.Context, id string) error
}

// ObservationRequest is the payload for recording or editing an observation.
type ObservationRequest struct {
	RecordDate      string  `json:"record_date" validate:"omitempty,datetime=2006-01-02"`
	AttendanceScore int     `json:"attendance_score" validate:"gte=0"`
	QuizScore       float64 `json:"quiz_score" validate:"gte=0"`
	HomeworkDone    bool    `json:"homework_done"`
	ActivityScore   int     `json:"activity_score" validate:"gte=0"`
	Subject         string  `json:"subject" validate:"omitempty,max=64"`
}

// ObservationService manages manually recorded observations.
type ObservationService struct {
	repo      observationRepository
	students  studentGate
	teachers  teacherProfileReader
	cache     *CacheService
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewObservationService constructs the service.
func NewObservationService(repo observationRepository, students studentGate, teachers teacherProfileReader, cache *CacheService, validate *validator.Validate, logger *zap.Logger) *ObservationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ObservationService{repo: repo, students: students, teachers: teachers, cache: cache, validator: validate, logger: logger, now: time.Now}
}

// List returns a student's observations, newest first.
func (s *ObservationService) List(ctx context.Context, filter models.ObservationFilter, actor Actor) ([]models.Observation, *models.Pagination, error) {
	if _, err := authorizeStudent(ctx, s.students, filter.StudentID, actor); err != nil {
		return nil, nil, err
	}
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list observations")
	}
	return items, pagination(filter.Page, filter.PageSize, total, 50), nil
}

// Record stores an observation for a student. A second record for the same day by the same
// teacher overwrites the first; the boolean reports whether a new row was created.
func (s *ObservationService) Record(ctx context.Context, studentID string, req ObservationRequest, actor Actor) (*models.Observation, bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid observation payload")
	}
	if _, err := authorizeStudent(ctx, s.students, studentID, actor); err != nil {
		return nil, false, err
	}
	teacherID := actor.UserID
	observation := &models.Observation{
		StudentID:       studentID,
		TeacherID:       &teacherID,
		RecordDate:      ParseRecordDate(req.RecordDate, s.now()),
		AttendanceScore: req.AttendanceScore,
		QuizScore:       req.QuizScore,
		HomeworkDone:    req.HomeworkDone,
		ActivityScore:   req.ActivityScore,
		Subject:         s.subjectFor(ctx, req.Subject, actor.UserID),
	}
	created, err := s.repo.Upsert(ctx, observation)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save observation")
	}
	s.evict(ctx, studentID, actor.UserID)
	return observation, created, nil
}

// Update edits an observation. Teachers may edit only their own records.
func (s *ObservationService) Update(ctx context.Context, id string, req ObservationRequest, actor Actor) (*models.Observation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid observation payload")
	}
	observation, err := s.owned(ctx, id, actor)
	if err != nil {
		return nil, err
	}
	if req.RecordDate != "" {
		observation.RecordDate = ParseRecordDate(req.RecordDate, s.now())
	}
	observation.AttendanceScore = req.AttendanceScore
	observation.QuizScore = req.QuizScore
	observation.HomeworkDone = req.HomeworkDone
	observation.ActivityScore = req.ActivityScore
	if subject := strings.TrimSpace(req.Subject); subject != "" {
		observation.Subject = subject
	}
	if err := s.repo.Update(ctx, observation); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "an observation already exists for that date")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update observation")
	}
	s.evict(ctx, observation.StudentID, actor.UserID)
	return observation, nil
}

// Delete removes an observation. Teachers may delete only their own records.
func (s *ObservationService) Delete(ctx context.Context, id string, actor Actor) error {
	observation, err := s.owned(ctx, id, actor)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete observation")
	}
	s.evict(ctx, observation.StudentID, actor.UserID)
	return nil
}

func (s *ObservationService) owned(ctx context.Context, id string, actor Actor) (*models.Observation, error) {
	observation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "observation not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load observation")
	}
	if actor.IsAdmin() {
		return observation, nil
	}
	if observation.TeacherID == nil || *observation.TeacherID != actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "observation belongs to another teacher")
	}
	return observation, nil
}

func (s *ObservationService) subjectFor(ctx context.Context, requested, teacherID string) string {
	if subject := strings.TrimSpace(requested); subject != "" {
		return subject
	}
	if s.teachers != nil {
		if teacher, err := s.teachers.FindByUserID(ctx, teacherID); err == nil && teacher.Department.Subject() != "" {
			return teacher.Department.Subject()
		}
	}
	return risk.DefaultSubject
}

func (s *ObservationService) evict(ctx context.Context, studentID, teacherID string) {
	s.cache.ForgetStudents(ctx, studentID)
	s.cache.ForgetTeachers(ctx, teacherID)
}
