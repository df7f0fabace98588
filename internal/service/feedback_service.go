package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
)

const feedbackListLimit = 100

type feedbackRepository interface {
	Create(ctx context.Context, feedback *models.Feedback) error
	ListByStudent(ctx context.Context, studentID string, limit int) ([]models.Feedback, error)
}

type studentSelfReader interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error)
}

// FeedbackRequest is the payload for sending feedback.
type FeedbackRequest struct {
	Type    models.FeedbackType `json:"feedback_type" validate:"omitempty,oneof=general praise warn"`
	Message string              `json:"message" validate:"required,max=2000"`
	Subject string              `json:"subject" validate:"omitempty,max=64"`
}

// FeedbackService lets teachers send feedback that students can read.
type FeedbackService struct {
	repo      feedbackRepository
	students  studentGate
	self      studentSelfReader
	teachers  teacherProfileReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewFeedbackService constructs the feedback service.
func NewFeedbackService(repo feedbackRepository, students studentGate, self studentSelfReader, teachers teacherProfileReader, validate *validator.Validate, logger *zap.Logger) *FeedbackService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedbackService{repo: repo, students: students, self: self, teachers: teachers, validator: validate, logger: logger}
}

// Send stores feedback from actor about a student.
func (s *FeedbackService) Send(ctx context.Context, studentID string, req FeedbackRequest, actor Actor) (*models.Feedback, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid feedback payload")
	}
	if _, err := authorizeStudent(ctx, s.students, studentID, actor); err != nil {
		return nil, err
	}
	if req.Type == "" {
		req.Type = models.FeedbackGeneral
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" && s.teachers != nil {
		if teacher, err := s.teachers.FindByUserID(ctx, actor.UserID); err == nil {
			subject = teacher.Department.Subject()
		}
	}
	teacherID := actor.UserID
	feedback := &models.Feedback{
		StudentID: studentID,
		TeacherID: &teacherID,
		Type:      req.Type,
		Message:   strings.TrimSpace(req.Message),
		Subject:   subject,
	}
	if err := s.repo.Create(ctx, feedback); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save feedback")
	}
	return feedback, nil
}

// ListForStudent returns feedback about a student visible to actor.
func (s *FeedbackService) ListForStudent(ctx context.Context, studentID string, actor Actor) ([]models.Feedback, error) {
	if _, err := authorizeStudent(ctx, s.students, studentID, actor); err != nil {
		return nil, err
	}
	return s.list(ctx, studentID)
}

// ListMine returns feedback addressed to the student account userID.
func (s *FeedbackService) ListMine(ctx context.Context, userID string) ([]models.Feedback, error) {
	student, err := s.self.FindByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return s.list(ctx, student.ID)
}

func (s *FeedbackService) list(ctx context.Context, studentID string) ([]models.Feedback, error) {
	items, err := s.repo.ListByStudent(ctx, studentID, feedbackListLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list feedback")
	}
	return items, nil
}
