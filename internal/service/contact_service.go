package service

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/jobs"
)

const contactJobType = "urgent_contact"

type contactRepository interface {
	Create(ctx context.Context, contact *models.UrgentContact) error
	GetByID(ctx context.Context, id string) (*models.UrgentContact, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.UrgentContact, error)
	UpdateStatus(ctx context.Context, id string, status models.ContactStatus, deliveredAt *time.Time) error
	ListQueued(ctx context.Context, limit int) ([]models.UrgentContact, error)
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// ContactRequest is the payload for an urgent contact.
type ContactRequest struct {
	Target  models.ContactTarget `json:"target" validate:"required,oneof=student parent guardian"`
	Method  models.ContactMethod `json:"method" validate:"required,oneof=system email call other"`
	Message string               `json:"message" validate:"required,max=2000"`
}

// ContactService records urgent contacts and hands dispatchable ones to the queue.
type ContactService struct {
	repo      contactRepository
	students  studentGate
	queue     jobDispatcher
	validator *validator.Validate
	logger    *zap.Logger
}

// NewContactService constructs the contact service.
func NewContactService(repo contactRepository, students studentGate, queue jobDispatcher, validate *validator.Validate, logger *zap.Logger) *ContactService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContactService{repo: repo, students: students, queue: queue, validator: validate, logger: logger}
}

// Create stores the contact. System and email contacts are queued for delivery; the
// others are only logged.
func (s *ContactService) Create(ctx context.Context, studentID string, req ContactRequest, actor Actor) (*models.UrgentContact, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid contact payload")
	}
	if _, err := authorizeStudent(ctx, s.students, studentID, actor); err != nil {
		return nil, err
	}
	teacherID := actor.UserID
	contact := &models.UrgentContact{
		StudentID: studentID,
		TeacherID: &teacherID,
		Target:    req.Target,
		Method:    req.Method,
		Message:   strings.TrimSpace(req.Message),
		Status:    models.ContactLogged,
	}
	if req.Method.Dispatched() {
		contact.Status = models.ContactQueued
	}
	if err := s.repo.Create(ctx, contact); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save contact")
	}
	if contact.Status == models.ContactQueued && s.queue != nil {
		if err := s.queue.Enqueue(jobs.Job{ID: contact.ID, Type: contactJobType}); err != nil {
			// the row stays queued and is replayed by RecoverQueued
			s.logger.Warn("failed to enqueue urgent contact", zap.String("contact_id", contact.ID), zap.Error(err))
		}
	}
	return contact, nil
}

// List returns the contacts recorded for a student.
func (s *ContactService) List(ctx context.Context, studentID string, actor Actor) ([]models.UrgentContact, error) {
	if _, err := authorizeStudent(ctx, s.students, studentID, actor); err != nil {
		return nil, err
	}
	contacts, err := s.repo.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list contacts")
	}
	return contacts, nil
}

// RecoverQueued re-enqueues contacts left queued by a previous process.
func (s *ContactService) RecoverQueued(ctx context.Context) {
	if s.queue == nil {
		return
	}
	pending, err := s.repo.ListQueued(ctx, 100)
	if err != nil {
		s.logger.Warn("failed to recover queued contacts", zap.Error(err))
		return
	}
	for _, c := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: c.ID, Type: contactJobType}); err != nil {
			s.logger.Warn("failed to requeue contact", zap.String("contact_id", c.ID), zap.Error(err))
		}
	}
}

// ContactNotifier delivers a contact message to its recipient.
type ContactNotifier interface {
	Notify(ctx context.Context, contact *models.UrgentContact) error
}

// LogNotifier records deliveries in the application log. Students read system contacts in-app.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements ContactNotifier.
func (n *LogNotifier) Notify(ctx context.Context, contact *models.UrgentContact) error {
	n.logger.Info("urgent contact delivered",
		zap.String("contact_id", contact.ID),
		zap.String("student_id", contact.StudentID),
		zap.String("target", string(contact.Target)),
		zap.String("method", string(contact.Method)),
	)
	return nil
}

// ContactWorker delivers queued contacts.
type ContactWorker struct {
	repo       contactRepository
	notifier   ContactNotifier
	metrics    *MetricsService
	logger     *zap.Logger
	maxRetries int
	now        func() time.Time
}

// NewContactWorker constructs a worker.
func NewContactWorker(repo contactRepository, notifier ContactNotifier, metrics *MetricsService, maxRetries int, logger *zap.Logger) *ContactWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NewLogNotifier(logger)
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &ContactWorker{repo: repo, notifier: notifier, metrics: metrics, logger: logger, maxRetries: maxRetries, now: time.Now}
}

// Handle processes a queue job.
func (w *ContactWorker) Handle(ctx context.Context, job jobs.Job) error {
	contact, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if contact.Status != models.ContactQueued {
		return nil
	}
	if err := w.notifier.Notify(ctx, contact); err != nil {
		if job.Attempt >= w.maxRetries {
			if updateErr := w.repo.UpdateStatus(ctx, contact.ID, models.ContactFailed, nil); updateErr != nil {
				w.logger.Warn("failed to mark contact failed", zap.String("contact_id", contact.ID), zap.Error(updateErr))
			}
			w.metrics.RecordContact(contact.Method, models.ContactFailed)
		}
		return err
	}
	now := w.now().UTC()
	if err := w.repo.UpdateStatus(ctx, contact.ID, models.ContactDelivered, &now); err != nil {
		return err
	}
	w.metrics.RecordContact(contact.Method, models.ContactDelivered)
	return nil
}
