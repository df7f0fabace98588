package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
)

type noteRepository interface {
	Create(ctx context.Context, note *models.PrivateNote) error
	ListByAuthor(ctx context.Context, studentID, teacherID string) ([]models.PrivateNote, error)
	DeleteByAuthor(ctx context.Context, id, teacherID string) error
}

// NoteRequest is the payload for writing a private note.
type NoteRequest struct {
	Title    string `json:"title" validate:"required,max=200"`
	NoteType string `json:"note_type" validate:"omitempty,max=50"`
	Content  string `json:"content" validate:"required"`
}

// NoteService stores notes visible only to their author.
type NoteService struct {
	repo      noteRepository
	students  studentGate
	validator *validator.Validate
}

// NewNoteService constructs the note service.
func NewNoteService(repo noteRepository, students studentGate, validate *validator.Validate) *NoteService {
	if validate == nil {
		validate = validator.New()
	}
	return &NoteService{repo: repo, students: students, validator: validate}
}

// Create writes a note about a student.
func (s *NoteService) Create(ctx context.Context, studentID string, req NoteRequest, actor Actor) (*models.PrivateNote, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid note payload")
	}
	if _, err := authorizeStudent(ctx, s.students, studentID, actor); err != nil {
		return nil, err
	}
	noteType := strings.TrimSpace(req.NoteType)
	if noteType == "" {
		noteType = "general"
	}
	note := &models.PrivateNote{
		StudentID: studentID,
		TeacherID: actor.UserID,
		Title:     strings.TrimSpace(req.Title),
		NoteType:  noteType,
		Content:   req.Content,
	}
	if err := s.repo.Create(ctx, note); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save note")
	}
	return note, nil
}

// List returns actor's own notes about a student.
func (s *NoteService) List(ctx context.Context, studentID string, actor Actor) ([]models.PrivateNote, error) {
	if _, err := authorizeStudent(ctx, s.students, studentID, actor); err != nil {
		return nil, err
	}
	notes, err := s.repo.ListByAuthor(ctx, studentID, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notes")
	}
	return notes, nil
}

// Delete removes one of actor's notes.
func (s *NoteService) Delete(ctx context.Context, id string, actor Actor) error {
	if err := s.repo.DeleteByAuthor(ctx, id, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "note not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete note")
	}
	return nil
}
