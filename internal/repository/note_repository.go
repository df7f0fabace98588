package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smartgrade-api/internal/models"
)

// NoteRepository persists teachers' private notes.
type NoteRepository struct {
	db *sqlx.DB
}

// NewNoteRepository constructs the repository.
func NewNoteRepository(db *sqlx.DB) *NoteRepository {
	return &NoteRepository{db: db}
}

// Create inserts a private note.
func (r *NoteRepository) Create(ctx context.Context, note *models.PrivateNote) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	if note.CreatedAt.IsZero() {
		note.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO private_notes (id, student_id, teacher_id, title, note_type, content, created_at)
VALUES (:id, :student_id, :teacher_id, :title, :note_type, :content, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, note); err != nil {
		return fmt.Errorf("create private note: %w", err)
	}
	return nil
}

// ListByAuthor returns the notes one teacher wrote about a student.
func (r *NoteRepository) ListByAuthor(ctx context.Context, studentID, teacherID string) ([]models.PrivateNote, error) {
	const query = `SELECT id, student_id, teacher_id, title, note_type, content, created_at
FROM private_notes WHERE student_id = $1 AND teacher_id = $2 ORDER BY created_at DESC`
	var notes []models.PrivateNote
	if err := r.db.SelectContext(ctx, &notes, query, studentID, teacherID); err != nil {
		return nil, fmt.Errorf("list private notes: %w", err)
	}
	return notes, nil
}

// DeleteByAuthor removes a note only when teacherID wrote it.
func (r *NoteRepository) DeleteByAuthor(ctx context.Context, id, teacherID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM private_notes WHERE id = $1 AND teacher_id = $2`, id, teacherID)
	if err != nil {
		return fmt.Errorf("delete private note: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
