package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smartgrade-api/internal/models"
)

// FeedbackRepository persists teacher feedback addressed to students.
type FeedbackRepository struct {
	db *sqlx.DB
}

// NewFeedbackRepository constructs the repository.
func NewFeedbackRepository(db *sqlx.DB) *FeedbackRepository {
	return &FeedbackRepository{db: db}
}

// Create inserts a feedback row.
func (r *FeedbackRepository) Create(ctx context.Context, feedback *models.Feedback) error {
	if feedback.ID == "" {
		feedback.ID = uuid.NewString()
	}
	if feedback.CreatedAt.IsZero() {
		feedback.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO feedback (id, student_id, teacher_id, feedback_type, message, subject, created_at)
VALUES (:id, :student_id, :teacher_id, :feedback_type, :message, :subject, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, feedback); err != nil {
		return fmt.Errorf("create feedback: %w", err)
	}
	return nil
}

// ListByStudent returns feedback for a student, newest first.
func (r *FeedbackRepository) ListByStudent(ctx context.Context, studentID string, limit int) ([]models.Feedback, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const query = `SELECT id, student_id, teacher_id, feedback_type, message, subject, created_at
FROM feedback WHERE student_id = $1 ORDER BY created_at DESC LIMIT $2`
	var items []models.Feedback
	if err := r.db.SelectContext(ctx, &items, query, studentID, limit); err != nil {
		return nil, fmt.Errorf("list feedback: %w", err)
	}
	return items, nil
}
