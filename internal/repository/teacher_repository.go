package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smartgrade-api/internal/models"
)

// TeacherRepository manages persistence for teacher profiles.
type TeacherRepository struct {
	db *sqlx.DB
}

// NewTeacherRepository constructs a TeacherRepository.
func NewTeacherRepository(db *sqlx.DB) *TeacherRepository {
	return &TeacherRepository{db: db}
}

// FindByUserID fetches the teacher profile of an account.
func (r *TeacherRepository) FindByUserID(ctx context.Context, userID string) (*models.Teacher, error) {
	const query = `SELECT user_id, department, position, phone, line_id, nickname, bio, created_at, updated_at FROM teachers WHERE user_id = $1`
	var teacher models.Teacher
	if err := r.db.GetContext(ctx, &teacher, query, userID); err != nil {
		return nil, err
	}
	return &teacher, nil
}

// Upsert creates or replaces the teacher profile for teacher.UserID.
func (r *TeacherRepository) Upsert(ctx context.Context, teacher *models.Teacher) error {
	now := time.Now().UTC()
	if teacher.CreatedAt.IsZero() {
		teacher.CreatedAt = now
	}
	teacher.UpdatedAt = now

	const query = `INSERT INTO teachers (user_id, department, position, phone, line_id, nickname, bio, created_at, updated_at)
		VALUES (:user_id, :department, :position, :phone, :line_id, :nickname, :bio, :created_at, :updated_at)
		ON CONFLICT (user_id) DO UPDATE SET department = EXCLUDED.department, position = EXCLUDED.position, phone = EXCLUDED.phone,
		line_id = EXCLUDED.line_id, nickname = EXCLUDED.nickname, bio = EXCLUDED.bio, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, teacher); err != nil {
		return fmt.Errorf("upsert teacher: %w", err)
	}
	return nil
}
