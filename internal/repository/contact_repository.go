package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smartgrade-api/internal/models"
)

// ContactRepository persists urgent contact records.
type ContactRepository struct {
	db *sqlx.DB
}

// NewContactRepository constructs the repository.
func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// Create inserts an urgent contact.
func (r *ContactRepository) Create(ctx context.Context, contact *models.UrgentContact) error {
	if contact.ID == "" {
		contact.ID = uuid.NewString()
	}
	if contact.CreatedAt.IsZero() {
		contact.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO urgent_contacts (id, student_id, teacher_id, target, method, message, status, delivered_at, created_at)
VALUES (:id, :student_id, :teacher_id, :target, :method, :message, :status, :delivered_at, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, contact); err != nil {
		return fmt.Errorf("create urgent contact: %w", err)
	}
	return nil
}

// GetByID fetches one urgent contact.
func (r *ContactRepository) GetByID(ctx context.Context, id string) (*models.UrgentContact, error) {
	const query = `SELECT id, student_id, teacher_id, target, method, message, status, delivered_at, created_at FROM urgent_contacts WHERE id = $1`
	var contact models.UrgentContact
	if err := r.db.GetContext(ctx, &contact, query, id); err != nil {
		return nil, err
	}
	return &contact, nil
}

// ListByStudent returns contacts about a student, newest first.
func (r *ContactRepository) ListByStudent(ctx context.Context, studentID string) ([]models.UrgentContact, error) {
	const query = `SELECT id, student_id, teacher_id, target, method, message, status, delivered_at, created_at
FROM urgent_contacts WHERE student_id = $1 ORDER BY created_at DESC`
	var contacts []models.UrgentContact
	if err := r.db.SelectContext(ctx, &contacts, query, studentID); err != nil {
		return nil, fmt.Errorf("list urgent contacts: %w", err)
	}
	return contacts, nil
}

// UpdateStatus records the dispatch outcome.
func (r *ContactRepository) UpdateStatus(ctx context.Context, id string, status models.ContactStatus, deliveredAt *time.Time) error {
	const query = `UPDATE urgent_contacts SET status = $2, delivered_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, deliveredAt); err != nil {
		return fmt.Errorf("update urgent contact status: %w", err)
	}
	return nil
}

// ListQueued returns contacts still awaiting dispatch, oldest first.
func (r *ContactRepository) ListQueued(ctx context.Context, limit int) ([]models.UrgentContact, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, student_id, teacher_id, target, method, message, status, delivered_at, created_at
FROM urgent_contacts WHERE status = 'queued' ORDER BY created_at ASC LIMIT $1`
	var contacts []models.UrgentContact
	if err := r.db.SelectContext(ctx, &contacts, query, limit); err != nil {
		return nil, fmt.Errorf("list queued urgent contacts: %w", err)
	}
	return contacts, nil
}
