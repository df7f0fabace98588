package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/pkg/database"
)

// ErrObservationOwnerRequired is returned by Upsert when the observation carries no teacher.
var ErrObservationOwnerRequired = errors.New("observation upsert requires a teacher id")

// ObservationRepository manages persistence for behavioural observations.
type ObservationRepository struct {
	db *sqlx.DB
}

// NewObservationRepository constructs a new repository.
func NewObservationRepository(db *sqlx.DB) *ObservationRepository {
	return &ObservationRepository{db: db}
}

const observationColumns = `id, student_id, teacher_id, record_date, attendance_score, quiz_score, homework_done, activity_score, subject, created_at, updated_at`

// newest first; creation time then id break ties within a day
const observationRecency = `record_date DESC, created_at DESC, id DESC`

// List returns observations per provided filter.
func (r *ObservationRepository) List(ctx context.Context, filter models.ObservationFilter) ([]models.Observation, int, error) {
	base := "FROM observations"
	where := []string{"1=1"}
	args := []interface{}{}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.TeacherID != "" {
		where = append(where, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Subject != "" {
		where = append(where, fmt.Sprintf("subject = $%d", len(args)+1))
		args = append(args, filter.Subject)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("record_date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("record_date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size
	query := fmt.Sprintf(`SELECT %s
%s WHERE %s ORDER BY %s LIMIT %d OFFSET %d`, observationColumns, base, whereClause, observationRecency, size, offset)
	var observations []models.Observation
	if err := r.db.SelectContext(ctx, &observations, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list observations: %w", err)
	}
	countQuery := fmt.Sprintf("SELECT COUNT(*) %s WHERE %s", base, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count observations: %w", err)
	}
	return observations, total, nil
}

// ListByStudent returns a student's observations newest first, optionally restricted
// to one teacher. A non-positive limit returns every row.
func (r *ObservationRepository) ListByStudent(ctx context.Context, studentID, teacherID string, limit int) ([]models.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations WHERE student_id = $1`
	args := []interface{}{studentID}
	if teacherID != "" {
		query += " AND teacher_id = $2"
		args = append(args, teacherID)
	}
	query += " ORDER BY " + observationRecency
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	var observations []models.Observation
	if err := r.db.SelectContext(ctx, &observations, query, args...); err != nil {
		return nil, fmt.Errorf("list student observations: %w", err)
	}
	return observations, nil
}

// LatestByStudents returns the most recent observation of each listed student.
func (r *ObservationRepository) LatestByStudents(ctx context.Context, studentIDs []string) (map[string]models.Observation, error) {
	result := make(map[string]models.Observation, len(studentIDs))
	if len(studentIDs) == 0 {
		return result, nil
	}
	query := `SELECT DISTINCT ON (student_id) ` + observationColumns + `
FROM observations WHERE student_id = ANY($1) ORDER BY student_id, ` + observationRecency
	var observations []models.Observation
	if err := r.db.SelectContext(ctx, &observations, query, pq.Array(studentIDs)); err != nil {
		return nil, fmt.Errorf("latest observations: %w", err)
	}
	for _, o := range observations {
		result[o.StudentID] = o
	}
	return result, nil
}

// FindByID fetches one observation.
func (r *ObservationRepository) FindByID(ctx context.Context, id string) (*models.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations WHERE id = $1`
	var observation models.Observation
	if err := r.db.GetContext(ctx, &observation, query, id); err != nil {
		return nil, err
	}
	return &observation, nil
}

const upsertObservationQuery = `INSERT INTO observations (id, student_id, teacher_id, record_date, attendance_score, quiz_score, homework_done, activity_score, subject, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (student_id, record_date, teacher_id) DO UPDATE SET
attendance_score = EXCLUDED.attendance_score, quiz_score = EXCLUDED.quiz_score, homework_done = EXCLUDED.homework_done,
activity_score = EXCLUDED.activity_score, subject = EXCLUDED.subject, updated_at = EXCLUDED.updated_at
RETURNING id, created_at, (xmax = 0) AS inserted`

// Upsert writes the observation keyed by (student, record date, teacher) in one statement
// and reports whether a new row was inserted. The stored id and created_at are copied back.
func (r *ObservationRepository) Upsert(ctx context.Context, observation *models.Observation) (bool, error) {
	if observation.TeacherID == nil || *observation.TeacherID == "" {
		return false, ErrObservationOwnerRequired
	}
	if observation.ID == "" {
		observation.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if observation.CreatedAt.IsZero() {
		observation.CreatedAt = now
	}
	observation.UpdatedAt = now

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		var row struct {
			ID        string    `db:"id"`
			CreatedAt time.Time `db:"created_at"`
			Inserted  bool      `db:"inserted"`
		}
		err := r.db.QueryRowxContext(ctx, upsertObservationQuery,
			observation.ID,
			observation.StudentID,
			*observation.TeacherID,
			observation.RecordDate,
			observation.AttendanceScore,
			observation.QuizScore,
			observation.HomeworkDone,
			observation.ActivityScore,
			observation.Subject,
			observation.CreatedAt,
			observation.UpdatedAt,
		).StructScan(&row)
		if err == nil {
			observation.ID = row.ID
			observation.CreatedAt = row.CreatedAt
			return row.Inserted, nil
		}
		lastErr = err
		// a concurrent insert can still surface as a unique violation; the retry resolves to an update
		if !database.IsUniqueViolation(err) {
			break
		}
	}
	return false, fmt.Errorf("upsert observation: %w", lastErr)
}

// Update modifies an existing observation.
func (r *ObservationRepository) Update(ctx context.Context, observation *models.Observation) error {
	observation.UpdatedAt = time.Now().UTC()
	query := `UPDATE observations SET record_date = :record_date, attendance_score = :attendance_score, quiz_score = :quiz_score,
homework_done = :homework_done, activity_score = :activity_score, subject = :subject, updated_at = :updated_at
WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, observation); err != nil {
		return fmt.Errorf("update observation: %w", err)
	}
	return nil
}

// Delete removes an observation.
func (r *ObservationRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM observations WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete observation: %w", err)
	}
	return nil
}
