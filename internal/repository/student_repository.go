package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smartgrade-api/internal/models"
)

// StudentRepository manages persistence for student profiles and their teacher links.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentDetailColumns = `s.id, s.user_id, s.class_name, s.nickname, s.phone, s.bio, s.created_at, s.updated_at,
        u.username, u.full_name, u.email`

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	base := "FROM students s JOIN users u ON u.id = s.user_id"
	var args []interface{}
	conditions := []string{"u.active = TRUE"}

	if filter.TeacherID != "" {
		base += fmt.Sprintf(" JOIN student_teachers st ON st.student_id = s.id AND st.teacher_id = $%d", len(args)+1)
		args = append(args, filter.TeacherID)
	}
	if filter.ClassName != "" {
		conditions = append(conditions, fmt.Sprintf("s.class_name = $%d", len(args)+1))
		args = append(args, filter.ClassName)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(LOWER(u.full_name) LIKE $%d OR LOWER(u.username) LIKE $%d)", len(args)+1, len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	base = fmt.Sprintf("%s WHERE %s", base, strings.Join(conditions, " AND "))

	sortBy := filter.SortBy
	allowedSorts := map[string]string{
		"full_name":  "u.full_name",
		"username":   "u.username",
		"class_name": "s.class_name",
		"created_at": "s.created_at",
	}
	if sortBy == "" {
		sortBy = "username"
	}
	column, ok := allowedSorts[sortBy]
	if !ok {
		column = "u.username"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "ASC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d`, studentDetailColumns, base, column, order, size, offset)

	var students []models.StudentDetail
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT s.id) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}

// FindByID fetches a student detail by ID.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	query := `SELECT ` + studentDetailColumns + ` FROM students s JOIN users u ON u.id = s.user_id WHERE s.id = $1`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByUserID fetches the student profile owned by an account.
func (r *StudentRepository) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	query := `SELECT ` + studentDetailColumns + ` FROM students s JOIN users u ON u.id = s.user_id WHERE s.user_id = $1`
	var detail models.StudentDetail
	if err := r.db.GetContext(ctx, &detail, query, userID); err != nil {
		return nil, err
	}
	return &detail, nil
}

// CreateIfAbsent inserts a profile for student.UserID unless one exists, reporting whether it wrote a row.
func (r *StudentRepository) CreateIfAbsent(ctx context.Context, student *models.Student) (bool, error) {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if student.CreatedAt.IsZero() {
		student.CreatedAt = now
	}
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, user_id, class_name, nickname, phone, bio, created_at, updated_at)
        VALUES (:id, :user_id, :class_name, :nickname, :phone, :bio, :created_at, :updated_at)
        ON CONFLICT (user_id) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, student)
	if err != nil {
		return false, fmt.Errorf("create student: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create student: %w", err)
	}
	return affected > 0, nil
}

// Update modifies an existing student profile.
func (r *StudentRepository) Update(ctx context.Context, student *models.Student) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET class_name = :class_name, nickname = :nickname, phone = :phone, bio = :bio, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("update student: %w", err)
	}
	return nil
}

// Delete removes a student profile; observations and links cascade.
func (r *StudentRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM students WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if affected, err := res.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// AddTeacher links a teacher to a student. Repeated calls are no-ops.
func (r *StudentRepository) AddTeacher(ctx context.Context, studentID, teacherID string) error {
	const query = `INSERT INTO student_teachers (student_id, teacher_id, created_at) VALUES ($1, $2, $3)
        ON CONFLICT (student_id, teacher_id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, studentID, teacherID, time.Now().UTC()); err != nil {
		return fmt.Errorf("add student teacher: %w", err)
	}
	return nil
}

// IsTaughtBy reports whether the teacher is linked to the student.
func (r *StudentRepository) IsTaughtBy(ctx context.Context, studentID, teacherID string) (bool, error) {
	const query = `SELECT 1 FROM student_teachers WHERE student_id = $1 AND teacher_id = $2 LIMIT 1`
	var exists int
	if err := r.db.GetContext(ctx, &exists, query, studentID, teacherID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check student teacher: %w", err)
	}
	return true, nil
}
