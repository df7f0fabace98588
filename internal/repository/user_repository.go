package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smartgrade-api/internal/models"
)

// UserRepository stores accounts for admins, teachers and students, plus their
// refresh sessions and the audit trail.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, username, email, password_hash, full_name, role, active, must_change_password, last_login, created_at, updated_at`

var userSortColumns = map[string]string{
	"username":   "username",
	"full_name":  "full_name",
	"created_at": "created_at",
	"updated_at": "updated_at",
	"last_login": "last_login",
}

// FindByUsername returns a user by login name. Usernames are stored normalized.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	return r.findOne(ctx, "username", username)
}

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, "id", id)
}

// findOne returns sql.ErrNoRows unwrapped so services can map it to NOT_FOUND.
func (r *UserRepository) findOne(ctx context.Context, column, value string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, fmt.Errorf("find user by %s: %w", column, err)
	}
	return &user, nil
}

type userPageRow struct {
	models.User
	Total int `db:"total"`
}

// List pages through accounts. Filtering by MustChangePassword lists imported
// accounts that never replaced their provisioned credential.
func (r *UserRepository) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	where, args := userFilterClause(filter)

	sortBy, ok := userSortColumns[filter.SortBy]
	if !ok {
		sortBy = "created_at"
	}
	order := "DESC"
	if strings.EqualFold(filter.SortOrder, "asc") {
		order = "ASC"
	}
	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 || size > 100 {
		size = 20
	}

	query := fmt.Sprintf(`SELECT %s, COUNT(*) OVER() AS total FROM users%s ORDER BY %s %s NULLS LAST, id LIMIT %d OFFSET %d`,
		userColumns, where, sortBy, order, size, (page-1)*size)
	var rows []userPageRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list users: %w", err)
	}

	users := make([]models.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.User)
	}
	if len(rows) > 0 {
		return users, rows[0].Total, nil
	}
	if page == 1 {
		return users, 0, nil
	}
	// Past the last page the window count is lost with the rows.
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM users`+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count users: %w", err)
	}
	return users, total, nil
}

func userFilterClause(filter models.UserFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(format string, value interface{}) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(format, len(args)))
	}
	if filter.Role != nil {
		add("role = $%d", *filter.Role)
	}
	if filter.Active != nil {
		add("active = $%d", *filter.Active)
	}
	if filter.MustChangePassword != nil {
		add("must_change_password = $%d", *filter.MustChangePassword)
	}
	if term := strings.TrimSpace(filter.Search); term != "" {
		add("(username ILIKE $%[1]d OR full_name ILIKE $%[1]d OR email ILIKE $%[1]d)", "%"+term+"%")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// CreateIfAbsent inserts the user unless the username is already taken.
// It reports whether a row was written; concurrent callers never both create.
func (r *UserRepository) CreateIfAbsent(ctx context.Context, user *models.User) (bool, error) {
	now := time.Now().UTC()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, username, email, password_hash, full_name, role, active, must_change_password, created_at, updated_at) VALUES (:id, :username, :email, :password_hash, :full_name, :role, :active, :must_change_password, :created_at, :updated_at) ON CONFLICT (username) DO NOTHING`
	res, err := r.db.NamedExecContext(ctx, query, user)
	if err != nil {
		return false, fmt.Errorf("create user if absent: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create user if absent: %w", err)
	}
	return affected > 0, nil
}

// Update writes profile fields and the active flag. Credentials change only via UpdatePassword.
func (r *UserRepository) Update(ctx context.Context, user *models.User) error {
	user.UpdatedAt = time.Now().UTC()
	const query = `UPDATE users SET full_name = :full_name, email = :email, role = :role, active = :active, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// UpdateLastLogin stamps a successful sign-in.
func (r *UserRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, ts); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

// UpdatePassword stores a new hash and clears must_change_password.
func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error {
	const query = `UPDATE users SET password_hash = $2, must_change_password = FALSE, updated_at = $3 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, passwordHash, updatedAt)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete deactivates the account and revokes its open sessions in one transaction.
// Rows are never removed, so observations keep their recording teacher.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE users SET active = FALSE, updated_at = $2 WHERE id = $1`, id, now); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	if _, err := tx.ExecContext(ctx, revokeOpenSessionsQuery, id, now); err != nil {
		return fmt.Errorf("deactivate user sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("deactivate user: %w", err)
	}
	return nil
}
