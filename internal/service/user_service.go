package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
)

type userRepository interface {
	List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	CreateIfAbsent(ctx context.Context, user *models.User) (bool, error)
	Update(ctx context.Context, user *models.User) error
	Delete(ctx context.Context, id string) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type profileStudentStore interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error)
	CreateIfAbsent(ctx context.Context, student *models.Student) (bool, error)
	Update(ctx context.Context, student *models.Student) error
}

type profileTeacherStore interface {
	FindByUserID(ctx context.Context, userID string) (*models.Teacher, error)
	Upsert(ctx context.Context, teacher *models.Teacher) error
}

// CreateUserRequest represents payload for creating staff or student accounts.
type CreateUserRequest struct {
	Username   string            `json:"username" validate:"required,min=3,max=64"`
	Email      string            `json:"email" validate:"omitempty,email"`
	FullName   string            `json:"full_name" validate:"required"`
	Role       models.UserRole   `json:"role" validate:"required,oneof=ADMIN TEACHER STUDENT"`
	Active     bool              `json:"active"`
	Password   string            `json:"password" validate:"required,min=6"`
	Department models.Department `json:"department" validate:"omitempty,department"`
	ClassName  string            `json:"class_name" validate:"omitempty,max=32"`
}

// UpdateUserRequest payload for updating users.
type UpdateUserRequest struct {
	FullName string          `json:"full_name" validate:"required"`
	Email    string          `json:"email" validate:"omitempty,email"`
	Role     models.UserRole `json:"role" validate:"required,oneof=ADMIN TEACHER STUDENT"`
	Active   *bool           `json:"active"`
}

// UpdateProfileRequest edits the caller's own profile. Fields that do not apply to the
// caller's role are ignored.
type UpdateProfileRequest struct {
	FullName   string            `json:"full_name" validate:"required"`
	Email      string            `json:"email" validate:"omitempty,email"`
	ClassName  string            `json:"class_name" validate:"omitempty,max=32"`
	Nickname   string            `json:"nickname" validate:"omitempty,max=64"`
	Phone      string            `json:"phone" validate:"omitempty,max=32"`
	Bio        string            `json:"bio" validate:"omitempty,max=1000"`
	Department models.Department `json:"department" validate:"omitempty,department"`
	Position   string            `json:"position" validate:"omitempty,max=64"`
	LineID     string            `json:"line_id" validate:"omitempty,max=64"`
}

// Profile is the account plus its role-specific profile.
type Profile struct {
	User    models.UserInfo `json:"user"`
	Student *models.Student `json:"student,omitempty"`
	Teacher *models.Teacher `json:"teacher,omitempty"`
}

// UserService handles registration, account management and profiles.
type UserService struct {
	repo      userRepository
	students  profileStudentStore
	teachers  profileTeacherStore
	validator *validator.Validate
	logger    *zap.Logger
	hashCost  int
}

// NewUserService creates an instance of UserService.
func NewUserService(repo userRepository, students profileStudentStore, teachers profileTeacherStore, validate *validator.Validate, logger *zap.Logger, hashCost int) *UserService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if hashCost <= 0 {
		hashCost = bcrypt.DefaultCost
	}
	svc := &UserService{repo: repo, students: students, teachers: teachers, validator: validate, logger: logger, hashCost: hashCost}
	svc.validator.RegisterValidation("department", func(fl validator.FieldLevel) bool {
		return models.Department(fl.Field().String()).Valid()
	})
	return svc
}

// List returns paginated users and pagination metadata.
func (s *UserService) List(ctx context.Context, filter models.UserFilter) ([]models.User, *models.Pagination, error) {
	users, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list users")
	}
	return users, pagination(filter.Page, filter.PageSize, total, 20), nil
}

// Get returns a user by ID.
func (s *UserService) Get(ctx context.Context, id string) (*models.User, error) {
	user, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "user not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load user")
	}
	return user, nil
}

// Register creates a student account with a chosen password and its student profile.
func (s *UserService) Register(ctx context.Context, req models.RegisterRequest, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}
	user, err := s.createAccount(ctx, CreateUserRequest{
		Username:  req.Username,
		Email:     req.Email,
		FullName:  req.FullName,
		Role:      models.RoleStudent,
		Active:    true,
		Password:  req.Password,
		ClassName: req.ClassName,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, user.ID, models.AuditActionUserCreate, user.ID, nil, map[string]interface{}{"username": user.Username, "role": user.Role, "self": true}, meta)
	return user, nil
}

// Create adds a new account on behalf of an administrator.
func (s *UserService) Create(ctx context.Context, req CreateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid create user payload")
	}
	user, err := s.createAccount(ctx, req)
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actorID, models.AuditActionUserCreate, user.ID, nil, map[string]interface{}{"id": user.ID, "username": user.Username, "role": user.Role}, meta)
	return user, nil
}

func (s *UserService) createAccount(ctx context.Context, req CreateUserRequest) (*models.User, error) {
	username := NormalizeUsername(req.Username)
	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.hashCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	user := &models.User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        strings.ToLower(strings.TrimSpace(req.Email)),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         req.Role,
		Active:       req.Active,
		PasswordHash: string(passwordHash),
	}
	created, err := s.repo.CreateIfAbsent(ctx, user)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create user")
	}
	if !created {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username already exists")
	}

	switch user.Role {
	case models.RoleStudent:
		if _, err := s.students.CreateIfAbsent(ctx, &models.Student{UserID: user.ID, ClassName: strings.TrimSpace(req.ClassName)}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student profile")
		}
	case models.RoleTeacher:
		if err := s.teachers.Upsert(ctx, &models.Teacher{UserID: user.ID, Department: req.Department}); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create teacher profile")
		}
	}
	return user, nil
}

// Update modifies the user attributes.
func (s *UserService) Update(ctx context.Context, id string, req UpdateUserRequest, actorID string, meta models.LoginRequest) (*models.User, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid update payload")
	}

	user, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	old := map[string]interface{}{"role": user.Role, "active": user.Active}

	user.FullName = req.FullName
	user.Email = strings.ToLower(strings.TrimSpace(req.Email))
	user.Role = req.Role
	if req.Active != nil {
		user.Active = *req.Active
	}

	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	s.audit(ctx, actorID, models.AuditActionUserUpdate, user.ID, old, map[string]interface{}{"role": user.Role, "active": user.Active}, meta)
	return user, nil
}

// Delete performs a soft delete (inactive) on a user.
func (s *UserService) Delete(ctx context.Context, id string, actorID string, meta models.LoginRequest) error {
	user, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete user")
	}

	s.audit(ctx, actorID, models.AuditActionUserDelete, user.ID, map[string]interface{}{"active": user.Active}, map[string]interface{}{"active": false}, meta)
	return nil
}

// Profile returns the caller's account and role profile.
func (s *UserService) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	profile := &Profile{User: userInfo(user)}
	switch user.Role {
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, userID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
		if student != nil {
			profile.Student = &student.Student
		}
	case models.RoleTeacher:
		teacher, err := s.teachers.FindByUserID(ctx, userID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher profile")
		}
		profile.Teacher = teacher
	}
	return profile, nil
}

// UpdateProfile edits the caller's own account and role profile.
func (s *UserService) UpdateProfile(ctx context.Context, userID string, req UpdateProfileRequest) (*Profile, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid profile payload")
	}
	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.FullName = strings.TrimSpace(req.FullName)
	user.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.repo.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update user")
	}

	switch user.Role {
	case models.RoleStudent:
		student, err := s.students.FindByUserID(ctx, userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Clone(appErrors.ErrNotFound, "student profile not found")
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student profile")
		}
		record := student.Student
		if className := strings.TrimSpace(req.ClassName); className != "" {
			record.ClassName = className
		}
		record.Nickname = req.Nickname
		record.Phone = req.Phone
		record.Bio = req.Bio
		if err := s.students.Update(ctx, &record); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student profile")
		}
	case models.RoleTeacher:
		teacher, err := s.teachers.FindByUserID(ctx, userID)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load teacher profile")
			}
			teacher = &models.Teacher{UserID: userID}
		}
		if req.Department != "" {
			teacher.Department = req.Department
		}
		teacher.Position = req.Position
		teacher.Phone = req.Phone
		teacher.LineID = req.LineID
		teacher.Nickname = req.Nickname
		teacher.Bio = req.Bio
		if err := s.teachers.Upsert(ctx, teacher); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update teacher profile")
		}
	}
	return s.Profile(ctx, userID)
}

func (s *UserService) audit(ctx context.Context, actorID, action, resourceID string, oldValues, newValues map[string]interface{}, meta models.LoginRequest) {
	entry := &models.AuditLog{
		Action:     action,
		Resource:   "users",
		ResourceID: &resourceID,
		IPAddress:  meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if oldValues != nil {
		entry.OldValues, _ = json.Marshal(oldValues)
	}
	if newValues != nil {
		entry.NewValues, _ = json.Marshal(newValues)
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to record user audit log", zap.String("action", action), zap.Error(err))
	}
}
