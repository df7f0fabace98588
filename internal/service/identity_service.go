package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/unicode/norm"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
)

// Credential policies for provisioned accounts.
const (
	CredentialUsername = "username"
	CredentialFixed    = "fixed"
)

type identityUserStore interface {
	FindByUsername(ctx context.Context, username string) (*models.User, error)
	CreateIfAbsent(ctx context.Context, user *models.User) (bool, error)
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type identityStudentStore interface {
	FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error)
	CreateIfAbsent(ctx context.Context, student *models.Student) (bool, error)
}

// IdentityConfig controls how provisioned accounts are initialised.
type IdentityConfig struct {
	CredentialPolicy string
	DefaultPassword  string
	DefaultClassName string
	// HashCost overrides bcrypt.DefaultCost when positive.
	HashCost int
}

// ProvisionRequest names the student account to resolve or create.
type ProvisionRequest struct {
	Username  string
	FullName  string
	ClassName string
	ActorID   string
}

// ProvisionResult reports what ProvisionStudent resolved.
type ProvisionResult struct {
	User           *models.User
	Student        *models.StudentDetail
	AccountCreated bool
	StudentCreated bool
}

// IdentityProvisioner resolves or creates student accounts together with their profile.
// It is the only place that decides the initial credential of an account it creates.
type IdentityProvisioner struct {
	users    identityUserStore
	students identityStudentStore
	cfg      IdentityConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewIdentityProvisioner constructs an IdentityProvisioner.
func NewIdentityProvisioner(users identityUserStore, students identityStudentStore, cfg IdentityConfig, logger *zap.Logger) *IdentityProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CredentialPolicy == "" {
		cfg.CredentialPolicy = CredentialUsername
	}
	if cfg.HashCost <= 0 {
		cfg.HashCost = bcrypt.DefaultCost
	}
	return &IdentityProvisioner{users: users, students: students, cfg: cfg, logger: logger, now: time.Now}
}

// NormalizeUsername trims and NFC-normalises a username.
func NormalizeUsername(raw string) string {
	return norm.NFC.String(strings.TrimSpace(raw))
}

// ProvisionStudent returns the student account named by req.Username, creating the account and
// the student profile when missing. The class label is applied only to a newly created profile.
func (p *IdentityProvisioner) ProvisionStudent(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	username := NormalizeUsername(req.Username)
	if username == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "username is required")
	}

	user, accountCreated, err := p.resolveAccount(ctx, username, req)
	if err != nil {
		return nil, err
	}
	if user.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("username %s belongs to a %s account", username, strings.ToLower(string(user.Role))))
	}

	student, studentCreated, err := p.resolveStudent(ctx, user.ID, req.ClassName)
	if err != nil {
		return nil, err
	}

	return &ProvisionResult{
		User:           user,
		Student:        student,
		AccountCreated: accountCreated,
		StudentCreated: studentCreated,
	}, nil
}

func (p *IdentityProvisioner) resolveAccount(ctx context.Context, username string, req ProvisionRequest) (*models.User, bool, error) {
	user, err := p.users.FindByUsername(ctx, username)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(p.initialCredential(username)), p.cfg.HashCost)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	fullName := strings.TrimSpace(req.FullName)
	if fullName == "" {
		fullName = username
	}
	now := p.now().UTC()
	user = &models.User{
		ID:                 uuid.NewString(),
		Username:           username,
		PasswordHash:       string(hash),
		FullName:           fullName,
		Role:               models.RoleStudent,
		Active:             true,
		MustChangePassword: true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	created, err := p.users.CreateIfAbsent(ctx, user)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}
	if !created {
		// lost a race with a concurrent provision of the same username
		existing, err := p.users.FindByUsername(ctx, username)
		if err != nil {
			return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
		}
		return existing, false, nil
	}

	p.audit(ctx, req.ActorID, user)
	p.logger.Info("student account provisioned", zap.String("username", username), zap.String("actor_id", req.ActorID))
	return user, true, nil
}

func (p *IdentityProvisioner) resolveStudent(ctx context.Context, userID, className string) (*models.StudentDetail, bool, error) {
	student, err := p.students.FindByUserID(ctx, userID)
	if err == nil {
		return student, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}

	className = strings.TrimSpace(className)
	if className == "" {
		className = p.cfg.DefaultClassName
	}
	record := &models.Student{UserID: userID, ClassName: className}
	created, err := p.students.CreateIfAbsent(ctx, record)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	student, err = p.students.FindByUserID(ctx, userID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, created, nil
}

func (p *IdentityProvisioner) initialCredential(username string) string {
	if p.cfg.CredentialPolicy == CredentialFixed && p.cfg.DefaultPassword != "" {
		return p.cfg.DefaultPassword
	}
	return username
}

func (p *IdentityProvisioner) audit(ctx context.Context, actorID string, user *models.User) {
	payload, _ := json.Marshal(map[string]interface{}{
		"username":          user.Username,
		"role":              user.Role,
		"credential_policy": p.cfg.CredentialPolicy,
	})
	entry := &models.AuditLog{
		Action:     models.AuditActionIdentityProvision,
		Resource:   "user",
		ResourceID: &user.ID,
		NewValues:  payload,
		CreatedAt:  p.now().UTC(),
	}
	if actorID != "" {
		entry.UserID = &actorID
	}
	if err := p.users.CreateAuditLog(ctx, entry); err != nil {
		p.logger.Warn("failed to write provision audit log", zap.String("user_id", user.ID), zap.Error(err))
	}
}
