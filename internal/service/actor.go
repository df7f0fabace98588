package service

import (
	"context"
	"database/sql"
	"errors"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
)

// Actor identifies the authenticated caller of a service operation.
type Actor struct {
	UserID    string
	Role      models.UserRole
	IP        string
	UserAgent string
}

// IsAdmin reports whether the actor bypasses per-student scoping.
func (a Actor) IsAdmin() bool {
	return a.Role == models.RoleAdmin
}

type studentGate interface {
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	IsTaughtBy(ctx context.Context, studentID, teacherID string) (bool, error)
}

// authorizeStudent loads the student and checks that a teacher actor is linked to it.
func authorizeStudent(ctx context.Context, gate studentGate, studentID string, actor Actor) (*models.StudentDetail, error) {
	student, err := gate.FindByID(ctx, studentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	if actor.IsAdmin() {
		return student, nil
	}
	if actor.Role != models.RoleTeacher {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only teachers can access student records")
	}
	linked, err := gate.IsTaughtBy(ctx, studentID, actor.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check student access")
	}
	if !linked {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "student is not associated with this teacher")
	}
	return student, nil
}

func pagination(page, size, total, defaultSize int) *models.Pagination {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultSize
	}
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}
