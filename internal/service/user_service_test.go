package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
)

func newTestUserService() (*UserService, *memUsers, *memStudents, *memTeachers) {
	users := newMemUsers()
	students := newMemStudents(users)
	teachers := newMemTeachers()
	return NewUserService(users, students, teachers, nil, zap.NewNop(), bcrypt.MinCost), users, students, teachers
}

func TestUserRegisterCreatesStudentProfile(t *testing.T) {
	svc, users, students, _ := newTestUserService()

	user, err := svc.Register(context.Background(), models.RegisterRequest{
		Username:  " Student01 ",
		Password:  "secret123",
		FullName:  "Student One",
		Email:     "S1@School.test",
		ClassName: "M.2/3",
	}, models.LoginRequest{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, "Student01", user.Username)
	assert.Equal(t, "s1@school.test", user.Email)
	assert.Equal(t, models.RoleStudent, user.Role)
	assert.False(t, user.MustChangePassword)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte("secret123")))

	profile, err := students.FindByUserID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "M.2/3", profile.ClassName)

	require.Len(t, users.audits, 1)
	assert.Equal(t, models.AuditActionUserCreate, users.audits[0].Action)
	assert.Equal(t, user.ID, *users.audits[0].UserID)
	assert.Equal(t, "10.0.0.1", users.audits[0].IPAddress)
}

func TestUserRegisterDuplicateUsername(t *testing.T) {
	svc, users, _, _ := newTestUserService()
	users.add(&models.User{Username: "taken", Role: models.RoleStudent})

	_, err := svc.Register(context.Background(), models.RegisterRequest{Username: "taken", Password: "secret123", FullName: "X"}, models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestUserCreateTeacherWithDepartment(t *testing.T) {
	svc, _, _, teachers := newTestUserService()

	user, err := svc.Create(context.Background(), CreateUserRequest{
		Username:   "teacher01",
		FullName:   "Teacher One",
		Role:       models.RoleTeacher,
		Active:     true,
		Password:   "secret123",
		Department: models.DepartmentMath,
	}, "admin-1", models.LoginRequest{})
	require.NoError(t, err)

	profile, err := teachers.FindByUserID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DepartmentMath, profile.Department)
}

func TestUserCreateRejectsUnknownDepartment(t *testing.T) {
	svc, _, _, _ := newTestUserService()

	_, err := svc.Create(context.Background(), CreateUserRequest{
		Username:   "teacher02",
		FullName:   "Teacher Two",
		Role:       models.RoleTeacher,
		Password:   "secret123",
		Department: "astrology",
	}, "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestUserUpdateAndDelete(t *testing.T) {
	svc, users, _, _ := newTestUserService()
	target := users.add(&models.User{Username: "u1", FullName: "Old", Role: models.RoleTeacher, Active: true})

	inactive := false
	updated, err := svc.Update(context.Background(), target.ID, UpdateUserRequest{FullName: "New", Role: models.RoleAdmin, Active: &inactive}, "admin-1", models.LoginRequest{})
	require.NoError(t, err)
	assert.Equal(t, "New", updated.FullName)
	assert.Equal(t, models.RoleAdmin, updated.Role)
	assert.False(t, updated.Active)

	require.NoError(t, svc.Delete(context.Background(), target.ID, "admin-1", models.LoginRequest{}))
	assert.Equal(t, []string{models.AuditActionUserUpdate, models.AuditActionUserDelete}, users.auditActions())

	err = svc.Delete(context.Background(), "missing", "admin-1", models.LoginRequest{})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUserListPagination(t *testing.T) {
	svc, users, _, _ := newTestUserService()
	users.add(&models.User{Username: "a"})
	users.add(&models.User{Username: "b"})

	list, page, err := svc.List(context.Background(), models.UserFilter{})
	require.NoError(t, err)
	assert.Len(t, list, 2)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PageSize)
	assert.Equal(t, 2, page.TotalCount)
}

func TestUserUpdateProfileStudent(t *testing.T) {
	svc, _, students, _ := newTestUserService()
	st := students.seed("s1", "M.4/1", "")

	profile, err := svc.UpdateProfile(context.Background(), st.UserID, UpdateProfileRequest{FullName: "Somsri", Nickname: "Sri", ClassName: "", Department: ""})
	require.NoError(t, err)
	assert.Equal(t, "Somsri", profile.User.FullName)
	require.NotNil(t, profile.Student)
	assert.Equal(t, "M.4/1", profile.Student.ClassName)
	assert.Equal(t, "Sri", profile.Student.Nickname)
	assert.Nil(t, profile.Teacher)
}

func TestUserUpdateProfileTeacherCreatesMissingProfile(t *testing.T) {
	svc, users, _, teachers := newTestUserService()
	teacher := users.add(&models.User{Username: "t1", Role: models.RoleTeacher, Active: true})

	profile, err := svc.UpdateProfile(context.Background(), teacher.ID, UpdateProfileRequest{FullName: "Kru A", Department: models.DepartmentThai, LineID: "kru.a"})
	require.NoError(t, err)
	require.NotNil(t, profile.Teacher)
	assert.Equal(t, models.DepartmentThai, profile.Teacher.Department)

	stored, err := teachers.FindByUserID(context.Background(), teacher.ID)
	require.NoError(t, err)
	assert.Equal(t, "kru.a", stored.LineID)
}
