package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/smartgrade-api/internal/dto"
	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/risk"
)

type studentFixture struct {
	svc          *StudentService
	users        *memUsers
	students     *memStudents
	observations *memObservations
	feedback     *memFeedback
	cache        *memCache
}

func newStudentFixture() *studentFixture {
	users := newMemUsers()
	students := newMemStudents(users)
	observations := newMemObservations()
	feedback := &memFeedback{}
	cache := newMemCache()
	provisioner := NewIdentityProvisioner(users, students, IdentityConfig{HashCost: bcrypt.MinCost, DefaultClassName: "unassigned"}, zap.NewNop())
	svc := NewStudentService(StudentServiceParams{
		Repo:         students,
		Users:        users,
		Identities:   provisioner,
		Observations: observations,
		Feedback:     feedback,
		Cache:        NewCacheService(cache, nil, time.Minute, zap.NewNop(), true),
	})
	return &studentFixture{svc: svc, users: users, students: students, observations: observations, feedback: feedback, cache: cache}
}

func (f *studentFixture) observe(t *testing.T, studentID, teacherID, day string, attendance int, quiz float64, activity int, homework bool) {
	t.Helper()
	date, err := time.Parse("2006-01-02", day)
	require.NoError(t, err)
	_, err = f.observations.Upsert(context.Background(), &models.Observation{
		StudentID:       studentID,
		TeacherID:       &teacherID,
		RecordDate:      date,
		AttendanceScore: attendance,
		QuizScore:       quiz,
		ActivityScore:   activity,
		HomeworkDone:    homework,
		Subject:         "Mathematics",
	})
	require.NoError(t, err)
}

func TestStudentRosterScopesTeacherAndComputesStatus(t *testing.T) {
	f := newStudentFixture()
	good := f.students.seed("s1", "M.4/1", "teacher-1")
	watch := f.students.seed("s2", "M.4/1", "teacher-1")
	f.students.seed("s3", "M.4/1", "teacher-2")
	silent := f.students.seed("s4", "M.4/2", "teacher-1")

	f.observe(t, good.ID, "teacher-1", "2024-05-01", 10, 5, 5, false)
	f.observe(t, good.ID, "teacher-1", "2024-05-02", 70, 10, 5, true)
	f.observe(t, watch.ID, "teacher-1", "2024-05-02", 50, 10, 5, true)

	entries, page, err := f.svc.Roster(context.Background(), models.StudentFilter{}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalCount)
	require.Len(t, entries, 3)

	byID := make(map[string]int)
	for i, e := range entries {
		byID[e.ID] = i
	}
	assert.Equal(t, risk.StatusGood, entries[byID[good.ID]].Status)
	assert.Equal(t, 85.0, entries[byID[good.ID]].Total)
	require.NotNil(t, entries[byID[good.ID]].LastRecordDate)
	assert.Equal(t, "2024-05-02", entries[byID[good.ID]].LastRecordDate.Format("2006-01-02"))
	assert.Equal(t, risk.StatusWarning, entries[byID[watch.ID]].Status)
	assert.Equal(t, risk.StatusUnknown, entries[byID[silent.ID]].Status)
	assert.Equal(t, risk.ColorGray, entries[byID[silent.ID]].Color)
	assert.Nil(t, entries[byID[silent.ID]].LastRecordDate)
}

func TestStudentRosterAdminSeesEveryone(t *testing.T) {
	f := newStudentFixture()
	f.students.seed("s1", "M.4/1", "teacher-1")
	f.students.seed("s2", "M.4/1", "")

	entries, _, err := f.svc.Roster(context.Background(), models.StudentFilter{}, adminActor())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestStudentRosterAllPagesThroughEveryStudent(t *testing.T) {
	f := newStudentFixture()
	for i := 0; i < 205; i++ {
		f.students.seed(fmt.Sprintf("s%03d", i), "M.4/1", "teacher-1")
	}

	entries, err := f.svc.RosterAll(context.Background(), "teacher-1", "M.4/1")
	require.NoError(t, err)
	assert.Len(t, entries, 205)
}

func TestStudentRosterPagesReportsRunningCount(t *testing.T) {
	f := newStudentFixture()
	for i := 0; i < 205; i++ {
		f.students.seed(fmt.Sprintf("s%03d", i), "M.4/1", "teacher-1")
	}

	var pages [][3]int
	err := f.svc.RosterPages(context.Background(), "teacher-1", "", func(entries []dto.RosterEntry, done, total int) error {
		pages = append(pages, [3]int{len(entries), done, total})
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, [][3]int{{200, 200, 205}, {5, 205, 205}}, pages)
}

func TestStudentDetailRequiresLink(t *testing.T) {
	f := newStudentFixture()
	st := f.students.seed("s1", "M.4/1", "teacher-1")
	f.observe(t, st.ID, "teacher-1", "2024-05-01", 40, 10, 5, true)
	f.observe(t, st.ID, "teacher-2", "2024-05-02", 65, 10, 5, true)

	_, err := f.svc.Detail(context.Background(), st.ID, DetailOptions{}, teacherActor("teacher-3"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Detail(context.Background(), st.ID, DetailOptions{}, Actor{UserID: "u", Role: models.RoleStudent})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = f.svc.Detail(context.Background(), "missing", DetailOptions{}, adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	detail, err := f.svc.Detail(context.Background(), st.ID, DetailOptions{}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Len(t, detail.Observations, 2)
	assert.Equal(t, risk.StatusNormal, detail.Risk.Status)
	require.Len(t, detail.SubjectHealth, 1)

	mine, err := f.svc.Detail(context.Background(), st.ID, DetailOptions{MineOnly: true}, teacherActor("teacher-1"))
	require.NoError(t, err)
	require.Len(t, mine.Observations, 1)
	assert.Equal(t, risk.StatusCritical, mine.Risk.Status)
}

func TestStudentDetailStrictRiskMode(t *testing.T) {
	f := newStudentFixture()
	st := f.students.seed("s1", "M.4/1", "teacher-1")
	f.observe(t, st.ID, "teacher-1", "2024-05-02", 65, 10, 5, true)

	standard, err := f.svc.Detail(context.Background(), st.ID, DetailOptions{}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, risk.ModeLatest, standard.RiskMode)
	assert.Equal(t, risk.StatusNormal, standard.Risk.Status)

	strict, err := f.svc.Detail(context.Background(), st.ID, DetailOptions{RiskMode: " Latest_Strict "}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, risk.ModeLatestStrict, strict.RiskMode)
	assert.Equal(t, risk.StatusWarning, strict.Risk.Status)
	assert.Equal(t, risk.ColorYellow, strict.Risk.Color)

	_, err = f.svc.Detail(context.Background(), st.ID, DetailOptions{RiskMode: "loudest"}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStudentCreateLinksTeacher(t *testing.T) {
	f := newStudentFixture()
	f.cache.entries["dashboard:teacher:teacher-1"] = []byte(`{}`)

	created, err := f.svc.Create(context.Background(), CreateStudentRequest{Username: "newbie", FullName: "New Bie", Email: "NB@Example.com", ClassName: "M.1/1"}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, "M.1/1", created.ClassName)
	assert.Equal(t, "nb@example.com", created.Email)

	linked, err := f.students.IsTaughtBy(context.Background(), created.ID, "teacher-1")
	require.NoError(t, err)
	assert.True(t, linked)
	assert.False(t, f.cache.has("dashboard:teacher:teacher-1"))
}

func TestStudentCreateExistingUsernameConflicts(t *testing.T) {
	f := newStudentFixture()
	f.students.seed("taken", "M.4/1", "")

	_, err := f.svc.Create(context.Background(), CreateStudentRequest{Username: "taken", FullName: "Taken"}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestStudentCreateValidates(t *testing.T) {
	f := newStudentFixture()

	_, err := f.svc.Create(context.Background(), CreateStudentRequest{Username: "ab"}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStudentUpdateChangesProfileAndAccount(t *testing.T) {
	f := newStudentFixture()
	st := f.students.seed("s1", "M.4/1", "teacher-1")
	key := studentDashboardKey(st.ID, risk.ModeLatest)
	f.cache.entries[key] = []byte(`{}`)

	updated, err := f.svc.Update(context.Background(), st.ID, UpdateStudentRequest{FullName: "Renamed", ClassName: "M.5/1", Nickname: "Ren"}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.FullName)
	assert.Equal(t, "M.5/1", updated.ClassName)
	assert.Equal(t, "Ren", updated.Nickname)
	assert.False(t, f.cache.has(key))

	stored, err := f.students.FindByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.FullName)
}

func TestStudentDeleteWritesAudit(t *testing.T) {
	f := newStudentFixture()
	st := f.students.seed("s1", "M.4/1", "teacher-1")

	_, err := f.svc.Detail(context.Background(), st.ID, DetailOptions{}, adminActor())
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), st.ID, adminActor()))
	assert.Equal(t, []string{models.AuditActionStudentDelete}, f.users.auditActions())

	err = f.svc.Delete(context.Background(), st.ID, adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
