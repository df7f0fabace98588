package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/risk"
)

type observationFixture struct {
	svc          *ObservationService
	students     *memStudents
	observations *memObservations
	cache        *memCache
	studentID    string
}

func newObservationFixture() *observationFixture {
	students := newMemStudents(newMemUsers())
	st := students.seed("s1", "M.4/1", "teacher-1")
	students.AddTeacher(context.Background(), st.ID, "teacher-2")
	observations := newMemObservations()
	cache := newMemCache()
	teachers := newMemTeachers(models.Teacher{UserID: "teacher-1", Department: models.DepartmentScience})
	svc := NewObservationService(observations, students, teachers, NewCacheService(cache, nil, time.Minute, zap.NewNop(), true), nil, zap.NewNop())
	svc.now = func() time.Time { return time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC) }
	return &observationFixture{svc: svc, students: students, observations: observations, cache: cache, studentID: st.ID}
}

func TestObservationRecordOverwritesSameDay(t *testing.T) {
	f := newObservationFixture()
	req := ObservationRequest{RecordDate: "2024-06-01", AttendanceScore: 2, QuizScore: 12, HomeworkDone: true, ActivityScore: 5}

	first, created, err := f.svc.Record(context.Background(), f.studentID, req, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "Science", first.Subject)

	req.AttendanceScore = 1
	second, created, err := f.svc.Record(context.Background(), f.studentID, req, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.observations.only(t).AttendanceScore)

	_, created, err = f.svc.Record(context.Background(), f.studentID, req, teacherActor("teacher-2"))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, f.observations.count())
}

func TestObservationRecordDefaults(t *testing.T) {
	f := newObservationFixture()

	obs, _, err := f.svc.Record(context.Background(), f.studentID, ObservationRequest{Subject: " Art "}, teacherActor("teacher-2"))
	require.NoError(t, err)
	assert.Equal(t, "Art", obs.Subject)
	assert.Equal(t, "2024-06-15", obs.RecordDate.Format("2006-01-02"))

	other, _, err := f.svc.Record(context.Background(), f.studentID, ObservationRequest{RecordDate: "2024-06-02"}, teacherActor("teacher-2"))
	require.NoError(t, err)
	assert.Equal(t, "General", other.Subject)
}

func TestObservationRecordEvictsCaches(t *testing.T) {
	f := newObservationFixture()
	f.cache.entries[studentDashboardKey(f.studentID, risk.ModeLatest)] = []byte(`{}`)
	f.cache.entries["dashboard:teacher:teacher-1"] = []byte(`{}`)

	_, _, err := f.svc.Record(context.Background(), f.studentID, ObservationRequest{}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.False(t, f.cache.has(studentDashboardKey(f.studentID, risk.ModeLatest)))
	assert.False(t, f.cache.has("dashboard:teacher:teacher-1"))
}

func TestObservationRecordRejectsUnlinkedTeacherAndBadPayload(t *testing.T) {
	f := newObservationFixture()

	_, _, err := f.svc.Record(context.Background(), f.studentID, ObservationRequest{}, teacherActor("teacher-9"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, _, err = f.svc.Record(context.Background(), f.studentID, ObservationRequest{AttendanceScore: -1}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, _, err = f.svc.Record(context.Background(), f.studentID, ObservationRequest{RecordDate: "15/06/2024"}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestObservationUpdateOwnership(t *testing.T) {
	f := newObservationFixture()
	obs, _, err := f.svc.Record(context.Background(), f.studentID, ObservationRequest{RecordDate: "2024-06-01", AttendanceScore: 2}, teacherActor("teacher-1"))
	require.NoError(t, err)

	_, err = f.svc.Update(context.Background(), obs.ID, ObservationRequest{AttendanceScore: 1}, teacherActor("teacher-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	updated, err := f.svc.Update(context.Background(), obs.ID, ObservationRequest{AttendanceScore: 1, QuizScore: 18}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, updated.AttendanceScore)
	assert.Equal(t, "2024-06-01", updated.RecordDate.Format("2006-01-02"))
	assert.Equal(t, "Science", updated.Subject)

	_, err = f.svc.Update(context.Background(), obs.ID, ObservationRequest{}, adminActor())
	require.NoError(t, err)

	_, err = f.svc.Update(context.Background(), "obs-999", ObservationRequest{}, adminActor())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestObservationUpdateDateCollisionConflicts(t *testing.T) {
	f := newObservationFixture()
	first, _, err := f.svc.Record(context.Background(), f.studentID, ObservationRequest{RecordDate: "2024-06-01"}, teacherActor("teacher-1"))
	require.NoError(t, err)
	_, _, err = f.svc.Record(context.Background(), f.studentID, ObservationRequest{RecordDate: "2024-06-02"}, teacherActor("teacher-1"))
	require.NoError(t, err)

	_, err = f.svc.Update(context.Background(), first.ID, ObservationRequest{RecordDate: "2024-06-02"}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestObservationDeleteAndList(t *testing.T) {
	f := newObservationFixture()
	obs, _, err := f.svc.Record(context.Background(), f.studentID, ObservationRequest{RecordDate: "2024-06-01"}, teacherActor("teacher-1"))
	require.NoError(t, err)

	items, page, err := f.svc.List(context.Background(), models.ObservationFilter{StudentID: f.studentID}, teacherActor("teacher-2"))
	require.NoError(t, err)
	assert.Len(t, items, 1)
	assert.Equal(t, 1, page.TotalCount)

	err = f.svc.Delete(context.Background(), obs.ID, teacherActor("teacher-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	require.NoError(t, f.svc.Delete(context.Background(), obs.ID, teacherActor("teacher-1")))
	assert.Equal(t, 0, f.observations.count())
}
