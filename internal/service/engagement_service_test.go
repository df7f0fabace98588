package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/jobs"
)

type memNotes struct {
	items []models.PrivateNote
	seq   int
}

func (m *memNotes) Create(ctx context.Context, note *models.PrivateNote) error {
	m.seq++
	note.ID = fmt.Sprintf("note-%d", m.seq)
	m.items = append(m.items, *note)
	return nil
}

func (m *memNotes) ListByAuthor(ctx context.Context, studentID, teacherID string) ([]models.PrivateNote, error) {
	var out []models.PrivateNote
	for _, n := range m.items {
		if n.StudentID == studentID && n.TeacherID == teacherID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memNotes) DeleteByAuthor(ctx context.Context, id, teacherID string) error {
	for i, n := range m.items {
		if n.ID == id && n.TeacherID == teacherID {
			m.items = append(m.items[:i], m.items[i+1:]...)
			return nil
		}
	}
	return sql.ErrNoRows
}

type memContacts struct {
	mu    sync.Mutex
	byID  map[string]*models.UrgentContact
	order []string
}

func newMemContacts() *memContacts {
	return &memContacts{byID: make(map[string]*models.UrgentContact)}
}

func (m *memContacts) Create(ctx context.Context, contact *models.UrgentContact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	contact.ID = fmt.Sprintf("contact-%d", len(m.order)+1)
	copied := *contact
	m.byID[contact.ID] = &copied
	m.order = append(m.order, contact.ID)
	return nil
}

func (m *memContacts) GetByID(ctx context.Context, id string) (*models.UrgentContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *c
	return &copied, nil
}

func (m *memContacts) ListByStudent(ctx context.Context, studentID string) ([]models.UrgentContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UrgentContact
	for _, id := range m.order {
		if c := m.byID[id]; c.StudentID == studentID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memContacts) UpdateStatus(ctx context.Context, id string, status models.ContactStatus, deliveredAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byID[id]
	if !ok {
		return sql.ErrNoRows
	}
	c.Status = status
	c.DeliveredAt = deliveredAt
	return nil
}

func (m *memContacts) ListQueued(ctx context.Context, limit int) ([]models.UrgentContact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.UrgentContact
	for _, id := range m.order {
		if c := m.byID[id]; c.Status == models.ContactQueued {
			out = append(out, *c)
		}
	}
	return out, nil
}

type flakyNotifier struct {
	err   error
	calls int
}

func (n *flakyNotifier) Notify(ctx context.Context, contact *models.UrgentContact) error {
	n.calls++
	return n.err
}

func seededGate() (*memStudents, *models.StudentDetail) {
	students := newMemStudents(newMemUsers())
	st := students.seed("s1", "M.4/1", "teacher-1")
	return students, st
}

func TestFeedbackSendAndRead(t *testing.T) {
	students, st := seededGate()
	repo := &memFeedback{}
	teachers := newMemTeachers(models.Teacher{UserID: "teacher-1", Department: models.DepartmentEnglish})
	svc := NewFeedbackService(repo, students, students, teachers, nil, zap.NewNop())

	fb, err := svc.Send(context.Background(), st.ID, FeedbackRequest{Message: "  great reading  "}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackGeneral, fb.Type)
	assert.Equal(t, "great reading", fb.Message)
	assert.Equal(t, "English", fb.Subject)

	_, err = svc.Send(context.Background(), st.ID, FeedbackRequest{Message: "hi", Type: "shout"}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Send(context.Background(), st.ID, FeedbackRequest{Message: "hi"}, teacherActor("teacher-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	mine, err := svc.ListMine(context.Background(), st.UserID)
	require.NoError(t, err)
	require.Len(t, mine, 1)

	listed, err := svc.ListForStudent(context.Background(), st.ID, adminActor())
	require.NoError(t, err)
	assert.Len(t, listed, 1)

	_, err = svc.ListMine(context.Background(), "teacher-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestNotesArePrivateToAuthor(t *testing.T) {
	students, st := seededGate()
	students.AddTeacher(context.Background(), st.ID, "teacher-2")
	repo := &memNotes{}
	svc := NewNoteService(repo, students, nil)

	note, err := svc.Create(context.Background(), st.ID, NoteRequest{Title: " Parent call ", Content: "asked about grades"}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, "Parent call", note.Title)
	assert.Equal(t, "general", note.NoteType)

	own, err := svc.List(context.Background(), st.ID, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Len(t, own, 1)
	other, err := svc.List(context.Background(), st.ID, teacherActor("teacher-2"))
	require.NoError(t, err)
	assert.Empty(t, other)

	err = svc.Delete(context.Background(), note.ID, teacherActor("teacher-2"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
	require.NoError(t, svc.Delete(context.Background(), note.ID, teacherActor("teacher-1")))

	_, err = svc.Create(context.Background(), st.ID, NoteRequest{Title: "empty"}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestContactCreateQueuesDispatchedMethods(t *testing.T) {
	students, st := seededGate()
	repo := newMemContacts()
	queue := &recordingQueue{}
	svc := NewContactService(repo, students, queue, nil, zap.NewNop())

	email, err := svc.Create(context.Background(), st.ID, ContactRequest{Target: models.ContactParent, Method: models.ContactEmail, Message: "please call"}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ContactQueued, email.Status)

	call, err := svc.Create(context.Background(), st.ID, ContactRequest{Target: models.ContactGuardian, Method: models.ContactCall, Message: "called home"}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ContactLogged, call.Status)

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, email.ID, queue.jobs[0].ID)
	assert.Equal(t, contactJobType, queue.jobs[0].Type)

	listed, err := svc.List(context.Background(), st.ID, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	_, err = svc.Create(context.Background(), st.ID, ContactRequest{Target: "neighbour", Method: models.ContactCall, Message: "x"}, teacherActor("teacher-1"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestContactEnqueueFailureLeavesRowForRecovery(t *testing.T) {
	students, st := seededGate()
	repo := newMemContacts()
	queue := &recordingQueue{err: errors.New("queue full")}
	svc := NewContactService(repo, students, queue, nil, zap.NewNop())

	contact, err := svc.Create(context.Background(), st.ID, ContactRequest{Target: models.ContactStudent, Method: models.ContactSystem, Message: "see me"}, teacherActor("teacher-1"))
	require.NoError(t, err)
	assert.Equal(t, models.ContactQueued, contact.Status)

	queue.err = nil
	svc.RecoverQueued(context.Background())
	require.Len(t, queue.jobs, 1)
	assert.Equal(t, contact.ID, queue.jobs[0].ID)
}

func TestContactWorkerDeliversAndFails(t *testing.T) {
	students, st := seededGate()
	repo := newMemContacts()
	svc := NewContactService(repo, students, &recordingQueue{}, nil, zap.NewNop())
	contact, err := svc.Create(context.Background(), st.ID, ContactRequest{Target: models.ContactStudent, Method: models.ContactSystem, Message: "see me"}, teacherActor("teacher-1"))
	require.NoError(t, err)

	metrics := NewMetricsService()
	worker := NewContactWorker(repo, NewLogNotifier(zap.NewNop()), metrics, 3, zap.NewNop())
	require.NoError(t, worker.Handle(context.Background(), jobs.Job{ID: contact.ID, Attempt: 1}))
	stored, _ := repo.GetByID(context.Background(), contact.ID)
	assert.Equal(t, models.ContactDelivered, stored.Status)
	assert.NotNil(t, stored.DeliveredAt)

	notifier := &flakyNotifier{}
	require.NoError(t, NewContactWorker(repo, notifier, nil, 3, zap.NewNop()).Handle(context.Background(), jobs.Job{ID: contact.ID, Attempt: 1}))
	assert.Equal(t, 0, notifier.calls)

	failing, err := svc.Create(context.Background(), st.ID, ContactRequest{Target: models.ContactParent, Method: models.ContactEmail, Message: "urgent"}, teacherActor("teacher-1"))
	require.NoError(t, err)
	notifier.err = errors.New("smtp down")
	flaky := NewContactWorker(repo, notifier, nil, 2, zap.NewNop())

	require.Error(t, flaky.Handle(context.Background(), jobs.Job{ID: failing.ID, Attempt: 1}))
	stored, _ = repo.GetByID(context.Background(), failing.ID)
	assert.Equal(t, models.ContactQueued, stored.Status)

	require.Error(t, flaky.Handle(context.Background(), jobs.Job{ID: failing.ID, Attempt: 2}))
	stored, _ = repo.GetByID(context.Background(), failing.ID)
	assert.Equal(t, models.ContactFailed, stored.Status)
}
