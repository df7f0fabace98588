package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/jobs"
)

// memUsers is a map-backed account store.
type memUsers struct {
	mu     sync.Mutex
	byID   map[string]*models.User
	audits []*models.AuditLog
	// stealNext makes the next CreateIfAbsent lose to a concurrent insert of the same username.
	stealNext bool
}

func newMemUsers() *memUsers {
	return &memUsers{byID: make(map[string]*models.User)}
}

func (m *memUsers) add(user *models.User) *models.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	m.byID[user.ID] = user
	return user
}

func (m *memUsers) FindByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byID {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memUsers) FindByID(ctx context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *u
	return &copied, nil
}

func (m *memUsers) CreateIfAbsent(ctx context.Context, user *models.User) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stealNext {
		m.stealNext = false
		winner := *user
		winner.ID = uuid.NewString()
		m.byID[winner.ID] = &winner
		return false, nil
	}
	for _, u := range m.byID {
		if u.Username == user.Username {
			return false, nil
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	copied := *user
	m.byID[user.ID] = &copied
	return true, nil
}

func (m *memUsers) Update(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[user.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *user
	m.byID[user.ID] = &copied
	return nil
}

func (m *memUsers) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byID[id]; ok {
		u.Active = false
	}
	return nil
}

func (m *memUsers) List(ctx context.Context, filter models.UserFilter) ([]models.User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.User
	for _, u := range m.byID {
		if filter.Role != nil && u.Role != *filter.Role {
			continue
		}
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, len(out), nil
}

func (m *memUsers) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audits = append(m.audits, log)
	return nil
}

func (m *memUsers) auditActions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	actions := make([]string, 0, len(m.audits))
	for _, a := range m.audits {
		actions = append(actions, a.Action)
	}
	return actions
}

func (m *memUsers) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// memStudents is a map-backed student store joined with memUsers for account fields.
type memStudents struct {
	mu    sync.Mutex
	users *memUsers
	byID  map[string]*models.Student
	links map[string]map[string]bool
}

func newMemStudents(users *memUsers) *memStudents {
	return &memStudents{users: users, byID: make(map[string]*models.Student), links: make(map[string]map[string]bool)}
}

func (m *memStudents) detail(s *models.Student) *models.StudentDetail {
	d := &models.StudentDetail{Student: *s}
	if u, err := m.users.FindByID(context.Background(), s.UserID); err == nil {
		d.Username = u.Username
		d.FullName = u.FullName
		d.Email = u.Email
	}
	return d
}

// seed registers a student account and profile, optionally linked to teacherID.
func (m *memStudents) seed(username, className, teacherID string) *models.StudentDetail {
	user := m.users.add(&models.User{Username: username, FullName: strings.ToUpper(username), Role: models.RoleStudent, Active: true})
	m.mu.Lock()
	student := &models.Student{ID: "st-" + username, UserID: user.ID, ClassName: className}
	m.byID[student.ID] = student
	if teacherID != "" {
		m.links[student.ID] = map[string]bool{teacherID: true}
	}
	m.mu.Unlock()
	return m.detail(student)
}

func (m *memStudents) List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error) {
	m.mu.Lock()
	var matched []*models.Student
	for _, s := range m.byID {
		if filter.ClassName != "" && s.ClassName != filter.ClassName {
			continue
		}
		if filter.TeacherID != "" && !m.links[s.ID][filter.TeacherID] {
			continue
		}
		matched = append(matched, s)
	}
	m.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	page, size := filter.Page, filter.PageSize
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = 50
	}
	start := (page - 1) * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}
	out := make([]models.StudentDetail, 0, end-start)
	for _, s := range matched[start:end] {
		out = append(out, *m.detail(s))
	}
	return out, total, nil
}

func (m *memStudents) FindByID(ctx context.Context, id string) (*models.StudentDetail, error) {
	m.mu.Lock()
	s, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return nil, sql.ErrNoRows
	}
	return m.detail(s), nil
}

func (m *memStudents) FindByUserID(ctx context.Context, userID string) (*models.StudentDetail, error) {
	m.mu.Lock()
	var found *models.Student
	for _, s := range m.byID {
		if s.UserID == userID {
			found = s
			break
		}
	}
	m.mu.Unlock()
	if found == nil {
		return nil, sql.ErrNoRows
	}
	return m.detail(found), nil
}

func (m *memStudents) CreateIfAbsent(ctx context.Context, student *models.Student) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if s.UserID == student.UserID {
			return false, nil
		}
	}
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	copied := *student
	m.byID[student.ID] = &copied
	return true, nil
}

func (m *memStudents) Update(ctx context.Context, student *models.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[student.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *student
	m.byID[student.ID] = &copied
	return nil
}

func (m *memStudents) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byID[id]; !ok {
		return sql.ErrNoRows
	}
	delete(m.byID, id)
	delete(m.links, id)
	return nil
}

func (m *memStudents) AddTeacher(ctx context.Context, studentID, teacherID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.links[studentID] == nil {
		m.links[studentID] = make(map[string]bool)
	}
	m.links[studentID][teacherID] = true
	return nil
}

func (m *memStudents) IsTaughtBy(ctx context.Context, studentID, teacherID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[studentID][teacherID], nil
}

func (m *memStudents) classOf(username string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.byID {
		if u, ok := m.users.byID[s.UserID]; ok && u.Username == username {
			return s.ClassName
		}
	}
	return ""
}

// memTeachers is a map-backed teacher profile store.
type memTeachers struct {
	byUser map[string]*models.Teacher
}

func newMemTeachers(profiles ...models.Teacher) *memTeachers {
	m := &memTeachers{byUser: make(map[string]*models.Teacher)}
	for i := range profiles {
		p := profiles[i]
		m.byUser[p.UserID] = &p
	}
	return m
}

func (m *memTeachers) FindByUserID(ctx context.Context, userID string) (*models.Teacher, error) {
	t, ok := m.byUser[userID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *t
	return &copied, nil
}

func (m *memTeachers) Upsert(ctx context.Context, teacher *models.Teacher) error {
	copied := *teacher
	m.byUser[teacher.UserID] = &copied
	return nil
}

// memObservations reconciles on (student, record date, teacher) like the database constraint.
type memObservations struct {
	mu        sync.Mutex
	rows      map[string]*models.Observation
	seq       int
	upsertErr error
}

func newMemObservations() *memObservations {
	return &memObservations{rows: make(map[string]*models.Observation)}
}

func observationKey(o *models.Observation) string {
	teacher := ""
	if o.TeacherID != nil {
		teacher = *o.TeacherID
	}
	return fmt.Sprintf("%s|%s|%s", o.StudentID, o.RecordDate.Format("2006-01-02"), teacher)
}

func (m *memObservations) sorted(studentID, teacherID string) []models.Observation {
	var out []models.Observation
	for _, o := range m.rows {
		if studentID != "" && o.StudentID != studentID {
			continue
		}
		if teacherID != "" && (o.TeacherID == nil || *o.TeacherID != teacherID) {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordDate.Equal(out[j].RecordDate) {
			return out[i].RecordDate.After(out[j].RecordDate)
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

func (m *memObservations) List(ctx context.Context, filter models.ObservationFilter) ([]models.Observation, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(filter.StudentID, filter.TeacherID)
	return out, len(out), nil
}

func (m *memObservations) ListByStudent(ctx context.Context, studentID, teacherID string, limit int) ([]models.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := m.sorted(studentID, teacherID)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memObservations) LatestByStudents(ctx context.Context, studentIDs []string) (map[string]models.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[string]models.Observation)
	for _, id := range studentIDs {
		if rows := m.sorted(id, ""); len(rows) > 0 {
			latest[id] = rows[0]
		}
	}
	return latest, nil
}

func (m *memObservations) FindByID(ctx context.Context, id string) (*models.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.rows {
		if o.ID == id {
			copied := *o
			return &copied, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *memObservations) Upsert(ctx context.Context, observation *models.Observation) (bool, error) {
	if m.upsertErr != nil {
		return false, m.upsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := observationKey(observation)
	if existing, ok := m.rows[key]; ok {
		observation.ID = existing.ID
		observation.CreatedAt = existing.CreatedAt
		copied := *observation
		m.rows[key] = &copied
		return false, nil
	}
	m.seq++
	observation.ID = fmt.Sprintf("obs-%03d", m.seq)
	observation.CreatedAt = time.Date(2024, 1, 1, 0, 0, m.seq, 0, time.UTC)
	copied := *observation
	m.rows[key] = &copied
	return true, nil
}

func (m *memObservations) Update(ctx context.Context, observation *models.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, o := range m.rows {
		if o.ID != observation.ID {
			continue
		}
		newKey := observationKey(observation)
		if other, taken := m.rows[newKey]; taken && other.ID != observation.ID {
			return &pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"}
		}
		delete(m.rows, key)
		copied := *observation
		m.rows[newKey] = &copied
		return nil
	}
	return sql.ErrNoRows
}

func (m *memObservations) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, o := range m.rows {
		if o.ID == id {
			delete(m.rows, key)
			return nil
		}
	}
	return sql.ErrNoRows
}

func (m *memObservations) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memObservations) only(t interface{ Fatalf(string, ...interface{}) }) models.Observation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.rows) != 1 {
		t.Fatalf("expected exactly one observation, got %d", len(m.rows))
	}
	for _, o := range m.rows {
		return *o
	}
	return models.Observation{}
}

// memFeedback stores feedback newest first.
type memFeedback struct {
	items []models.Feedback
}

func (m *memFeedback) Create(ctx context.Context, feedback *models.Feedback) error {
	feedback.ID = uuid.NewString()
	feedback.CreatedAt = time.Now().UTC()
	m.items = append([]models.Feedback{*feedback}, m.items...)
	return nil
}

func (m *memFeedback) ListByStudent(ctx context.Context, studentID string, limit int) ([]models.Feedback, error) {
	var out []models.Feedback
	for _, f := range m.items {
		if f.StudentID == studentID {
			out = append(out, f)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memCache is a CacheRepository storing JSON payloads.
type memCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	deleted []string
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string][]byte)}
}

func (c *memCache) Get(ctx context.Context, key string, dest interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *memCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func (c *memCache) Delete(ctx context.Context, keys ...string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
		c.deleted = append(c.deleted, k)
	}
	return nil
}

func (c *memCache) DeleteByPattern(ctx context.Context, pattern string) error {
	prefix := strings.TrimSuffix(pattern, "*")
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
			c.deleted = append(c.deleted, k)
		}
	}
	return nil
}

func (c *memCache) has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// recordingQueue captures enqueued jobs.
type recordingQueue struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (q *recordingQueue) Enqueue(job jobs.Job) error {
	if q.err != nil {
		return q.err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.jobs = append(q.jobs, job)
	return nil
}

func teacherActor(id string) Actor {
	return Actor{UserID: id, Role: models.RoleTeacher}
}

func adminActor() Actor {
	return Actor{UserID: "admin-1", Role: models.RoleAdmin}
}
