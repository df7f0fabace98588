package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/smartgrade-api/internal/dto"
	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/risk"
)

const detailFeedbackLimit = 20

type studentRepository interface {
	List(ctx context.Context, filter models.StudentFilter) ([]models.StudentDetail, int, error)
	FindByID(ctx context.Context, id string) (*models.StudentDetail, error)
	Update(ctx context.Context, student *models.Student) error
	Delete(ctx context.Context, id string) error
	AddTeacher(ctx context.Context, studentID, teacherID string) error
	IsTaughtBy(ctx context.Context, studentID, teacherID string) (bool, error)
}

type studentAccountStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type observationHistoryReader interface {
	ListByStudent(ctx context.Context, studentID, teacherID string, limit int) ([]models.Observation, error)
	LatestByStudents(ctx context.Context, studentIDs []string) (map[string]models.Observation, error)
}

type feedbackReader interface {
	ListByStudent(ctx context.Context, studentID string, limit int) ([]models.Feedback, error)
}

// CreateStudentRequest holds payload for creating students.
type CreateStudentRequest struct {
	Username  string `json:"username" validate:"required,min=3,max=64"`
	FullName  string `json:"full_name" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	ClassName string `json:"class_name" validate:"omitempty,max=32"`
}

// UpdateStudentRequest holds payload for updating students.
type UpdateStudentRequest struct {
	FullName  string `json:"full_name" validate:"required"`
	Email     string `json:"email" validate:"omitempty,email"`
	ClassName string `json:"class_name" validate:"omitempty,max=32"`
	Nickname  string `json:"nickname" validate:"omitempty,max=64"`
	Phone     string `json:"phone" validate:"omitempty,max=32"`
	Bio       string `json:"bio"`
}

// StudentService handles student use-cases.
type StudentService struct {
	repo         studentRepository
	users        studentAccountStore
	identities   studentProvisioner
	observations observationHistoryReader
	feedback     feedbackReader
	evaluator    *EvaluationService
	cache        *CacheService
	validator    *validator.Validate
	logger       *zap.Logger
}

// StudentServiceParams groups constructor dependencies.
type StudentServiceParams struct {
	Repo         studentRepository
	Users        studentAccountStore
	Identities   studentProvisioner
	Observations observationHistoryReader
	Feedback     feedbackReader
	Evaluator    *EvaluationService
	Cache        *CacheService
	Validator    *validator.Validate
	Logger       *zap.Logger
}

// NewStudentService constructs the student service.
func NewStudentService(params StudentServiceParams) *StudentService {
	validate := params.Validator
	if validate == nil {
		validate = validator.New()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	evaluator := params.Evaluator
	if evaluator == nil {
		evaluator = NewEvaluationService(risk.DefaultConfig())
	}
	return &StudentService{
		repo:         params.Repo,
		users:        params.Users,
		identities:   params.Identities,
		observations: params.Observations,
		feedback:     params.Feedback,
		evaluator:    evaluator,
		cache:        params.Cache,
		validator:    validate,
		logger:       logger,
	}
}

// Roster lists the students visible to actor, each with the composite status of its latest observation.
func (s *StudentService) Roster(ctx context.Context, filter models.StudentFilter, actor Actor) ([]dto.RosterEntry, *models.Pagination, error) {
	if !actor.IsAdmin() {
		filter.TeacherID = actor.UserID
	}
	students, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	entries, err := s.rosterEntries(ctx, students)
	if err != nil {
		return nil, nil, err
	}
	return entries, pagination(filter.Page, filter.PageSize, total, 50), nil
}

func (s *StudentService) rosterEntries(ctx context.Context, students []models.StudentDetail) ([]dto.RosterEntry, error) {
	ids := make([]string, 0, len(students))
	for _, st := range students {
		ids = append(ids, st.ID)
	}
	latest, err := s.observations.LatestByStudents(ctx, ids)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load latest observations")
	}
	entries := make([]dto.RosterEntry, 0, len(students))
	for _, st := range students {
		entry := dto.RosterEntry{StudentDetail: st}
		var obs []models.Observation
		if o, ok := latest[st.ID]; ok {
			obs = append(obs, o)
			date := o.RecordDate
			entry.LastRecordDate = &date
		}
		assessment := s.evaluator.Assess(risk.ModeComposite, obs)
		entry.Status = assessment.Status
		entry.Color = assessment.Color
		entry.Total = assessment.Score
		entry.Summary = assessment.Detail
		entries = append(entries, entry)
	}
	return entries, nil
}

// DetailOptions narrows the student detail view.
type DetailOptions struct {
	// MineOnly limits observations to those recorded by the acting teacher.
	MineOnly bool
	// RiskMode picks the policy behind Risk; blank means latest.
	RiskMode string
}

// Detail returns a student with observations and derived statuses.
func (s *StudentService) Detail(ctx context.Context, id string, opts DetailOptions, actor Actor) (*dto.StudentDetailResponse, error) {
	mode, err := s.evaluator.ResolveMode(opts.RiskMode, risk.ModeLatest)
	if err != nil {
		return nil, err
	}
	student, err := authorizeStudent(ctx, s.repo, id, actor)
	if err != nil {
		return nil, err
	}
	teacherID := ""
	if opts.MineOnly {
		teacherID = actor.UserID
	}
	observations, err := s.observations.ListByStudent(ctx, id, teacherID, 0)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load observations")
	}
	feedback, err := s.feedback.ListByStudent(ctx, id, detailFeedbackLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load feedback")
	}
	return &dto.StudentDetailResponse{
		Student:       *student,
		Observations:  observations,
		RiskMode:      mode,
		Risk:          s.evaluator.Assess(mode, observations),
		Health:        s.evaluator.Assess(risk.ModeAggregate, observations),
		SubjectHealth: s.evaluator.SubjectHealth(observations),
		Feedback:      feedback,
	}, nil
}

// Create provisions a student account and links it to the acting teacher.
func (s *StudentService) Create(ctx context.Context, req CreateStudentRequest, actor Actor) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	result, err := s.identities.ProvisionStudent(ctx, ProvisionRequest{
		Username:  req.Username,
		FullName:  req.FullName,
		ClassName: req.ClassName,
		ActorID:   actor.UserID,
	})
	if err != nil {
		return nil, err
	}
	if !result.AccountCreated {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username already exists")
	}
	if req.Email != "" {
		result.User.Email = strings.ToLower(req.Email)
		if err := s.users.Update(ctx, result.User); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update account")
		}
	}
	if actor.Role == models.RoleTeacher {
		if err := s.repo.AddTeacher(ctx, result.Student.ID, actor.UserID); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to link student")
		}
		s.cache.ForgetTeachers(ctx, actor.UserID)
	}
	detail := *result.Student
	detail.Email = result.User.Email
	return &detail, nil
}

// Update modifies a student's profile and account name.
func (s *StudentService) Update(ctx context.Context, id string, req UpdateStudentRequest, actor Actor) (*models.StudentDetail, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	detail, err := authorizeStudent(ctx, s.repo, id, actor)
	if err != nil {
		return nil, err
	}
	user, err := s.users.FindByID(ctx, detail.UserID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	user.FullName = req.FullName
	user.Email = strings.ToLower(req.Email)
	if err := s.users.Update(ctx, user); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update account")
	}

	student := detail.Student
	student.ClassName = req.ClassName
	student.Nickname = req.Nickname
	student.Phone = req.Phone
	student.Bio = req.Bio
	if err := s.repo.Update(ctx, &student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update student")
	}
	s.cache.ForgetStudents(ctx, id)

	updated := models.StudentDetail{Student: student, Username: user.Username, FullName: user.FullName, Email: user.Email}
	return &updated, nil
}

// Delete removes a student profile together with its observations.
func (s *StudentService) Delete(ctx context.Context, id string, actor Actor) error {
	detail, err := authorizeStudent(ctx, s.repo, id, actor)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete student")
	}

	old, _ := json.Marshal(detail)
	actorID := actor.UserID
	entry := &models.AuditLog{
		UserID:     &actorID,
		Action:     models.AuditActionStudentDelete,
		Resource:   "student",
		ResourceID: &detail.ID,
		OldValues:  old,
		IPAddress:  actor.IP,
		UserAgent:  actor.UserAgent,
	}
	if err := s.users.CreateAuditLog(ctx, entry); err != nil {
		s.logger.Warn("failed to write student delete audit log", zap.String("student_id", id), zap.Error(err))
	}
	s.cache.ForgetStudents(ctx, id)
	s.cache.ForgetAllTeachers(ctx)
	return nil
}

// rosterPageSize bounds how many students are evaluated per round trip.
const rosterPageSize = 200

// RosterAll returns every roster entry visible to teacherID (all students when empty),
// optionally narrowed to one class.
func (s *StudentService) RosterAll(ctx context.Context, teacherID, className string) ([]dto.RosterEntry, error) {
	var all []dto.RosterEntry
	err := s.RosterPages(ctx, teacherID, className, func(entries []dto.RosterEntry, _, _ int) error {
		all = append(all, entries...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// RosterPages evaluates the same roster as RosterAll one page at a time. visit gets
// each page together with the number of students evaluated so far and the total.
func (s *StudentService) RosterPages(ctx context.Context, teacherID, className string, visit func(entries []dto.RosterEntry, done, total int) error) error {
	done := 0
	for page := 1; ; page++ {
		students, total, err := s.repo.List(ctx, models.StudentFilter{
			ClassName: className,
			TeacherID: teacherID,
			Page:      page,
			PageSize:  rosterPageSize,
		})
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
		}
		entries, err := s.rosterEntries(ctx, students)
		if err != nil {
			return err
		}
		done += len(entries)
		if done > total {
			total = done
		}
		if err := visit(entries, done, total); err != nil {
			return err
		}
		if len(students) < rosterPageSize || done >= total {
			return nil
		}
	}
}
