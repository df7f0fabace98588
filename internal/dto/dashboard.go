package dto

import (
	"time"

	"github.com/noah-isme/smartgrade-api/internal/models"
	"github.com/noah-isme/smartgrade-api/pkg/risk"
)

// RosterEntry is one student line of the teacher roster.
type RosterEntry struct {
	models.StudentDetail
	Status         risk.Status `json:"status"`
	Color          risk.Color  `json:"color"`
	Total          float64     `json:"total"`
	Summary        string      `json:"summary"`
	LastRecordDate *time.Time  `json:"last_record_date,omitempty"`
}

// StudentDetailResponse is the teacher view of a single student.
type StudentDetailResponse struct {
	Student       models.StudentDetail `json:"student"`
	Observations  []models.Observation `json:"observations"`
	RiskMode      risk.Mode            `json:"risk_mode"`
	Risk          risk.Assessment      `json:"risk"`
	Health        risk.Assessment      `json:"health"`
	SubjectHealth []risk.SubjectHealth `json:"subject_health"`
	Feedback      []models.Feedback    `json:"feedback"`
}

// TeacherDashboardResponse summarises a teacher's roster.
type TeacherDashboardResponse struct {
	TeacherID    string              `json:"teacher_id"`
	RosterSize   int                 `json:"roster_size"`
	StatusCounts map[risk.Status]int `json:"status_counts"`
	AtRisk       []RosterEntry       `json:"at_risk"`
	GeneratedAt  time.Time           `json:"generated_at"`
}

// StudentDashboardResponse is the self view of a student.
type StudentDashboardResponse struct {
	Student       models.StudentDetail `json:"student"`
	Recent        []models.Observation `json:"recent"`
	SelfStatus    risk.Assessment      `json:"self_status"`
	RiskMode      risk.Mode            `json:"risk_mode"`
	Risk          risk.Assessment      `json:"risk"`
	SubjectHealth []risk.SubjectHealth `json:"subject_health"`
	Feedback      []models.Feedback    `json:"feedback"`
	GeneratedAt   time.Time            `json:"generated_at"`
}
