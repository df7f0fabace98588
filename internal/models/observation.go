package models

import "time"

// Observation is one dated behavioural record for a student, written by at most one teacher.
type Observation struct {
	ID              string    `db:"id" json:"id"`
	StudentID       string    `db:"student_id" json:"student_id"`
	TeacherID       *string   `db:"teacher_id" json:"teacher_id,omitempty"`
	RecordDate      time.Time `db:"record_date" json:"record_date"`
	AttendanceScore int       `db:"attendance_score" json:"attendance_score"`
	QuizScore       float64   `db:"quiz_score" json:"quiz_score"`
	HomeworkDone    bool      `db:"homework_done" json:"homework_done"`
	ActivityScore   int       `db:"activity_score" json:"activity_score"`
	Subject         string    `db:"subject" json:"subject"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// ObservationFilter narrows observation listings.
type ObservationFilter struct {
	StudentID string
	TeacherID string
	Subject   string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
}
