package models

import "time"

// FeedbackType classifies teacher feedback.
type FeedbackType string

const (
	FeedbackGeneral FeedbackType = "general"
	FeedbackPraise  FeedbackType = "praise"
	FeedbackWarn    FeedbackType = "warn"
)

// Feedback is a message from a teacher that the student can read.
type Feedback struct {
	ID        string       `db:"id" json:"id"`
	StudentID string       `db:"student_id" json:"student_id"`
	TeacherID *string      `db:"teacher_id" json:"teacher_id,omitempty"`
	Type      FeedbackType `db:"feedback_type" json:"feedback_type"`
	Message   string       `db:"message" json:"message"`
	Subject   string       `db:"subject" json:"subject"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
}

// PrivateNote is visible only to the teacher who wrote it.
type PrivateNote struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	TeacherID string    `db:"teacher_id" json:"teacher_id"`
	Title     string    `db:"title" json:"title"`
	NoteType  string    `db:"note_type" json:"note_type"`
	Content   string    `db:"content" json:"content"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ContactTarget is the recipient of an urgent contact.
type ContactTarget string

const (
	ContactStudent  ContactTarget = "student"
	ContactParent   ContactTarget = "parent"
	ContactGuardian ContactTarget = "guardian"
)

// ContactMethod is the channel of an urgent contact.
type ContactMethod string

const (
	ContactSystem ContactMethod = "system"
	ContactEmail  ContactMethod = "email"
	ContactCall   ContactMethod = "call"
	ContactOther  ContactMethod = "other"
)

// ContactStatus tracks dispatch of an urgent contact.
type ContactStatus string

const (
	ContactQueued    ContactStatus = "queued"
	ContactDelivered ContactStatus = "delivered"
	ContactLogged    ContactStatus = "logged"
	ContactFailed    ContactStatus = "failed"
)

// UrgentContact records an out-of-band message about a student.
type UrgentContact struct {
	ID          string        `db:"id" json:"id"`
	StudentID   string        `db:"student_id" json:"student_id"`
	TeacherID   *string       `db:"teacher_id" json:"teacher_id,omitempty"`
	Target      ContactTarget `db:"target" json:"target"`
	Method      ContactMethod `db:"method" json:"method"`
	Message     string        `db:"message" json:"message"`
	Status      ContactStatus `db:"status" json:"status"`
	DeliveredAt *time.Time    `db:"delivered_at" json:"delivered_at,omitempty"`
	CreatedAt   time.Time     `db:"created_at" json:"created_at"`
}

// Dispatched reports whether the method is delivered by the service rather than logged only.
func (m ContactMethod) Dispatched() bool {
	return m == ContactSystem || m == ContactEmail
}
