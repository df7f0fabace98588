package models

import "time"

// Student is the profile attached to a STUDENT account.
type Student struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	ClassName string    `db:"class_name" json:"class_name"`
	Nickname  string    `db:"nickname" json:"nickname"`
	Phone     string    `db:"phone" json:"phone"`
	Bio       string    `db:"bio" json:"bio"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search    string
	ClassName string
	// TeacherID restricts the listing to students associated with that teacher.
	TeacherID string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// StudentDetail joins a student profile with its account fields.
type StudentDetail struct {
	Student
	Username string `db:"username" json:"username"`
	FullName string `db:"full_name" json:"full_name"`
	Email    string `db:"email" json:"email"`
}
