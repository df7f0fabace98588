package models

import "time"

// Department identifies the subject area a teacher records observations for.
type Department string

const (
	DepartmentMath    Department = "math"
	DepartmentScience Department = "sci"
	DepartmentEnglish Department = "eng"
	DepartmentThai    Department = "thai"
	DepartmentSocial  Department = "soc"
	DepartmentArt     Department = "art"
	DepartmentPE      Department = "pe"
	DepartmentWork    Department = "work"
)

var departmentSubjects = map[Department]string{
	DepartmentMath:    "Mathematics",
	DepartmentScience: "Science",
	DepartmentEnglish: "English",
	DepartmentThai:    "Thai",
	DepartmentSocial:  "Social Studies",
	DepartmentArt:     "Art",
	DepartmentPE:      "Physical Education",
	DepartmentWork:    "Career & Technology",
}

// Subject returns the display subject for a department, empty when unknown.
func (d Department) Subject() string {
	return departmentSubjects[d]
}

// Valid reports whether d is a known department.
func (d Department) Valid() bool {
	_, ok := departmentSubjects[d]
	return ok
}

// Teacher is the profile attached to a TEACHER account.
type Teacher struct {
	UserID     string     `db:"user_id" json:"user_id"`
	Department Department `db:"department" json:"department"`
	Position   string     `db:"position" json:"position"`
	Phone      string     `db:"phone" json:"phone"`
	LineID     string     `db:"line_id" json:"line_id"`
	Nickname   string     `db:"nickname" json:"nickname"`
	Bio        string     `db:"bio" json:"bio"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
}
