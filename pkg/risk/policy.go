package risk

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// DefaultSubject labels observations recorded without a subject.
const DefaultSubject = "General"

// LatestPolicy classifies a student by the attendance of the most recent observation.
type LatestPolicy struct {
	CriticalBelow float64
	WarningBelow  float64
}

// Evaluate implements Policy.
func (p LatestPolicy) Evaluate(observations []Observation) Assessment {
	latest, ok := Latest(observations)
	if !ok {
		return unknown("no observations")
	}
	a := latest.Attendance
	detail := fmt.Sprintf("attendance %.0f on %s", a, latest.RecordDate.Format("2006-01-02"))
	switch {
	case a < p.CriticalBelow:
		return assess(StatusCritical, a, detail)
	case a < p.WarningBelow:
		return assess(StatusWarning, a, detail)
	default:
		return assess(StatusNormal, a, detail)
	}
}

// Ratios holds the three component percentages of a health score, each in [0,100].
type Ratios struct {
	Attendance float64 `json:"attendance"`
	Homework   float64 `json:"homework"`
	Quiz       float64 `json:"quiz"`
}

// SubjectHealth is the aggregate health of one subject group.
type SubjectHealth struct {
	Subject      string  `json:"subject"`
	Observations int     `json:"observations"`
	Ratios       Ratios  `json:"ratios"`
	Score        float64 `json:"score"`
	Status       Status  `json:"status"`
	Color        Color   `json:"color"`
}

// AggregatePolicy blends attendance, homework and quiz ratios into a 0-100 health score.
type AggregatePolicy struct {
	// BaseUnit fixes the attendance denominator; zero infers it from the data.
	BaseUnit         float64
	QuizMax          float64
	AttendanceWeight float64
	HomeworkWeight   float64
	QuizWeight       float64
	GoodAtLeast      float64
	WarningAtLeast   float64
}

// Evaluate implements Policy over all observations as one group.
func (p AggregatePolicy) Evaluate(observations []Observation) Assessment {
	if len(observations) == 0 {
		return unknown("no observations")
	}
	r := p.Ratios(observations)
	score := p.Score(r)
	detail := fmt.Sprintf("attendance %.1f%%, homework %.1f%%, quiz %.1f%%", r.Attendance, r.Homework, r.Quiz)
	return assess(p.classify(score), score, detail)
}

// Ratios computes the component percentages. Empty input yields all zeros.
func (p AggregatePolicy) Ratios(observations []Observation) Ratios {
	n := float64(len(observations))
	if n == 0 {
		return Ratios{}
	}
	var attendance, quiz, maxAttendance float64
	var done int
	for _, o := range observations {
		attendance += o.Attendance
		quiz += o.Quiz
		if o.Attendance > maxAttendance {
			maxAttendance = o.Attendance
		}
		if o.HomeworkDone {
			done++
		}
	}

	base := p.BaseUnit
	if base <= 0 {
		base = InferBaseUnit(maxAttendance)
	}
	quizMax := p.QuizMax
	if quizMax <= 0 {
		quizMax = DefaultConfig().QuizMax
	}

	return Ratios{
		Attendance: clampPercent(attendance / (n * base) * 100),
		Homework:   clampPercent(float64(done) / n * 100),
		Quiz:       clampPercent(quiz / (n * quizMax) * 100),
	}
}

// Score combines ratios into a rounded health score in [0,100].
func (p AggregatePolicy) Score(r Ratios) float64 {
	raw := p.AttendanceWeight*r.Attendance + p.HomeworkWeight*r.Homework + p.QuizWeight*r.Quiz
	return clampPercent(math.Round(raw))
}

func (p AggregatePolicy) classify(score float64) Status {
	switch {
	case score >= p.GoodAtLeast:
		return StatusGood
	case score >= p.WarningAtLeast:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// SubjectHealth groups observations by subject and returns one entry per subject,
// sorted ascending by score so the weakest subject comes first.
func (p AggregatePolicy) SubjectHealth(observations []Observation) []SubjectHealth {
	groups := make(map[string][]Observation)
	for _, o := range observations {
		subject := strings.TrimSpace(o.Subject)
		if subject == "" {
			subject = DefaultSubject
		}
		groups[subject] = append(groups[subject], o)
	}

	result := make([]SubjectHealth, 0, len(groups))
	for subject, group := range groups {
		r := p.Ratios(group)
		score := p.Score(r)
		status := p.classify(score)
		result = append(result, SubjectHealth{
			Subject:      subject,
			Observations: len(group),
			Ratios:       r,
			Score:        score,
			Status:       status,
			Color:        ColorOf(status),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Score != result[j].Score {
			return result[i].Score < result[j].Score
		}
		return result[i].Subject < result[j].Subject
	})
	return result
}

// InferBaseUnit picks the attendance denominator from the largest observed value:
// 2 for per-session point counts, 10 for ten-point scales, otherwise the maximum itself.
func InferBaseUnit(maxObserved float64) float64 {
	switch {
	case maxObserved <= 2:
		return 2
	case maxObserved <= 10:
		return 10
	default:
		return maxObserved
	}
}

// CompositePolicy sums (or averages) attendance, quiz and activity of the latest observation.
type CompositePolicy struct {
	Mean         bool
	SafeAtLeast  float64
	WatchAtLeast float64
}

// Evaluate implements Policy.
func (p CompositePolicy) Evaluate(observations []Observation) Assessment {
	latest, ok := Latest(observations)
	if !ok {
		return unknown("no data")
	}
	total := latest.Attendance + latest.Quiz + latest.Activity
	if p.Mean {
		total = math.Round(total/3*100) / 100
	}
	switch {
	case total >= p.SafeAtLeast && latest.HomeworkDone:
		return assess(StatusGood, total, "likely to pass")
	case total >= p.WatchAtLeast:
		return assess(StatusWarning, total, "keep an eye on progress")
	default:
		return assess(StatusCritical, total, "needs support")
	}
}

func clampPercent(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
