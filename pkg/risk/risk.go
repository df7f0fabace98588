// Package risk derives student risk and health statuses from behavioural observations.
//
// Every policy is a pure function of its input slice and configuration: nothing here
// touches storage, and no evaluation returns an error. Empty input yields StatusUnknown.
package risk

import "time"

// Status is the categorical outcome of an evaluation.
type Status string

const (
	StatusUnknown  Status = "unknown"
	StatusNormal   Status = "normal"
	StatusGood     Status = "good"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// Color is the display colour paired with a status.
type Color string

const (
	ColorGray   Color = "gray"
	ColorGreen  Color = "green"
	ColorYellow Color = "yellow"
	ColorRed    Color = "red"
)

// ColorOf maps a status to its display colour.
func ColorOf(s Status) Color {
	switch s {
	case StatusNormal, StatusGood:
		return ColorGreen
	case StatusWarning:
		return ColorYellow
	case StatusCritical:
		return ColorRed
	default:
		return ColorGray
	}
}

// Mode selects the policy applied by Evaluator.Evaluate.
type Mode string

const (
	ModeLatest        Mode = "latest"
	ModeLatestStrict  Mode = "latest_strict"
	ModeAggregate     Mode = "aggregate"
	ModeComposite     Mode = "composite"
	ModeCompositeMean Mode = "composite_mean"
)

// Observation is the subset of an observation record the policies read.
type Observation struct {
	ID           string
	RecordDate   time.Time
	CreatedAt    time.Time
	Attendance   float64
	Quiz         float64
	Activity     float64
	HomeworkDone bool
	Subject      string
}

// Assessment is the result of one evaluation.
type Assessment struct {
	Status Status  `json:"status"`
	Color  Color   `json:"color"`
	Score  float64 `json:"score"`
	Detail string  `json:"detail"`
}

func unknown(detail string) Assessment {
	return Assessment{Status: StatusUnknown, Color: ColorGray, Detail: detail}
}

func assess(status Status, score float64, detail string) Assessment {
	return Assessment{Status: status, Color: ColorOf(status), Score: score, Detail: detail}
}

// Policy evaluates a set of observations.
type Policy interface {
	Evaluate(observations []Observation) Assessment
}

// Latest returns the most recent observation: greatest record date, then the later
// creation time, then the greater id. The boolean is false for empty input.
func Latest(observations []Observation) (Observation, bool) {
	if len(observations) == 0 {
		return Observation{}, false
	}
	best := observations[0]
	for _, o := range observations[1:] {
		if newer(o, best) {
			best = o
		}
	}
	return best, true
}

func newer(a, b Observation) bool {
	if !a.RecordDate.Equal(b.RecordDate) {
		return a.RecordDate.After(b.RecordDate)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
