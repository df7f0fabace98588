package risk

import (
	"strconv"
	"strings"
)

// Attendance scale names accepted by ParseScale.
const (
	ScaleAuto    = "auto"
	ScalePercent = "percent"
)

// Config collects every threshold of the three policies.
type Config struct {
	CriticalBelow      float64
	WarningBelow       float64
	StrictWarningBelow float64

	// AttendanceScale is ScaleAuto, ScalePercent or a positive number used as a fixed base unit.
	AttendanceScale   string
	QuizMax           float64
	AttendanceWeight  float64
	HomeworkWeight    float64
	QuizWeight        float64
	HealthGoodAtLeast float64
	HealthWarnAtLeast float64

	CompositeSafeAtLeast  float64
	CompositeWatchAtLeast float64
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		CriticalBelow:         50,
		WarningBelow:          60,
		StrictWarningBelow:    70,
		AttendanceScale:       ScaleAuto,
		QuizMax:               20,
		AttendanceWeight:      0.4,
		HomeworkWeight:        0.3,
		QuizWeight:            0.3,
		HealthGoodAtLeast:     70,
		HealthWarnAtLeast:     50,
		CompositeSafeAtLeast:  80,
		CompositeWatchAtLeast: 60,
	}
}

// normalized fills zero or invalid fields from DefaultConfig.
func (c Config) normalized() Config {
	d := DefaultConfig()
	if c.CriticalBelow <= 0 {
		c.CriticalBelow = d.CriticalBelow
	}
	if c.WarningBelow <= 0 {
		c.WarningBelow = d.WarningBelow
	}
	if c.StrictWarningBelow <= 0 {
		c.StrictWarningBelow = d.StrictWarningBelow
	}
	if strings.TrimSpace(c.AttendanceScale) == "" {
		c.AttendanceScale = d.AttendanceScale
	}
	if c.QuizMax <= 0 {
		c.QuizMax = d.QuizMax
	}
	if c.AttendanceWeight < 0 || c.HomeworkWeight < 0 || c.QuizWeight < 0 ||
		c.AttendanceWeight+c.HomeworkWeight+c.QuizWeight == 0 {
		c.AttendanceWeight, c.HomeworkWeight, c.QuizWeight = d.AttendanceWeight, d.HomeworkWeight, d.QuizWeight
	}
	if c.HealthGoodAtLeast <= 0 {
		c.HealthGoodAtLeast = d.HealthGoodAtLeast
	}
	if c.HealthWarnAtLeast <= 0 {
		c.HealthWarnAtLeast = d.HealthWarnAtLeast
	}
	if c.CompositeSafeAtLeast <= 0 {
		c.CompositeSafeAtLeast = d.CompositeSafeAtLeast
	}
	if c.CompositeWatchAtLeast <= 0 {
		c.CompositeWatchAtLeast = d.CompositeWatchAtLeast
	}
	return c
}

// ParseScale converts an AttendanceScale value into a fixed base unit.
// Zero means the base unit is inferred from the data.
func ParseScale(raw string) float64 {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", ScaleAuto:
		return 0
	case ScalePercent:
		return 100
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}
