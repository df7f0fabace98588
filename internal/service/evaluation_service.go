package service

import (
	"fmt"
	"strings"

	"github.com/noah-isme/smartgrade-api/internal/models"
	appErrors "github.com/noah-isme/smartgrade-api/pkg/errors"
	"github.com/noah-isme/smartgrade-api/pkg/risk"
)

// EvaluationService adapts stored observations to the risk evaluator.
type EvaluationService struct {
	evaluator *risk.Evaluator
}

// NewEvaluationService builds the evaluator from configured thresholds.
func NewEvaluationService(cfg risk.Config) *EvaluationService {
	return &EvaluationService{evaluator: risk.NewEvaluator(cfg)}
}

// ResolveMode turns a client supplied risk_mode into a registered mode; blank selects fallback.
func (s *EvaluationService) ResolveMode(raw string, fallback risk.Mode) (risk.Mode, error) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return fallback, nil
	}
	mode := risk.Mode(raw)
	if !s.evaluator.ValidMode(mode) {
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported risk_mode %q", raw))
	}
	return mode, nil
}

// Assess evaluates observations under mode.
func (s *EvaluationService) Assess(mode risk.Mode, observations []models.Observation) risk.Assessment {
	return s.evaluator.Evaluate(mode, toRiskObservations(observations))
}

// SubjectHealth returns per-subject aggregate health, weakest first.
func (s *EvaluationService) SubjectHealth(observations []models.Observation) []risk.SubjectHealth {
	return s.evaluator.SubjectHealth(toRiskObservations(observations))
}

func toRiskObservations(observations []models.Observation) []risk.Observation {
	out := make([]risk.Observation, 0, len(observations))
	for _, o := range observations {
		out = append(out, risk.Observation{
			ID:           o.ID,
			RecordDate:   o.RecordDate,
			CreatedAt:    o.CreatedAt,
			Attendance:   float64(o.AttendanceScore),
			Quiz:         o.QuizScore,
			Activity:     float64(o.ActivityScore),
			HomeworkDone: o.HomeworkDone,
			Subject:      o.Subject,
		})
	}
	return out
}
