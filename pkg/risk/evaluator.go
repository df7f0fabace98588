package risk

// Evaluator dispatches to the named policies built from one Config.
type Evaluator struct {
	policies  map[Mode]Policy
	aggregate AggregatePolicy
}

// NewEvaluator builds the policy set. Zero or invalid fields fall back to DefaultConfig.
func NewEvaluator(cfg Config) *Evaluator {
	cfg = cfg.normalized()
	aggregate := AggregatePolicy{
		BaseUnit:         ParseScale(cfg.AttendanceScale),
		QuizMax:          cfg.QuizMax,
		AttendanceWeight: cfg.AttendanceWeight,
		HomeworkWeight:   cfg.HomeworkWeight,
		QuizWeight:       cfg.QuizWeight,
		GoodAtLeast:      cfg.HealthGoodAtLeast,
		WarningAtLeast:   cfg.HealthWarnAtLeast,
	}
	return &Evaluator{
		aggregate: aggregate,
		policies: map[Mode]Policy{
			ModeLatest:       LatestPolicy{CriticalBelow: cfg.CriticalBelow, WarningBelow: cfg.WarningBelow},
			ModeLatestStrict: LatestPolicy{CriticalBelow: cfg.CriticalBelow, WarningBelow: cfg.StrictWarningBelow},
			ModeAggregate:    aggregate,
			ModeComposite: CompositePolicy{
				SafeAtLeast:  cfg.CompositeSafeAtLeast,
				WatchAtLeast: cfg.CompositeWatchAtLeast,
			},
			ModeCompositeMean: CompositePolicy{
				Mean:         true,
				SafeAtLeast:  cfg.CompositeSafeAtLeast,
				WatchAtLeast: cfg.CompositeWatchAtLeast,
			},
		},
	}
}

// Evaluate applies the policy registered for mode. Unknown modes degrade to StatusUnknown.
func (e *Evaluator) Evaluate(mode Mode, observations []Observation) Assessment {
	policy, ok := e.policies[mode]
	if !ok {
		return unknown("unsupported mode " + string(mode))
	}
	return policy.Evaluate(observations)
}

// SubjectHealth returns per-subject aggregate health, weakest first.
func (e *Evaluator) SubjectHealth(observations []Observation) []SubjectHealth {
	return e.aggregate.SubjectHealth(observations)
}

// ValidMode reports whether mode names a registered policy.
func (e *Evaluator) ValidMode(mode Mode) bool {
	_, ok := e.policies[mode]
	return ok
}
