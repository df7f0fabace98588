package models

import "fmt"

// ImportRowError describes one rejected input row.
type ImportRowError struct {
	Row      int    `json:"row"`
	Username string `json:"username,omitempty"`
	Message  string `json:"message"`
}

func (e ImportRowError) String() string {
	if e.Username == "" {
		return fmt.Sprintf("row %d: %s", e.Row, e.Message)
	}
	return fmt.Sprintf("row %d (%s): %s", e.Row, e.Username, e.Message)
}

// ImportReport summarises a batch reconciliation run.
type ImportReport struct {
	Created int              `json:"created"`
	Updated int              `json:"updated"`
	Skipped int              `json:"skipped"`
	Errors  []ImportRowError `json:"errors"`
}

// Preview returns at most limit error lines, followed by "+K more" when truncated.
func (r *ImportReport) Preview(limit int) []string {
	if r == nil || len(r.Errors) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(r.Errors) {
		limit = len(r.Errors)
	}
	lines := make([]string, 0, limit+1)
	for _, e := range r.Errors[:limit] {
		lines = append(lines, e.String())
	}
	if rest := len(r.Errors) - limit; rest > 0 {
		lines = append(lines, fmt.Sprintf("+%d more", rest))
	}
	return lines
}
