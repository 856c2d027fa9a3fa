package migrate

import (
	"fmt"
	"strings"
	"time"
)

// Level compares the source count of one collection with the store.
type Level struct {
	Collection string `json:"collection"`
	Expected   int64  `json:"expected"`
	Actual     int64  `json:"actual"`
}

// Match reports whether the store holds exactly the source count.
func (l Level) Match() bool { return l.Expected == l.Actual }

// Report is the outcome of one migration attempt.
type Report struct {
	RunID      string           `json:"runId"`
	StartedAt  time.Time        `json:"startedAt"`
	FinishedAt time.Time        `json:"finishedAt"`
	Cleared    map[string]int64 `json:"cleared"`
	Batches    int              `json:"batches"`
	Written    int              `json:"written"`
	Rejected   int              `json:"rejected"`
	Levels     []Level          `json:"levels"`
	Success    bool             `json:"success"`
	Errors     []string         `json:"errors,omitempty"`
}

// Duration is the wall time of the attempt.
func (r Report) Duration() time.Duration { return r.FinishedAt.Sub(r.StartedAt) }

// Mismatches returns the levels whose counts differ.
func (r Report) Mismatches() []Level {
	var out []Level
	for _, l := range r.Levels {
		if !l.Match() {
			out = append(out, l)
		}
	}
	return out
}

// MismatchError reports that the store does not hold what was migrated.
// The migrated data is left in place.
type MismatchError struct {
	Levels []Level
}

func (e *MismatchError) Error() string {
	parts := make([]string, len(e.Levels))
	for i, l := range e.Levels {
		parts[i] = fmt.Sprintf("%s expected %d got %d", l.Collection, l.Expected, l.Actual)
	}
	return "migrate: count mismatch: " + strings.Join(parts, "; ")
}
