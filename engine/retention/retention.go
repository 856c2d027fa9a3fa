// Package retention bounds a current-affairs corpus by age and size.
package retention

import (
	"sort"
	"time"

	"github.com/examfit/corpus/engine/domain"
)

// Default bounds of the current-affairs corpus.
const (
	DefaultMin    = 50
	DefaultMax    = 200
	DefaultWindow = 6 * 7 * 24 * time.Hour
)

// Policy keeps every record published inside Window, tops the corpus up
// to Min with older records and never keeps more than Max.
type Policy struct {
	Min    int
	Max    int
	Window time.Duration
}

// DefaultPolicy returns the 50/200/six-weeks policy.
func DefaultPolicy() Policy {
	return Policy{Min: DefaultMin, Max: DefaultMax, Window: DefaultWindow}
}

// Cutoff returns the oldest publish time still inside the window.
func (p Policy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.Window)
}

// Apply filters records that are already sorted newest first. The result
// holds at least min(Min, len(records)) and at most Max records.
func (p Policy) Apply(records []domain.Record, now time.Time) []domain.Record {
	cutoff := p.Cutoff(now)
	limit := p.Max
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	kept := make([]domain.Record, 0, limit)
	for _, r := range records {
		if len(kept) >= limit {
			break
		}
		if !r.DatePublished.Before(cutoff) || len(kept) < p.Min {
			kept = append(kept, r)
		}
	}
	return kept
}

// WeeksOfData is the window length in whole weeks.
func (p Policy) WeeksOfData() int {
	return int(p.Window / (7 * 24 * time.Hour))
}

// SortNewestFirst orders records by publish time, newest first. Records
// with equal times keep their relative order.
func SortNewestFirst(records []domain.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].DatePublished.After(records[j].DatePublished.Time)
	})
}
