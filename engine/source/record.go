package source

import (
	"strings"
	"time"

	"github.com/examfit/corpus/engine/domain"
)

// complete fills the fields scrapers commonly leave out so the record can
// pass validation. Fields already set are kept.
func complete(r domain.Record, name string, now time.Time) domain.Record {
	r.Title = strings.TrimSpace(r.Title)
	r.Content = strings.TrimSpace(r.Content)
	if r.Content == "" {
		r.Content = r.Title
	}
	if r.Source == "" {
		r.Source = name
	}
	if r.DatePublished.IsZero() {
		r.DatePublished = domain.Timestamp{Time: now}
	}
	if r.Category == "" {
		r.Category = domain.Categorize(r.Title + " " + r.Content)
	}
	if r.Importance == "" {
		r.Importance = domain.RateImportance(r.Title, r.Content)
	}
	if r.ID == "" {
		r.ID = domain.NewRecordID(r.Title+r.Content, now)
	}
	return r
}
