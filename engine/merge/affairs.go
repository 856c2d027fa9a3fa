package merge

import (
	"log/slog"
	"sort"
	"time"

	"github.com/examfit/corpus/engine/dedup"
	"github.com/examfit/corpus/engine/domain"
	"github.com/examfit/corpus/engine/retention"
)

// Cadence selects which update block an affairs merge writes.
type Cadence string

const (
	CadenceDaily  Cadence = "daily"
	CadenceWeekly Cadence = "weekly"
)

// Update frequency labels written into the corpus metadata.
const (
	DailyFrequency  = "Daily - Every day at 7:30 AM IST"
	WeeklyFrequency = "Weekly - Every Sunday"
)

// AffairsOptions tunes a current-affairs merge.
type AffairsOptions struct {
	Policy    retention.Policy
	Threshold float64
	Cadence   Cadence
	Logger    *slog.Logger
}

// AffairsStats describes one current-affairs merge.
type AffairsStats struct {
	Incoming int         `json:"incoming"`
	Existing int         `json:"existing"`
	Dedup    dedup.Stats `json:"dedup"`
	Retained int         `json:"retained"`
}

// Affairs merges incoming records into the existing corpus. New records
// precede existing ones in the dedup pass, so a re-scraped story keeps its
// fresh copy. The result is sorted newest first and bounded by the
// retention policy. A nil existing corpus is a cold start.
func Affairs(existing *domain.AffairsCorpus, incoming []domain.Record, sources []string, opts AffairsOptions, now time.Time) (domain.AffairsCorpus, AffairsStats) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Policy == (retention.Policy{}) {
		opts.Policy = retention.DefaultPolicy()
	}

	var prior []domain.Record
	var out domain.AffairsCorpus
	if existing != nil {
		prior = existing.CurrentAffairs
		out.Sources = existing.Sources
		out.Categories = existing.Categories
		out.DailyUpdate = existing.DailyUpdate
		out.WeeklyUpdate = existing.WeeklyUpdate
	}
	stats := AffairsStats{Incoming: len(incoming), Existing: len(prior)}

	all := make([]domain.Record, 0, len(incoming)+len(prior))
	all = append(all, incoming...)
	all = append(all, prior...)

	unique, ds := dedup.New(opts.Threshold, logger).Records(all)
	stats.Dedup = ds
	retention.SortNewestFirst(unique)
	kept := opts.Policy.Apply(unique, now)
	stats.Retained = len(kept)

	out.CurrentAffairs = kept
	out.LastUpdated = domain.Timestamp{Time: now}
	out.Sources = unionStrings(out.Sources, sources)
	cats := make([]domain.Category, 0, len(kept))
	for _, r := range kept {
		cats = append(cats, r.Category)
	}
	out.Categories = unionCategories(out.Categories, cats)

	info := &domain.UpdateInfo{
		TotalAffairs: len(kept),
		WeeksOfData:  opts.Policy.WeeksOfData(),
	}
	switch opts.Cadence {
	case CadenceWeekly:
		info.LastWeeklyUpdate = domain.At(now)
		info.UpdateFrequency = WeeklyFrequency
		out.WeeklyUpdate = info
	default:
		info.LastDailyUpdate = domain.At(now)
		info.UpdateFrequency = DailyFrequency
		out.DailyUpdate = info
	}

	logger.Info("merge: current affairs merged",
		"incoming", stats.Incoming,
		"existing", stats.Existing,
		"duplicates", ds.Dropped,
		"retained", stats.Retained,
	)
	return out, stats
}

func unionStrings(a, b []string) []string {
	set := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string(nil), a...), b...) {
		if s == "" || set[s] {
			continue
		}
		set[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func unionCategories(a, b []domain.Category) []domain.Category {
	strs := make([]string, 0, len(a)+len(b))
	for _, c := range a {
		strs = append(strs, string(c))
	}
	for _, c := range b {
		strs = append(strs, string(c))
	}
	merged := unionStrings(strs, nil)
	out := make([]domain.Category, len(merged))
	for i, s := range merged {
		out[i] = domain.Category(s)
	}
	return out
}
