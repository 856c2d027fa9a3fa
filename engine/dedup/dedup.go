// Package dedup removes near-duplicate current-affairs records and exact
// duplicate questions.
package dedup

import (
	"log/slog"
	"strings"
	"unicode"

	"github.com/examfit/corpus/engine/domain"
)

// DefaultThreshold is the similarity above which two titles are treated as
// the same story.
const DefaultThreshold = 0.8

// LargeCorpusWarning is the retained-set size past which record dedup logs
// a warning. The pairwise comparison grows quadratically with it.
const LargeCorpusWarning = 2000

// Stats reports what a dedup pass did.
type Stats struct {
	Input   int `json:"input"`
	Kept    int `json:"kept"`
	Dropped int `json:"dropped"`
}

// Normalize lowercases s, drops every rune that is neither a word
// character nor whitespace, and collapses whitespace runs to one space.
func Normalize(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || unicode.IsSpace(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
	return strings.Join(strings.Fields(cleaned), " ")
}

// Similarity returns the Jaccard index of the whitespace token sets of a
// and b. It is 0 when either side has no tokens.
func Similarity(a, b string) float64 {
	return jaccard(tokenSet(a), tokenSet(b))
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Deduplicator runs greedy title dedup with a configurable threshold.
type Deduplicator struct {
	Threshold float64
	Logger    *slog.Logger
}

// New creates a Deduplicator. A threshold outside (0, 1] falls back to
// DefaultThreshold.
func New(threshold float64, logger *slog.Logger) *Deduplicator {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{Threshold: threshold, Logger: logger}
}

// Records keeps the first record of every group of similar titles. Input
// order is preserved and a record is dropped when its normalized title is
// more similar than the threshold to any record already kept.
func (d *Deduplicator) Records(records []domain.Record) ([]domain.Record, Stats) {
	stats := Stats{Input: len(records)}
	kept := make([]domain.Record, 0, len(records))
	keptTokens := make([]map[string]struct{}, 0, len(records))
	warned := false

	for _, r := range records {
		tokens := tokenSet(Normalize(r.Title))
		dup := false
		for _, other := range keptTokens {
			if jaccard(tokens, other) > d.Threshold {
				dup = true
				break
			}
		}
		if dup {
			stats.Dropped++
			continue
		}
		kept = append(kept, r)
		keptTokens = append(keptTokens, tokens)
		if !warned && len(kept) > LargeCorpusWarning {
			d.Logger.Warn("dedup: retained set is large, pairwise comparison slows down",
				"kept", len(kept), "input", len(records))
			warned = true
		}
	}
	stats.Kept = len(kept)
	return kept, stats
}

// Records dedups with a default Deduplicator at the given threshold.
func Records(records []domain.Record, threshold float64) ([]domain.Record, Stats) {
	return New(threshold, nil).Records(records)
}

// Questions removes questions whose identity hash was already seen. The
// first occurrence wins.
func Questions(questions []domain.Question) ([]domain.Question, Stats) {
	return QuestionsSeeded(questions, nil)
}

// QuestionsSeeded is Questions with a set of hashes that count as already
// seen. The set is extended with every question kept.
func QuestionsSeeded(questions []domain.Question, seen map[string]bool) ([]domain.Question, Stats) {
	if seen == nil {
		seen = make(map[string]bool, len(questions))
	}
	stats := Stats{Input: len(questions)}
	kept := make([]domain.Question, 0, len(questions))
	for _, q := range questions {
		h := domain.QuestionHash(q)
		if seen[h] {
			stats.Dropped++
			continue
		}
		seen[h] = true
		kept = append(kept, q)
	}
	stats.Kept = len(kept)
	return kept, stats
}
