package merge

import (
	"time"

	"github.com/examfit/corpus/engine/domain"
)

// ExamCorpus merges the trees of incoming into existing and rebuilds the
// corpus metadata. A nil existing corpus is a cold start.
func ExamCorpus(existing *domain.ExamCorpus, incoming domain.ExamCorpus, now time.Time) (domain.ExamCorpus, Stats, error) {
	var prior domain.ExamCorpus
	if existing != nil {
		prior = *existing
	}
	exams, stats, err := Trees(prior.Exams, incoming.Exams, now)
	if err != nil {
		return domain.ExamCorpus{}, stats, err
	}
	if exams == nil {
		exams = []domain.Exam{}
	}

	autoUpdate := incoming.AutoUpdate
	if autoUpdate == nil {
		autoUpdate = prior.AutoUpdate
	}
	newSources := incoming.Sources
	if newSources == nil {
		newSources = []string{}
	}

	return domain.ExamCorpus{
		Exams:       exams,
		LastUpdated: domain.At(now),
		Sources:     unionStrings(prior.Sources, incoming.Sources),
		AutoUpdate:  autoUpdate,
		MergeStats: &domain.MergeStats{
			TotalExams:     stats.Totals.Exams,
			TotalSubjects:  stats.Totals.Subjects,
			TotalPapers:    stats.Totals.Papers,
			TotalQuestions: stats.Totals.Questions,
			MergedAt:       domain.Timestamp{Time: now},
			PreviousUpdate: prior.LastUpdated,
			NewSources:     newSources,
		},
	}, stats, nil
}
