package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/examfit/corpus/engine/dedup"
	"github.com/examfit/corpus/engine/domain"
	"github.com/examfit/corpus/engine/merge"
	"github.com/examfit/corpus/engine/snapshot"
	"github.com/examfit/corpus/engine/source"
	"github.com/examfit/corpus/pkg/fn"
	"github.com/examfit/corpus/pkg/metrics"
)

// ExamsConfig configures an exam corpus update.
type ExamsConfig struct {
	Path  string
	Fetch FetchConfig
	// Imports are exam snapshot files merged in before the fetched questions.
	Imports []string
	Rules   merge.Rules
}

// ExamsResult summarises an exam corpus update.
type ExamsResult struct {
	Path     string        `json:"path"`
	Backup   string        `json:"backup,omitempty"`
	Sources  []string      `json:"sources"`
	Failed   []string      `json:"failed,omitempty"`
	Rejected int           `json:"rejected"`
	Stats    merge.Stats   `json:"stats"`
	Totals   domain.Counts `json:"totals"`
	Skipped  bool          `json:"skipped"`
}

// ExamsEvent is published on SubjectExamsUpdated.
type ExamsEvent struct {
	Path           string        `json:"path"`
	Totals         domain.Counts `json:"totals"`
	QuestionsAdded int           `json:"questionsAdded"`
	Sources        []string      `json:"sources"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

type examsRun struct {
	cfg       ExamsConfig
	now       time.Time
	existing  *domain.ExamCorpus
	imports   []domain.ExamCorpus
	questions []domain.Question
	merged    domain.ExamCorpus
	result    ExamsResult
}

// RunExams merges imported snapshots and freshly scraped questions into the
// exam snapshot at cfg.Path. Scraped questions are filed into monthly
// papers by cfg.Rules.
func RunExams(ctx context.Context, deps Deps, cfg ExamsConfig) (ExamsResult, error) {
	deps = deps.withDefaults()
	log := deps.Logger.With("job", "exams")
	start := time.Now()
	defer deps.Metrics.observe(start)
	if len(cfg.Rules.Rules) == 0 && cfg.Rules.Fallback == (merge.Placement{}) {
		cfg.Rules = merge.DefaultRules()
	}

	pipeline := fn.Pipeline(
		logged("exams.load", log, loadExams),
		logged("exams.fetch", log, fetchExams(deps)),
		logged("exams.validate", log, validateQuestions(deps)),
		logged("exams.merge", log, mergeExams(deps)),
		logged("exams.save", log, saveExams),
		logged("exams.publish", log, publishExams(deps)),
	)
	run := &examsRun{cfg: cfg, now: deps.Now(), result: ExamsResult{Path: cfg.Path}}
	if _, err := pipeline(ctx, run).Unwrap(); err != nil {
		return run.result, err
	}
	if run.result.Skipped {
		log.Info("exams: nothing new, snapshot left untouched", "path", cfg.Path)
	} else {
		log.Info("exams: updated", "path", cfg.Path,
			"questions_added", run.result.Stats.QuestionsAdded,
			"duplicates", run.result.Stats.DuplicatesAbsorbed,
			"questions", run.result.Totals.Questions,
			"backup", run.result.Backup)
	}
	return run.result, nil
}

func loadExams(_ context.Context, run *examsRun) fn.Result[*examsRun] {
	var c domain.ExamCorpus
	ok, err := snapshot.Load(run.cfg.Path, &c)
	if err != nil {
		return fn.Err[*examsRun](err)
	}
	if ok {
		run.existing = &c
	}
	for _, path := range run.cfg.Imports {
		var imp domain.ExamCorpus
		ok, err := snapshot.Load(path, &imp)
		if err != nil {
			return fn.Err[*examsRun](err)
		}
		if !ok {
			return fn.Err[*examsRun](fmt.Errorf("exams: import %s: file not found", path))
		}
		run.imports = append(run.imports, imp)
	}
	return fn.Ok(run)
}

func fetchExams(deps Deps) fn.Stage[*examsRun, *examsRun] {
	return func(ctx context.Context, run *examsRun) fn.Result[*examsRun] {
		outcomes, err := fetch(ctx, deps, run.cfg.Fetch)
		for _, o := range source.Failed(outcomes) {
			run.result.Failed = append(run.result.Failed, o.Source)
		}
		if err != nil {
			return fn.Err[*examsRun](fmt.Errorf("exams: %w", err))
		}
		p, names := source.Merge(outcomes)
		run.questions = p.Questions
		run.result.Sources = names
		deps.Metrics.add(func(m *Metrics) *metrics.Counter { return m.RecordsFetched }, len(p.Questions))
		return fn.Ok(run)
	}
}

// validateQuestions drops invalid questions and collapses repeats so the
// organised tree passes the merger's sibling checks.
func validateQuestions(deps Deps) fn.Stage[*examsRun, *examsRun] {
	return func(_ context.Context, run *examsRun) fn.Result[*examsRun] {
		var (
			valid []domain.Question
			errs  domain.ItemErrors
		)
		for i, q := range run.questions {
			if err := domain.ValidateQuestion(q); err != nil {
				var ve *domain.ValidationError
				if errors.As(err, &ve) {
					ve.Path = fmt.Sprintf("questions[%d]", i)
				}
				errs.Add(err)
				continue
			}
			valid = append(valid, q)
		}
		if errs.Len() > 0 {
			run.result.Rejected = errs.Len()
			deps.Logger.Warn("exams: invalid questions rejected", "count", errs.Len(), "error", errs.ErrOrNil())
			deps.Metrics.add(func(m *Metrics) *metrics.Counter { return m.RecordsRejected }, errs.Len())
		}
		byID := fn.UniqueBy(valid, func(q domain.Question) string { return q.QuestionID })
		if len(byID) < len(valid) {
			warnRepeatedIDs(deps.Logger, valid)
		}
		unique, st := dedup.Questions(byID)
		dropped := len(valid) - len(byID) + st.Dropped
		deps.Metrics.add(func(m *Metrics) *metrics.Counter { return m.RecordsDropped }, dropped)
		run.questions = unique
		return fn.Ok(run)
	}
}

// warnRepeatedIDs logs every question id that occurs more than once. Only
// the first question with a given id is kept.
func warnRepeatedIDs(logger *slog.Logger, qs []domain.Question) {
	counts := make(map[string]int, len(qs))
	for _, q := range qs {
		counts[q.QuestionID]++
	}
	for _, q := range qs {
		n := counts[q.QuestionID]
		if n < 2 {
			continue
		}
		logger.Warn("exams: repeated question id, later questions dropped",
			"question_id", q.QuestionID, "occurrences", n, "kept", q.Question)
		counts[q.QuestionID] = 0
	}
}

func mergeExams(deps Deps) fn.Stage[*examsRun, *examsRun] {
	return func(_ context.Context, run *examsRun) fn.Result[*examsRun] {
		if len(run.imports) == 0 && len(run.questions) == 0 {
			run.result.Skipped = true
			if run.existing != nil {
				run.result.Totals = domain.Count(run.existing.Exams)
			}
			return fn.Ok(run)
		}

		current := run.existing
		var total merge.Stats
		for _, imp := range run.imports {
			merged, st, err := merge.ExamCorpus(current, imp, run.now)
			if err != nil {
				return fn.Err[*examsRun](err)
			}
			current = &merged
			total = addStats(total, st)
		}
		if len(run.questions) > 0 {
			incoming := domain.ExamCorpus{
				Exams:   merge.Organize(run.questions, run.cfg.Rules, run.now),
				Sources: run.result.Sources,
				AutoUpdate: map[string]any{
					"enabled":   true,
					"lastRun":   run.now.UTC().Format(time.RFC3339),
					"sources":   run.result.Sources,
					"questions": len(run.questions),
				},
			}
			merged, st, err := merge.ExamCorpus(current, incoming, run.now)
			if err != nil {
				return fn.Err[*examsRun](err)
			}
			current = &merged
			total = addStats(total, st)
		}
		// mergeStats describe the whole run, not only its last step.
		if run.existing != nil {
			current.MergeStats.PreviousUpdate = run.existing.LastUpdated
		} else {
			current.MergeStats.PreviousUpdate = nil
		}

		run.merged = *current
		run.result.Stats = total
		run.result.Totals = total.Totals
		deps.Metrics.add(func(m *Metrics) *metrics.Counter { return m.QuestionsAdded }, total.QuestionsAdded)
		deps.Metrics.add(func(m *Metrics) *metrics.Counter { return m.RecordsDropped }, total.DuplicatesAbsorbed)
		deps.Metrics.set(func(m *Metrics) *metrics.Gauge { return m.QuestionsTotal }, total.Totals.Questions)
		return fn.Ok(run)
	}
}

func addStats(a, b merge.Stats) merge.Stats {
	return merge.Stats{
		ExamsAdded:         a.ExamsAdded + b.ExamsAdded,
		SubjectsAdded:      a.SubjectsAdded + b.SubjectsAdded,
		PapersAdded:        a.PapersAdded + b.PapersAdded,
		PapersUpdated:      a.PapersUpdated + b.PapersUpdated,
		QuestionsAdded:     a.QuestionsAdded + b.QuestionsAdded,
		DuplicatesAbsorbed: a.DuplicatesAbsorbed + b.DuplicatesAbsorbed,
		Totals:             b.Totals,
	}
}

func saveExams(_ context.Context, run *examsRun) fn.Result[*examsRun] {
	if run.result.Skipped {
		return fn.Ok(run)
	}
	backup, err := snapshot.Save(run.cfg.Path, run.merged, run.now)
	if err != nil {
		return fn.Err[*examsRun](err)
	}
	run.result.Backup = backup
	return fn.Ok(run)
}

func publishExams(deps Deps) fn.Stage[*examsRun, *examsRun] {
	return func(ctx context.Context, run *examsRun) fn.Result[*examsRun] {
		if run.result.Skipped {
			return fn.Ok(run)
		}
		ev := ExamsEvent{
			Path:           run.cfg.Path,
			Totals:         run.result.Totals,
			QuestionsAdded: run.result.Stats.QuestionsAdded,
			Sources:        run.merged.Sources,
			UpdatedAt:      run.now,
		}
		if err := deps.Publisher.Publish(ctx, SubjectExamsUpdated, ev); err != nil {
			deps.Logger.Warn("exams: publish failed", "subject", SubjectExamsUpdated, "error", err)
		}
		return fn.Ok(run)
	}
}
