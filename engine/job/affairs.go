package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/examfit/corpus/engine/domain"
	"github.com/examfit/corpus/engine/merge"
	"github.com/examfit/corpus/engine/snapshot"
	"github.com/examfit/corpus/engine/source"
	"github.com/examfit/corpus/pkg/fn"
	"github.com/examfit/corpus/pkg/metrics"
)

// AffairsConfig configures a current-affairs update.
type AffairsConfig struct {
	Path    string
	Fetch   FetchConfig
	Options merge.AffairsOptions
}

// AffairsResult summarises a current-affairs update.
type AffairsResult struct {
	Path     string             `json:"path"`
	Backup   string             `json:"backup,omitempty"`
	Sources  []string           `json:"sources"`
	Failed   []string           `json:"failed,omitempty"`
	Rejected int                `json:"rejected"`
	Added    int                `json:"added"`
	Stats    merge.AffairsStats `json:"stats"`
	Total    int                `json:"total"`
	Skipped  bool               `json:"skipped"`
}

// AffairsEvent is published on SubjectAffairsUpdated.
type AffairsEvent struct {
	Path       string            `json:"path"`
	Total      int               `json:"total"`
	Added      int               `json:"added"`
	Sources    []string          `json:"sources"`
	Categories []domain.Category `json:"categories"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

type affairsRun struct {
	cfg      AffairsConfig
	now      time.Time
	existing *domain.AffairsCorpus
	outcomes []source.Outcome
	incoming []domain.Record
	merged   domain.AffairsCorpus
	result   AffairsResult
}

// RunAffairs fetches new records and merges them into the snapshot at
// cfg.Path. A run where no source found anything leaves the snapshot
// untouched and reports Skipped.
func RunAffairs(ctx context.Context, deps Deps, cfg AffairsConfig) (AffairsResult, error) {
	deps = deps.withDefaults()
	log := deps.Logger.With("job", "affairs")
	start := time.Now()
	defer deps.Metrics.observe(start)
	if cfg.Options.Logger == nil {
		cfg.Options.Logger = log
	}

	pipeline := fn.Pipeline(
		logged("affairs.load", log, loadAffairs),
		logged("affairs.fetch", log, fetchAffairs(deps)),
		logged("affairs.validate", log, validateAffairs(deps)),
		logged("affairs.merge", log, mergeAffairs(deps)),
		logged("affairs.save", log, saveAffairs),
		logged("affairs.publish", log, publishAffairs(deps)),
	)
	run := &affairsRun{cfg: cfg, now: deps.Now(), result: AffairsResult{Path: cfg.Path}}
	r := pipeline(ctx, run)
	if _, err := r.Unwrap(); err != nil {
		return run.result, err
	}
	if run.result.Skipped {
		log.Info("affairs: nothing new, snapshot left untouched", "path", cfg.Path)
	} else {
		log.Info("affairs: updated", "path", cfg.Path, "total", run.result.Total,
			"added", run.result.Added, "backup", run.result.Backup)
	}
	return run.result, nil
}

func loadAffairs(_ context.Context, run *affairsRun) fn.Result[*affairsRun] {
	var c domain.AffairsCorpus
	ok, err := snapshot.Load(run.cfg.Path, &c)
	if err != nil {
		return fn.Err[*affairsRun](err)
	}
	if ok {
		run.existing = &c
	}
	return fn.Ok(run)
}

func fetchAffairs(deps Deps) fn.Stage[*affairsRun, *affairsRun] {
	return func(ctx context.Context, run *affairsRun) fn.Result[*affairsRun] {
		outcomes, err := fetch(ctx, deps, run.cfg.Fetch)
		run.outcomes = outcomes
		for _, o := range source.Failed(outcomes) {
			run.result.Failed = append(run.result.Failed, o.Source)
		}
		if err != nil {
			return fn.Err[*affairsRun](fmt.Errorf("affairs: %w", err))
		}
		p, names := source.Merge(outcomes)
		run.incoming = p.Records
		run.result.Sources = names
		deps.Metrics.add(func(m *Metrics) *metrics.Counter { return m.RecordsFetched }, len(p.Records))
		return fn.Ok(run)
	}
}

func validateAffairs(deps Deps) fn.Stage[*affairsRun, *affairsRun] {
	return func(_ context.Context, run *affairsRun) fn.Result[*affairsRun] {
		valid, err := domain.PartitionRecords(run.incoming)
		if err != nil {
			var ie *domain.ItemErrors
			if errors.As(err, &ie) {
				run.result.Rejected = ie.Len()
			}
			deps.Logger.Warn("affairs: invalid records rejected", "count", run.result.Rejected, "error", err)
			deps.Metrics.add(func(m *Metrics) *metrics.Counter { return m.RecordsRejected }, run.result.Rejected)
		}
		run.incoming = valid
		return fn.Ok(run)
	}
}

func mergeAffairs(deps Deps) fn.Stage[*affairsRun, *affairsRun] {
	return func(_ context.Context, run *affairsRun) fn.Result[*affairsRun] {
		if len(run.incoming) == 0 {
			run.result.Skipped = true
			if run.existing != nil {
				run.result.Total = len(run.existing.CurrentAffairs)
			}
			return fn.Ok(run)
		}
		merged, stats := merge.Affairs(run.existing, run.incoming, run.result.Sources, run.cfg.Options, run.now)
		run.merged = merged
		run.result.Stats = stats
		run.result.Total = len(merged.CurrentAffairs)
		run.result.Added = countFrom(merged.CurrentAffairs, run.incoming)
		deps.Metrics.add(func(m *Metrics) *metrics.Counter { return m.RecordsDropped }, stats.Dedup.Dropped)
		deps.Metrics.set(func(m *Metrics) *metrics.Gauge { return m.AffairsTotal }, run.result.Total)
		return fn.Ok(run)
	}
}

func saveAffairs(_ context.Context, run *affairsRun) fn.Result[*affairsRun] {
	if run.result.Skipped {
		return fn.Ok(run)
	}
	backup, err := snapshot.Save(run.cfg.Path, run.merged, run.now)
	if err != nil {
		return fn.Err[*affairsRun](err)
	}
	run.result.Backup = backup
	return fn.Ok(run)
}

func publishAffairs(deps Deps) fn.Stage[*affairsRun, *affairsRun] {
	return func(ctx context.Context, run *affairsRun) fn.Result[*affairsRun] {
		if run.result.Skipped {
			return fn.Ok(run)
		}
		ev := AffairsEvent{
			Path:       run.cfg.Path,
			Total:      run.result.Total,
			Added:      run.result.Added,
			Sources:    run.merged.Sources,
			Categories: run.merged.Categories,
			UpdatedAt:  run.now,
		}
		if err := deps.Publisher.Publish(ctx, SubjectAffairsUpdated, ev); err != nil {
			deps.Logger.Warn("affairs: publish failed", "subject", SubjectAffairsUpdated, "error", err)
		}
		return fn.Ok(run)
	}
}

// countFrom counts the records of kept that came from incoming.
func countFrom(kept, incoming []domain.Record) int {
	ids := make(map[string]bool, len(incoming))
	for _, r := range incoming {
		ids[r.ID] = true
	}
	n := 0
	for _, r := range kept {
		if ids[r.ID] {
			n++
		}
	}
	return n
}
