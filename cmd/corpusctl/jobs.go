package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/examfit/corpus/engine/job"
	"github.com/examfit/corpus/engine/merge"
	"github.com/examfit/corpus/engine/retention"
	"github.com/examfit/corpus/engine/source"
)

func newAffairsCmd(a *app) *cobra.Command {
	var (
		cadence string
		sources []string
	)
	cmd := &cobra.Command{
		Use:   "affairs",
		Short: "Fetch current affairs and merge them into the affairs snapshot",
		Long: `Fetch records from the enabled record sources, drop near-duplicates,
apply the retention window and rewrite the current-affairs snapshot.

The previous snapshot is kept as a timestamped backup next to it. A run in
which no source found anything leaves the snapshot untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := parseCadence(cadence)
			if err != nil {
				return err
			}
			return a.runJob(cmd.Context(), "affairs", func(ctx context.Context) (any, error) {
				ctx, cancel := context.WithTimeout(ctx, a.cfg.Sources.Timeout.Std())
				defer cancel()
				deps, done, err := a.deps(ctx, string(source.KindRecords))
				if err != nil {
					return nil, err
				}
				defer done()
				res, err := job.RunAffairs(ctx, deps, a.affairsConfig(c, sources))
				if err != nil {
					return res, err
				}
				printAffairs(a, res)
				return res, nil
			})
		},
	}
	cmd.Flags().StringVar(&cadence, "cadence", "daily", "which update block to stamp: daily or weekly")
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "only fetch from these sources (default: all enabled)")
	return cmd
}

func newExamsCmd(a *app) *cobra.Command {
	var (
		imports []string
		sources []string
	)
	cmd := &cobra.Command{
		Use:   "exams",
		Short: "Merge scraped questions and imported snapshots into the exam snapshot",
		Long: `Merge exam snapshots given with --import, then file questions from the
enabled question sources into monthly papers by the organize rules, and
rewrite the exam snapshot. Questions already present are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runJob(cmd.Context(), "exams", func(ctx context.Context) (any, error) {
				ctx, cancel := context.WithTimeout(ctx, a.cfg.Sources.Timeout.Std())
				defer cancel()
				deps, done, err := a.deps(ctx, string(source.KindQuestions))
				if err != nil {
					return nil, err
				}
				defer done()
				res, err := job.RunExams(ctx, deps, job.ExamsConfig{
					Path:    a.cfg.Paths.Exams,
					Fetch:   a.fetchConfig(sources),
					Imports: imports,
					Rules:   a.cfg.Organize,
				})
				if err != nil {
					return res, err
				}
				printExams(a, res)
				return res, nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&imports, "import", nil, "exam snapshot files to merge in")
	cmd.Flags().StringSliceVar(&sources, "sources", nil, "only fetch from these sources (default: all enabled)")
	return cmd
}

func parseCadence(s string) (merge.Cadence, error) {
	switch c := merge.Cadence(strings.ToLower(s)); c {
	case merge.CadenceDaily, merge.CadenceWeekly:
		return c, nil
	}
	return "", fmt.Errorf("invalid --cadence %q: want daily or weekly", s)
}

func (a *app) fetchConfig(names []string) job.FetchConfig {
	return job.FetchConfig{
		Sources:    names,
		Workers:    a.cfg.Sources.Workers,
		RequireAll: a.cfg.Sources.RequireAll,
	}
}

func (a *app) affairsConfig(c merge.Cadence, names []string) job.AffairsConfig {
	return job.AffairsConfig{
		Path:  a.cfg.Paths.Affairs,
		Fetch: a.fetchConfig(names),
		Options: merge.AffairsOptions{
			Policy: retention.Policy{
				Min:    a.cfg.Retention.Min,
				Max:    a.cfg.Retention.Max,
				Window: a.cfg.Retention.Window.Std(),
			},
			Threshold: a.cfg.Dedup.Threshold,
			Cadence:   c,
			Logger:    a.logger,
		},
	}
}

func printAffairs(a *app, res job.AffairsResult) {
	if res.Skipped {
		fmt.Fprintf(a.out, "No new records; %s left untouched.\n", res.Path)
		return
	}
	fmt.Fprintf(a.out, "Updated %s: %d records (%d new, %d rejected, %d duplicates dropped).\n",
		res.Path, res.Total, res.Added, res.Rejected, res.Stats.Dedup.Dropped)
	if res.Backup != "" {
		fmt.Fprintf(a.out, "Backup: %s\n", res.Backup)
	}
	if len(res.Failed) > 0 {
		fmt.Fprintf(a.out, "Failed sources: %s\n", strings.Join(res.Failed, ", "))
	}
}

func printExams(a *app, res job.ExamsResult) {
	if res.Skipped {
		fmt.Fprintf(a.out, "No new questions; %s left untouched.\n", res.Path)
		return
	}
	t := res.Totals
	fmt.Fprintf(a.out, "Updated %s: %d exams, %d subjects, %d papers, %d questions (%d new).\n",
		res.Path, t.Exams, t.Subjects, t.Papers, t.Questions, res.Stats.QuestionsAdded)
	if res.Backup != "" {
		fmt.Fprintf(a.out, "Backup: %s\n", res.Backup)
	}
	if len(res.Failed) > 0 {
		fmt.Fprintf(a.out, "Failed sources: %s\n", strings.Join(res.Failed, ", "))
	}
}
