package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/examfit/corpus/engine/domain"
	"github.com/examfit/corpus/engine/job"
	"github.com/examfit/corpus/engine/snapshot"
	"github.com/examfit/corpus/engine/source"
	"github.com/examfit/corpus/pkg/config"
	"github.com/examfit/corpus/pkg/natsutil"
	"github.com/examfit/corpus/pkg/runlog"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarise the corpus snapshots",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := affairsStats(a); err != nil {
				return err
			}
			fmt.Fprintln(a.out)
			return examStats(a)
		},
	}
}

func affairsStats(a *app) error {
	path := a.cfg.Paths.Affairs
	var c domain.AffairsCorpus
	ok, err := snapshot.Load(path, &c)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Current affairs: %s\n", path)
	if !ok {
		fmt.Fprintln(a.out, "  no snapshot yet")
		return nil
	}
	fmt.Fprintf(a.out, "  Records: %d\n", len(c.CurrentAffairs))
	fmt.Fprintf(a.out, "  Last updated: %s\n", formatTime(c.LastUpdated.Time))
	if n := len(c.CurrentAffairs); n > 0 {
		fmt.Fprintf(a.out, "  Span: %s .. %s\n",
			c.CurrentAffairs[n-1].DatePublished.Format(time.DateOnly),
			c.CurrentAffairs[0].DatePublished.Format(time.DateOnly))
	}
	if err := printBackups(a, path); err != nil {
		return err
	}

	byCat := map[domain.Category]int{}
	for _, r := range c.CurrentAffairs {
		byCat[r.Category]++
	}
	cats := make([]domain.Category, 0, len(byCat))
	for cat := range byCat {
		cats = append(cats, cat)
	}
	sort.Slice(cats, func(i, j int) bool {
		if byCat[cats[i]] != byCat[cats[j]] {
			return byCat[cats[i]] > byCat[cats[j]]
		}
		return cats[i] < cats[j]
	})
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, cat := range cats {
		fmt.Fprintf(tw, "  %s\t%d\n", cat, byCat[cat])
	}
	return tw.Flush()
}

func examStats(a *app) error {
	path := a.cfg.Paths.Exams
	var c domain.ExamCorpus
	ok, err := snapshot.Load(path, &c)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Exams: %s\n", path)
	if !ok {
		fmt.Fprintln(a.out, "  no snapshot yet")
		return nil
	}
	t := domain.Count(c.Exams)
	fmt.Fprintf(a.out, "  Exams: %d  Subjects: %d  Papers: %d  Questions: %d\n", t.Exams, t.Subjects, t.Papers, t.Questions)
	if c.LastUpdated != nil {
		fmt.Fprintf(a.out, "  Last updated: %s\n", formatTime(c.LastUpdated.Time))
	}
	if err := printBackups(a, path); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	for _, e := range c.Exams {
		fmt.Fprintf(tw, "  %s\t%s\t%d questions\n", e.ExamID, e.ExamName, domain.Count([]domain.Exam{e}).Questions)
	}
	return tw.Flush()
}

func printBackups(a *app, path string) error {
	backups, err := snapshot.Backups(path)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "  Backups: %d", len(backups))
	if len(backups) > 0 {
		fmt.Fprintf(a.out, " (latest %s)", backups[len(backups)-1])
	}
	fmt.Fprintln(a.out)
	return nil
}

func newRunsCmd(a *app) *cobra.Command {
	var (
		jobName string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent job runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ledger, err := runlog.Open(a.cfg.RunLog.Path)
			if err != nil {
				return err
			}
			defer ledger.Close()
			runs, err := ledger.Recent(cmd.Context(), jobName, limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.out, "No runs recorded.")
				return nil
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tJOB\tSTATUS\tDURATION\tERROR")
			for _, r := range runs {
				dur := "-"
				if r.FinishedAt != nil {
					dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", formatTime(r.StartedAt), r.Job, r.Status, dur, r.Error)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&jobName, "job", "", "only show runs of this job")
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	var subjectPrefix string
	cmd := &cobra.Command{
		Use:   "serve [source...]",
		Short: "Answer fetch requests for local sources over NATS",
		Long: `Expose the named enabled sources (default: all file sources) on NATS so
that a corpusctl on another host can read them through a nats source.
Each source answers on <prefix>.<name>. Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			nc, err := a.connectNATS(ctx)
			if err != nil {
				return err
			}
			if nc == nil {
				return errors.New("serve needs nats.url (or NATS_URL)")
			}
			defer nc.Drain()

			reg, err := buildRegistry(a.cfg.Sources, "", nc, a.logger)
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				if names = fileSources(a); len(names) == 0 {
					return errors.New("no file sources enabled")
				}
			}
			fetchers, err := reg.Resolve(names)
			if err != nil {
				return err
			}
			for _, f := range fetchers {
				subject := subjectPrefix + "." + f.Name()
				sub, err := source.Serve(nc, subject, f)
				if err != nil {
					return err
				}
				defer sub.Unsubscribe()
				a.logger.Info("serving source", "source", f.Name(), "subject", subject)
			}
			<-ctx.Done()
			a.logger.Info("shutting down")
			return nil
		},
	}
	cmd.Flags().StringVar(&subjectPrefix, "prefix", "scraper", "subject prefix")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print corpus update events published on NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			nc, err := a.connectNATS(ctx)
			if err != nil {
				return err
			}
			if nc == nil {
				return errors.New("watch needs nats.url (or NATS_URL)")
			}
			defer nc.Drain()

			var mu sync.Mutex
			for _, subject := range []string{job.SubjectAffairsUpdated, job.SubjectExamsUpdated, job.SubjectMigrationCompleted} {
				sub, err := natsutil.Subscribe(nc, subject, func(_ context.Context, ev json.RawMessage) {
					mu.Lock()
					defer mu.Unlock()
					fmt.Fprintf(a.out, "%s %s\n", subject, ev)
				})
				if err != nil {
					return err
				}
				defer sub.Unsubscribe()
			}
			<-ctx.Done()
			return nil
		},
	}
}

func fileSources(a *app) []string {
	var out []string
	for _, s := range a.cfg.Sources.Enabled("") {
		if s.Type == config.SourceFile {
			out = append(out, s.Name)
		}
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
