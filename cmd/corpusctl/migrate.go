package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/examfit/corpus/engine/job"
	"github.com/examfit/corpus/engine/migrate"
	"github.com/examfit/corpus/pkg/config"
	"github.com/examfit/corpus/pkg/docstore"
	"github.com/examfit/corpus/pkg/fn"
)

type closingStore interface {
	migrate.Store
	Close(ctx context.Context) error
}

func newMigrateCmd(a *app) *cobra.Command {
	var (
		yes       bool
		backend   string
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Replace the exam collections in the document store with the exam snapshot",
		Long: `Clear the exams, subjects, questionPapers and questions collections, write
the exam snapshot into them in batches and verify the per-collection counts.

This deletes the current contents of those collections and needs --yes.
Every attempt is recorded in the migrationLogs collection.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("migrate clears the target collections; rerun with --yes")
			}
			if backend != "" {
				a.cfg.Store.Backend = backend
			}
			if batchSize > 0 {
				a.cfg.Store.BatchSize = batchSize
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			return a.runJob(cmd.Context(), "migrate", func(ctx context.Context) (any, error) {
				ctx, cancel := context.WithTimeout(ctx, a.cfg.Store.Timeout.Std())
				defer cancel()
				return a.migrate(ctx)
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm that the target collections may be cleared")
	cmd.Flags().StringVar(&backend, "backend", "", "document store: mongo or neo4j (default from config)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "documents per insert batch (default from config)")
	return cmd
}

func (a *app) migrate(ctx context.Context) (migrate.Report, error) {
	store, err := openStore(ctx, a.cfg.Store)
	if err != nil {
		return migrate.Report{}, err
	}
	defer func() {
		if err := store.Close(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("closing store", "error", err)
		}
	}()

	deps, done, err := a.deps(ctx, "")
	if err != nil {
		return migrate.Report{}, err
	}
	defer done()

	m := migrate.New(store,
		migrate.WithBatchSize(a.cfg.Store.BatchSize),
		migrate.WithLogger(a.logger),
		migrate.WithMetrics(migrate.NewMetrics(a.metrics)),
	)
	rep, err := job.RunMigration(ctx, deps, a.cfg.Paths.Exams, m)
	printReport(a, rep)
	return rep, err
}

// openStore dials the configured backend, retrying while it comes up.
func openStore(ctx context.Context, cfg config.Store) (closingStore, error) {
	dial := func(ctx context.Context) (closingStore, error) {
		switch cfg.Backend {
		case config.BackendMongo:
			s, err := docstore.DialMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
			if err != nil {
				return nil, err
			}
			if err := s.Ping(ctx); err != nil {
				_ = s.Close(ctx)
				return nil, err
			}
			return s, nil
		case config.BackendNeo4j:
			return docstore.DialNeo4j(ctx, cfg.Neo4j.URL, cfg.Neo4j.User, cfg.Neo4j.Password, cfg.Neo4j.Database)
		}
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	r := fn.Retry(ctx, fn.DefaultBackoff, func(ctx context.Context) fn.Result[closingStore] {
		return fn.FromPair(dial(ctx))
	})
	s, err := r.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Backend, err)
	}
	return s, nil
}

func printReport(a *app, rep migrate.Report) {
	if rep.RunID == "" {
		return
	}
	fmt.Fprintf(a.out, "Migration %s: %d documents in %d batches, %d rejected, %s.\n",
		rep.RunID, rep.Written, rep.Batches, rep.Rejected, rep.Duration().Round(time.Millisecond))
	if len(rep.Levels) == 0 {
		return
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "COLLECTION\tEXPECTED\tACTUAL\tMATCH")
	for _, l := range rep.Levels {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\n", l.Collection, l.Expected, l.Actual, l.Match())
	}
	tw.Flush()
}
