package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/examfit/corpus/engine/job"
	"github.com/examfit/corpus/pkg/config"
	"github.com/examfit/corpus/pkg/fn"
	"github.com/examfit/corpus/pkg/metrics"
	"github.com/examfit/corpus/pkg/runlog"
)

// app is the state shared by every subcommand, filled in by setup.
type app struct {
	configPath  string
	logFormat   string
	logLevel    string
	metricsPort int

	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Registry
	out     io.Writer
	now     func() time.Time
}

func newRootCmd() *cobra.Command {
	a := &app{now: time.Now}
	root := &cobra.Command{
		Use:   "corpusctl",
		Short: "Maintain the current-affairs and exam question corpus",
		Long: `corpusctl merges freshly fetched current affairs and scraped questions into
the corpus snapshots, keeping a timestamped backup of every snapshot it
replaces, and migrates the exam tree into MongoDB or Neo4j.`,
		SilenceUsage:      true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error { return a.setup(cmd) },
	}
	f := root.PersistentFlags()
	f.StringVar(&a.configPath, "config", "corpus.yaml", "path to config file")
	f.StringVar(&a.logFormat, "log-format", "text", "log format: text or json")
	f.StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	f.IntVar(&a.metricsPort, "metrics-port", -1, "serve /metrics on this port while a job runs (0 disables, -1 uses the config)")

	root.AddCommand(
		newAffairsCmd(a),
		newExamsCmd(a),
		newMigrateCmd(a),
		newStatsCmd(a),
		newRunsCmd(a),
		newServeCmd(a),
		newWatchCmd(a),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "corpusctl %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	logger, err := newLogger(cmd.ErrOrStderr(), a.logFormat, a.logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.metricsPort >= 0 {
		cfg.Metrics.Port = a.metricsPort
	}
	a.cfg = cfg
	a.logger = logger
	a.metrics = metrics.New()
	a.out = cmd.OutOrStdout()
	return nil
}

func newLogger(w io.Writer, format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text", "":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return nil, fmt.Errorf("invalid --log-format %q: want text or json", format)
}

// runJob runs body under the job's lease and records the attempt in the
// run ledger. A lease held by another process skips the run without error.
func (a *app) runJob(ctx context.Context, name string, body func(context.Context) (any, error)) error {
	ledger, err := runlog.Open(a.cfg.RunLog.Path)
	if err != nil {
		return err
	}
	defer ledger.Close()
	bg := context.WithoutCancel(ctx)

	lease, err := ledger.Acquire(ctx, "job:"+name, holderID(), a.cfg.RunLog.LeaseTTL.Std())
	if errors.Is(err, runlog.ErrLeaseHeld) {
		a.logger.Warn("job already running, skipping", "job", name, "error", err)
		if run, serr := ledger.Start(bg, name); serr == nil {
			_ = ledger.Finish(bg, run.ID, runlog.StatusSkipped, nil, err)
		}
		fmt.Fprintf(a.out, "%s: skipped, another run holds the lease\n", name)
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := lease.Release(bg); err != nil {
			a.logger.Warn("releasing lease", "job", name, "error", err)
		}
	}()

	run, err := ledger.Start(ctx, name)
	if err != nil {
		return err
	}

	mctx, stopMetrics := context.WithCancel(ctx)
	served, err := a.metrics.ServeAsync(mctx, a.cfg.Metrics.Port, a.logger)
	if err != nil {
		a.logger.Warn("metrics server not started", "error", err)
	}
	defer func() {
		stopMetrics()
		<-served
	}()

	a.logger.Info("job started", "job", name, "run", run.ID)
	summary, runErr := body(ctx)
	status := runlog.StatusSucceeded
	if runErr != nil {
		status = runlog.StatusFailed
	}
	if err := ledger.Finish(bg, run.ID, status, summary, runErr); err != nil {
		a.logger.Warn("recording run", "job", name, "run", run.ID, "error", err)
	}
	a.logger.Info("job finished", "job", name, "run", run.ID, "status", status)
	return runErr
}

// deps builds the job dependencies with a registry of the enabled sources
// of kind. An empty kind builds no registry. The returned close func drains
// the NATS connection if one was opened.
func (a *app) deps(ctx context.Context, kind string) (job.Deps, func(), error) {
	nc, err := a.connectNATS(ctx)
	if err != nil {
		return job.Deps{}, func() {}, err
	}
	closeNATS := func() {
		if nc != nil {
			_ = nc.Drain()
		}
	}
	d := job.Deps{
		Metrics: job.NewMetrics(a.metrics),
		Logger:  a.logger,
		Now:     a.now,
	}
	if kind != "" {
		if d.Registry, err = buildRegistry(a.cfg.Sources, kind, nc, a.logger); err != nil {
			closeNATS()
			return job.Deps{}, func() {}, err
		}
	}
	if nc != nil {
		d.Publisher = job.NATSPublisher{Conn: nc}
	}
	return d, closeNATS, nil
}

// connectNATS dials the configured broker, retrying with backoff. No URL
// means no broker.
func (a *app) connectNATS(ctx context.Context) (*nats.Conn, error) {
	if a.cfg.NATS.URL == "" {
		return nil, nil
	}
	r := fn.Retry(ctx, fn.DefaultBackoff, func(context.Context) fn.Result[*nats.Conn] {
		nc, err := nats.Connect(a.cfg.NATS.URL, nats.Name("corpusctl"))
		if err != nil {
			a.logger.Warn("nats connect failed", "url", a.cfg.NATS.URL, "error", err)
		}
		return fn.FromPair(nc, err)
	})
	nc, err := r.Unwrap()
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", a.cfg.NATS.URL, err)
	}
	return nc, nil
}

func holderID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s:%d", host, os.Getpid())
}
