// Package job runs the corpus update jobs end to end: load the snapshot,
// fetch from the configured sources, validate, merge, persist and announce
// the result on NATS.
package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/examfit/corpus/engine/source"
	"github.com/examfit/corpus/pkg/fn"
	"github.com/examfit/corpus/pkg/metrics"
	"github.com/examfit/corpus/pkg/natsutil"
)

// Subjects the jobs publish to after a successful run.
const (
	SubjectAffairsUpdated     = "corpus.affairs.updated"
	SubjectExamsUpdated       = "corpus.exams.updated"
	SubjectMigrationCompleted = "corpus.migration.completed"
)

// ErrSourcesFailed aborts a run when the required sources could not be read.
var ErrSourcesFailed = errors.New("sources failed")

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// NATSPublisher publishes JSON events on a NATS connection.
type NATSPublisher struct {
	Conn *nats.Conn
}

func (p NATSPublisher) Publish(ctx context.Context, subject string, v any) error {
	return natsutil.Publish(ctx, p.Conn, subject, v)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, any) error { return nil }

// Metrics are the instruments the jobs update.
type Metrics struct {
	reg             *metrics.Registry
	RecordsFetched  *metrics.Counter
	RecordsRejected *metrics.Counter
	RecordsDropped  *metrics.Counter
	QuestionsAdded  *metrics.Counter
	AffairsTotal    *metrics.Gauge
	QuestionsTotal  *metrics.Gauge
	RunSeconds      *metrics.Histogram
}

// NewMetrics registers the job instruments on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		reg:             reg,
		RecordsFetched:  reg.Counter("corpus_records_fetched_total", "Records and questions returned by sources."),
		RecordsRejected: reg.Counter("corpus_records_rejected_total", "Items rejected by validation."),
		RecordsDropped:  reg.Counter("corpus_records_deduplicated_total", "Items dropped as duplicates."),
		QuestionsAdded:  reg.Counter("corpus_questions_added_total", "Questions added to the exam corpus."),
		AffairsTotal:    reg.Gauge("corpus_affairs_records", "Records in the current-affairs corpus."),
		QuestionsTotal:  reg.Gauge("corpus_exam_questions", "Questions in the exam corpus."),
		RunSeconds:      reg.Histogram("corpus_job_seconds", "Duration of a corpus job.", nil),
	}
}

func (m *Metrics) sourceFailed(name string) {
	if m == nil || m.reg == nil {
		return
	}
	m.reg.Counter(metrics.WithLabels("corpus_source_failures_total", "source", name), "Failed source fetches.").Inc()
}

// Deps are the collaborators shared by all jobs.
type Deps struct {
	Registry  *source.Registry
	Publisher Publisher
	Metrics   *Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Publisher == nil {
		d.Publisher = nopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// FetchConfig selects sources for a run.
type FetchConfig struct {
	Sources    []string
	Workers    int
	RequireAll bool
}

// fetch resolves and reads the configured sources. The run fails when every
// source failed, or when any failed and RequireAll is set.
func fetch(ctx context.Context, deps Deps, cfg FetchConfig) ([]source.Outcome, error) {
	if deps.Registry == nil {
		return nil, nil
	}
	fetchers, err := deps.Registry.Resolve(cfg.Sources)
	if err != nil {
		return nil, err
	}
	outcomes := source.FetchAll(ctx, fetchers, cfg.Workers, deps.Logger)
	failed := source.Failed(outcomes)
	for _, o := range failed {
		deps.Metrics.sourceFailed(o.Source)
	}
	if len(failed) == 0 {
		return outcomes, nil
	}
	errs := fn.Map(failed, func(o source.Outcome) error { return o.Err })
	if cfg.RequireAll || len(failed) == len(outcomes) {
		return outcomes, fmt.Errorf("%w: %w", ErrSourcesFailed, errors.Join(errs...))
	}
	return outcomes, nil
}

// logged wraps a stage with entry and exit logging and an OTel span.
func logged[T any](name string, log *slog.Logger, stage fn.Stage[T, T]) fn.Stage[T, T] {
	return fn.TracedStage[T, T](name, func(ctx context.Context, v T) fn.Result[T] {
		start := time.Now()
		r := stage(ctx, v)
		if r.IsErr() {
			_, err := r.Unwrap()
			log.Error("stage failed", "stage", name, "error", err, "duration", time.Since(start))
			return r
		}
		log.Debug("stage done", "stage", name, "duration", time.Since(start))
		return r
	})
}

func (m *Metrics) observe(start time.Time) {
	if m != nil && m.RunSeconds != nil {
		m.RunSeconds.Since(start)
	}
}

func (m *Metrics) add(c func(*Metrics) *metrics.Counter, n int) {
	if m == nil || n <= 0 {
		return
	}
	if ctr := c(m); ctr != nil {
		ctr.Add(int64(n))
	}
}

func (m *Metrics) set(g func(*Metrics) *metrics.Gauge, n int) {
	if m == nil {
		return
	}
	if gauge := g(m); gauge != nil {
		gauge.Set(int64(n))
	}
}
