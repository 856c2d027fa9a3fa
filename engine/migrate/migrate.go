// Package migrate copies the exam tree into a document store in one shot.
//
// A run clears the four tree collections, recreates their indexes, writes
// exams, subjects, papers and questions in sequential batches and finally
// compares the per-collection counts with the source tree. Any failed batch
// aborts the run. A count mismatch fails the run but leaves the written
// data in place for inspection. Every attempt, failed or not, appends one
// entry to the migration log.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/examfit/corpus/engine/domain"
	"github.com/examfit/corpus/pkg/docstore"
	"github.com/examfit/corpus/pkg/fn"
	"github.com/examfit/corpus/pkg/metrics"
)

// BatchSize is the number of documents per insert call.
const BatchSize = 1000

// LogTimeout bounds the migration log write, which runs detached from the
// run's context so that cancelled and timed-out attempts are still logged.
const LogTimeout = 10 * time.Second

// Store is the document store a migration writes to.
type Store interface {
	Ping(ctx context.Context) error
	Clear(ctx context.Context, colls ...string) (map[string]int64, error)
	EnsureIndexes(ctx context.Context) error
	Insert(ctx context.Context, coll string, docs []docstore.Doc) (docstore.InsertResult, error)
	Count(ctx context.Context, coll string) (int64, error)
	LogMigration(ctx context.Context, entry docstore.MigrationLog) error
}

// Metrics are the instruments a Migrator updates. Nil fields are skipped.
type Metrics struct {
	BatchSeconds *metrics.Histogram
	Written      *metrics.Counter
	Rejected     *metrics.Counter
	Runs         *metrics.Counter
	Failures     *metrics.Counter
}

// NewMetrics registers the migration instruments on reg.
func NewMetrics(reg *metrics.Registry) *Metrics {
	return &Metrics{
		BatchSeconds: reg.Histogram("corpus_migration_batch_seconds", "Duration of one migration insert batch.", nil),
		Written:      reg.Counter("corpus_migration_documents_written_total", "Documents written by migrations."),
		Rejected:     reg.Counter("corpus_migration_documents_rejected_total", "Documents rejected on a duplicate key."),
		Runs:         reg.Counter("corpus_migration_runs_total", "Migration attempts."),
		Failures:     reg.Counter("corpus_migration_failures_total", "Failed migration attempts."),
	}
}

// Migrator runs bulk migrations against a Store.
type Migrator struct {
	store     Store
	batchSize int
	logger    *slog.Logger
	metrics   *Metrics
	now       func() time.Time
	newID     func() string
}

// Option configures a Migrator.
type Option func(*Migrator)

// WithBatchSize overrides BatchSize.
func WithBatchSize(n int) Option {
	return func(m *Migrator) {
		if n > 0 {
			m.batchSize = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(m *Migrator) { m.logger = l } }

// WithMetrics sets the instruments.
func WithMetrics(mt *Metrics) Option { return func(m *Migrator) { m.metrics = mt } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Migrator) { m.now = now } }

// New creates a Migrator.
func New(store Store, opts ...Option) *Migrator {
	m := &Migrator{
		store:     store,
		batchSize: BatchSize,
		logger:    slog.Default(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Run migrates exams. The returned report is filled in as far as the run
// got, also when an error is returned. A count mismatch is returned as
// *MismatchError.
func (m *Migrator) Run(ctx context.Context, exams []domain.Exam) (rep Report, err error) {
	rep = Report{RunID: m.newID(), StartedAt: m.now()}
	log := m.logger.With("run", rep.RunID)
	m.incr(func(mt *Metrics) *metrics.Counter { return mt.Runs }, 1)

	defer func() {
		rep.FinishedAt = m.now()
		rep.Success = err == nil
		if err != nil {
			rep.Errors = append(rep.Errors, err.Error())
			m.incr(func(mt *Metrics) *metrics.Counter { return mt.Failures }, 1)
		}
		logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), LogTimeout)
		defer cancel()
		m.writeLog(logCtx, log, rep)
	}()

	if err := m.store.Ping(ctx); err != nil {
		return rep, fmt.Errorf("migrate: connect: %w", err)
	}

	cleared, err := m.store.Clear(ctx, docstore.TreeCollections...)
	rep.Cleared = cleared
	if err != nil {
		return rep, fmt.Errorf("migrate: clear: %w", err)
	}
	log.Info("migrate: collections cleared", "deleted", cleared)

	if err := m.store.EnsureIndexes(ctx); err != nil {
		log.Warn("migrate: could not create indexes", "error", err)
	}

	flat := Flatten(exams, rep.StartedAt)
	for _, coll := range docstore.TreeCollections {
		if err := m.insert(ctx, log, &rep, coll, flat.ByCollection(coll)); err != nil {
			return rep, err
		}
	}

	expected := domain.Count(exams)
	want := map[string]int64{
		docstore.Exams:     int64(expected.Exams),
		docstore.Subjects:  int64(expected.Subjects),
		docstore.Papers:    int64(expected.Papers),
		docstore.Questions: int64(expected.Questions),
	}
	for _, coll := range docstore.TreeCollections {
		got, err := m.store.Count(ctx, coll)
		if err != nil {
			return rep, fmt.Errorf("migrate: validate %s: %w", coll, err)
		}
		rep.Levels = append(rep.Levels, Level{Collection: coll, Expected: want[coll], Actual: got})
	}
	for _, l := range rep.Levels {
		log.Info("migrate: validation", "collection", l.Collection, "expected", l.Expected, "actual", l.Actual, "match", l.Match())
	}
	if bad := rep.Mismatches(); len(bad) > 0 {
		return rep, &MismatchError{Levels: bad}
	}
	log.Info("migrate: completed", "written", rep.Written, "batches", rep.Batches)
	return rep, nil
}

func (m *Migrator) insert(ctx context.Context, log *slog.Logger, rep *Report, coll string, docs []docstore.Doc) error {
	for i, batch := range fn.Chunk(docs, m.batchSize) {
		start := time.Now()
		res, err := m.store.Insert(ctx, coll, batch)
		if m.metrics != nil && m.metrics.BatchSeconds != nil {
			m.metrics.BatchSeconds.Since(start)
		}
		if err != nil {
			return fmt.Errorf("migrate: insert %s batch %d: %w", coll, i+1, err)
		}
		rep.Batches++
		rep.Written += res.Written
		rep.Rejected += res.Rejected
		m.incr(func(mt *Metrics) *metrics.Counter { return mt.Written }, int64(res.Written))
		if res.Rejected > 0 {
			m.incr(func(mt *Metrics) *metrics.Counter { return mt.Rejected }, int64(res.Rejected))
			log.Warn("migrate: duplicate keys rejected", "collection", coll, "batch", i+1, "rejected", res.Rejected)
		}
	}
	log.Info("migrate: collection written", "collection", coll, "documents", len(docs))
	return nil
}

func (m *Migrator) writeLog(ctx context.Context, log *slog.Logger, rep Report) {
	var counts domain.Counts
	for _, l := range rep.Levels {
		switch l.Collection {
		case docstore.Exams:
			counts.Exams = int(l.Actual)
		case docstore.Subjects:
			counts.Subjects = int(l.Actual)
		case docstore.Papers:
			counts.Papers = int(l.Actual)
		case docstore.Questions:
			counts.Questions = int(l.Actual)
		}
	}
	entry := docstore.MigrationLog{
		RunID:     rep.RunID,
		Timestamp: rep.FinishedAt,
		Success:   rep.Success,
		Stats: docstore.LogStats{
			StartTime:      rep.StartedAt,
			EndTime:        rep.FinishedAt,
			TotalExams:     counts.Exams,
			TotalSubjects:  counts.Subjects,
			TotalPapers:    counts.Papers,
			TotalQuestions: counts.Questions,
			Rejected:       rep.Rejected,
			Errors:         rep.Errors,
		},
		DurationSeconds: rep.Duration().Seconds(),
	}
	if err := m.store.LogMigration(ctx, entry); err != nil {
		log.Warn("migrate: could not write migration log", "error", err)
	}
}

func (m *Migrator) incr(pick func(*Metrics) *metrics.Counter, n int64) {
	if m.metrics == nil {
		return
	}
	if c := pick(m.metrics); c != nil {
		c.Add(n)
	}
}
