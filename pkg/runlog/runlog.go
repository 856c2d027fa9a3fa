// Package runlog keeps a sqlite ledger of corpus jobs and the lease that
// keeps two jobs from writing the same snapshot at once.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrLeaseHeld is returned by Acquire while another holder has the lease.
var ErrLeaseHeld = errors.New("lease held by another run")

// Status of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Run is one row of the ledger.
type Run struct {
	ID         string     `json:"id"`
	Job        string     `json:"job"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Summary    string     `json:"summary,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Ledger is the run ledger. Writes go through a single connection.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger at path.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("runlog: creating dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("runlog: open: %w", err)
	}
	db.SetMaxOpenConns(1)
	l := &Ledger{db: db, now: time.Now}
	if err := l.init(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Ledger) init() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			job         TEXT NOT NULL,
			status      TEXT NOT NULL,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER,
			summary     TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
		CREATE INDEX IF NOT EXISTS idx_runs_job ON runs(job);

		CREATE TABLE IF NOT EXISTS leases (
			name        TEXT PRIMARY KEY,
			holder      TEXT NOT NULL,
			acquired_at INTEGER NOT NULL,
			expires_at  INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("runlog: initializing schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

// Start records a running job and returns its row.
func (l *Ledger) Start(ctx context.Context, job string) (Run, error) {
	r := Run{ID: uuid.NewString(), Job: job, Status: StatusRunning, StartedAt: l.now().UTC()}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (id, job, status, started_at) VALUES (?, ?, ?, ?)`,
		r.ID, r.Job, string(r.Status), r.StartedAt.UnixNano())
	if err != nil {
		return Run{}, fmt.Errorf("runlog: start %s: %w", job, err)
	}
	return r, nil
}

// Finish closes run id with status. summary is stored as JSON.
func (l *Ledger) Finish(ctx context.Context, id string, status Status, summary any, runErr error) error {
	var sum string
	if summary != nil {
		b, err := json.Marshal(summary)
		if err != nil {
			return fmt.Errorf("runlog: encode summary: %w", err)
		}
		sum = string(b)
	}
	var msg string
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ?, summary = ?, error = ? WHERE id = ?`,
		string(status), l.now().UTC().UnixNano(), sum, msg, id)
	if err != nil {
		return fmt.Errorf("runlog: finish %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("runlog: finish %s: no such run", id)
	}
	return nil
}

// Recent returns up to limit runs, newest first. An empty job lists all.
func (l *Ledger) Recent(ctx context.Context, job string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	q := `SELECT id, job, status, started_at, finished_at, summary, error FROM runs`
	args := []any{}
	if job != "" {
		q += ` WHERE job = ?`
		args = append(args, job)
	}
	q += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("runlog: query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			status   string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.Job, &status, &started, &finished, &r.Summary, &r.Error); err != nil {
			return nil, fmt.Errorf("runlog: scan run: %w", err)
		}
		r.Status = Status(status)
		r.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			t := time.Unix(0, finished.Int64).UTC()
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Lease is a held lease.
type Lease struct {
	Name      string
	Holder    string
	ExpiresAt time.Time
	l         *Ledger
}

// Acquire takes the named lease for ttl. It fails with ErrLeaseHeld while
// an unexpired lease of another holder exists.
func (l *Ledger) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (*Lease, error) {
	now := l.now().UTC()
	exp := now.Add(ttl)
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO leases (name, holder, acquired_at, expires_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			holder = excluded.holder,
			acquired_at = excluded.acquired_at,
			expires_at = excluded.expires_at
		WHERE leases.expires_at < excluded.acquired_at`,
		name, holder, now.UnixNano(), exp.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("runlog: acquire %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var (
			cur     string
			expires int64
		)
		err := l.db.QueryRowContext(ctx, `SELECT holder, expires_at FROM leases WHERE name = ?`, name).Scan(&cur, &expires)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrLeaseHeld, name)
		}
		return nil, fmt.Errorf("%w: %s held by %s until %s", ErrLeaseHeld, name, cur,
			time.Unix(0, expires).UTC().Format(time.RFC3339))
	}
	return &Lease{Name: name, Holder: holder, ExpiresAt: exp, l: l}, nil
}

// Release gives the lease up. Releasing a lease taken over by someone else
// is a no-op.
func (ls *Lease) Release(ctx context.Context) error {
	_, err := ls.l.db.ExecContext(ctx, `DELETE FROM leases WHERE name = ? AND holder = ?`, ls.Name, ls.Holder)
	if err != nil {
		return fmt.Errorf("runlog: release %s: %w", ls.Name, err)
	}
	return nil
}
