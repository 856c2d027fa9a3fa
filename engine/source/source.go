// Package source is the registry of collaborators that feed records and
// questions into the merge engine.
//
// Sources are looked up by name in an explicit Registry. Each fetch yields an
// Outcome that tells a found batch apart from an empty one and from a
// failure; the caller decides whether a failed source aborts the run.
package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/examfit/corpus/engine/domain"
	"github.com/examfit/corpus/pkg/fn"
)

var (
	ErrUnknownSource   = errors.New("unknown source")
	ErrDuplicateSource = errors.New("source already registered")
)

// Status classifies a fetch.
type Status int

const (
	StatusFound  Status = iota // at least one item
	StatusEmpty                // ran fine, nothing new
	StatusFailed               // the source could not be read
)

func (s Status) String() string {
	switch s {
	case StatusFound:
		return "found"
	case StatusEmpty:
		return "empty"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Payload is what a source yields.
type Payload struct {
	Records   []domain.Record   `json:"records,omitempty"`
	Questions []domain.Question `json:"questions,omitempty"`
}

// Len is the number of items in p.
func (p Payload) Len() int { return len(p.Records) + len(p.Questions) }

// Fetcher reads one source.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) (Payload, error)
}

// Outcome is the classified result of one fetch.
type Outcome struct {
	Source   string
	Status   Status
	Payload  Payload
	Err      error
	Duration time.Duration
}

// Collect runs f and classifies the result.
func Collect(ctx context.Context, f Fetcher) Outcome {
	start := time.Now()
	p, err := f.Fetch(ctx)
	o := Outcome{Source: f.Name(), Payload: p, Duration: time.Since(start)}
	switch {
	case err != nil:
		o.Status = StatusFailed
		o.Err = fmt.Errorf("source %s: %w", f.Name(), err)
		o.Payload = Payload{}
	case p.Len() == 0:
		o.Status = StatusEmpty
	default:
		o.Status = StatusFound
	}
	return o
}

// Registry maps source names to fetchers. The zero value is not usable,
// call NewRegistry.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

// NewRegistry returns a registry holding fetchers.
func NewRegistry(fetchers ...Fetcher) (*Registry, error) {
	r := &Registry{fetchers: make(map[string]Fetcher)}
	for _, f := range fetchers {
		if err := r.Register(f); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds f under f.Name().
func (r *Registry) Register(f Fetcher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.fetchers[f.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateSource, f.Name())
	}
	r.fetchers[f.Name()] = f
	return nil
}

// Names lists registered sources in lexical order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fetchers))
	for n := range r.fetchers {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Resolve returns the fetchers for names in the given order. An empty list
// resolves to every registered source. Unknown names fail with
// ErrUnknownSource listing all of them.
func (r *Registry) Resolve(names []string) ([]Fetcher, error) {
	if len(names) == 0 {
		names = r.Names()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		out     []Fetcher
		unknown []string
	)
	for _, n := range fn.Unique(names) {
		f, ok := r.fetchers[n]
		if !ok {
			unknown = append(unknown, n)
			continue
		}
		out = append(out, f)
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrUnknownSource, unknown)
	}
	return out, nil
}

// FetchAll fetches concurrently with at most workers in flight. Outcomes
// keep the order of fetchers.
func FetchAll(ctx context.Context, fetchers []Fetcher, workers int, logger *slog.Logger) []Outcome {
	if logger == nil {
		logger = slog.Default()
	}
	outcomes := fn.ParMap(fetchers, workers, func(f Fetcher) Outcome {
		return Collect(ctx, f)
	})
	for _, o := range outcomes {
		switch o.Status {
		case StatusFailed:
			logger.Error("source failed", "source", o.Source, "error", o.Err, "duration", o.Duration)
		case StatusEmpty:
			logger.Warn("source returned nothing", "source", o.Source, "duration", o.Duration)
		default:
			logger.Info("source fetched", "source", o.Source,
				"records", len(o.Payload.Records), "questions", len(o.Payload.Questions), "duration", o.Duration)
		}
	}
	return outcomes
}

// Failed returns the failed outcomes.
func Failed(outcomes []Outcome) []Outcome {
	return fn.Filter(outcomes, func(o Outcome) bool { return o.Status == StatusFailed })
}

// Merge concatenates the payloads of all non-failed outcomes in order.
// Sources lists the names of those that found something.
func Merge(outcomes []Outcome) (p Payload, sources []string) {
	for _, o := range outcomes {
		if o.Status != StatusFound {
			continue
		}
		p.Records = append(p.Records, o.Payload.Records...)
		p.Questions = append(p.Questions, o.Payload.Questions...)
		sources = append(sources, o.Source)
	}
	return p, sources
}
