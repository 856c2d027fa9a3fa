package fn

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff configures Retry.
type Backoff struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
	Jitter   bool
}

// DefaultBackoff is used when dialling stores and brokers.
var DefaultBackoff = Backoff{Attempts: 4, Initial: 500 * time.Millisecond, Max: 10 * time.Second, Jitter: true}

// Retry calls f until it succeeds, the attempts run out or ctx is done.
// The wait doubles after every failure up to Max. The last failure is
// returned.
func Retry[T any](ctx context.Context, b Backoff, f func(context.Context) Result[T]) Result[T] {
	attempts := max(b.Attempts, 1)
	wait := b.Initial
	var r Result[T]
	for i := 0; i < attempts; i++ {
		if r = f(ctx); r.IsOk() || i == attempts-1 {
			return r
		}
		d := wait
		if b.Jitter {
			d = time.Duration(float64(d) * (0.5 + rand.Float64()))
		}
		if b.Max > 0 {
			d = min(d, b.Max)
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return Err[T](ctx.Err())
		case <-t.C:
		}
		wait *= 2
	}
	return r
}
