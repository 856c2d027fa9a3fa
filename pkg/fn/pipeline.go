package fn

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/examfit/corpus/pkg/fn"

// Stage is one step of a job.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Pipeline runs stages in order on the same value, stopping at the first
// failure.
func Pipeline[T any](stages ...Stage[T, T]) Stage[T, T] {
	return func(ctx context.Context, t T) Result[T] {
		for _, s := range stages {
			if err := ctx.Err(); err != nil {
				return Err[T](err)
			}
			r := s(ctx, t)
			if r.IsErr() {
				return r
			}
			t, _ = r.Unwrap()
		}
		return Ok(t)
	}
}

// TracedStage runs stage inside a span called name and marks the span
// failed when the stage fails.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		r := stage(ctx, in)
		if _, err := r.Unwrap(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return r
	}
}
