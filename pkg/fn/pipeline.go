package fn

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/WessleyAI/stylesearch/pkg/fn"

var errUnknown = errors.New("fn: stage failed without an error")

// Stage is one step of a pipeline.
type Stage[In, Out any] func(context.Context, In) Result[Out]

// Then runs next on the output of first. An error from first is returned
// without calling next.
func Then[A, B, C any](first Stage[A, B], next Stage[B, C]) Stage[A, C] {
	return func(ctx context.Context, a A) Result[C] {
		b, err := first(ctx, a).Unwrap()
		if err != nil {
			return Err[C](err)
		}
		return next(ctx, b)
	}
}

// MapStage lifts a function that cannot fail.
func MapStage[In, Out any](f func(In) Out) Stage[In, Out] {
	return func(_ context.Context, in In) Result[Out] { return Ok(f(in)) }
}

// TapStage calls f for its side effect and forwards the input unchanged.
func TapStage[T any](f func(context.Context, T)) Stage[T, T] {
	return func(ctx context.Context, v T) Result[T] {
		f(ctx, v)
		return Ok(v)
	}
}

// TracedStage wraps stage in a span called name. A failed stage marks the
// span as errored.
func TracedStage[In, Out any](name string, stage Stage[In, Out]) Stage[In, Out] {
	return func(ctx context.Context, in In) Result[Out] {
		ctx, span := otel.Tracer(tracerName).Start(ctx, name)
		defer span.End()
		res := stage(ctx, in)
		if _, err := res.Unwrap(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return res
	}
}
