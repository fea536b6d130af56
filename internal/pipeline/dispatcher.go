package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"lumen-pipeline/pkg/logging/logging"
)

// errDispatchTimeout is returned by dispatch when the budget elapses first.
var errDispatchTimeout = errors.New("dispatch: budget elapsed")

// dispatcher runs generation work on a bounded set of goroutines.
//
// Timeouts are cooperative: when the budget elapses dispatch returns, but the work
// keeps running on a context detached from the caller's cancellation and its
// result is discarded. Its worker slot stays taken until it finishes, so
// timeout-heavy load can queue later requests behind abandoned work.
type dispatcher struct {
	slots *semaphore.Weighted
}

func newDispatcher(workers int) *dispatcher {
	return &dispatcher{slots: semaphore.NewWeighted(int64(max(workers, 1)))}
}

type dispatchResult[T any] struct {
	val T
	err error
}

// dispatch runs fn within budget. Waiting for a worker slot counts against the
// budget. Panics in fn are returned as errors.
func dispatch[T any](ctx context.Context, d *dispatcher, budget time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	ctx, span := tracer.Start(ctx, "generation_dispatch")
	defer span.End()
	span.SetAttributes(attribute.Int64("budget_ms", budget.Milliseconds()))

	timer := time.NewTimer(budget)
	defer timer.Stop()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	acquired := make(chan error, 1)
	go func() { acquired <- d.slots.Acquire(waitCtx, 1) }()

	select {
	case err := <-acquired:
		if err != nil {
			return zero, err
		}
	case <-timer.C:
		cancel()
		if err := <-acquired; err == nil {
			d.slots.Release(1)
		}
		return zero, errDispatchTimeout
	}

	done := make(chan dispatchResult[T], 1)
	work := context.WithoutCancel(ctx)
	go func() {
		defer d.slots.Release(1)
		defer func() {
			if r := recover(); r != nil {
				logging.L(work).Error("generation_panic",
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
				done <- dispatchResult[T]{err: fmt.Errorf("generation panicked: %v", r)}
			}
		}()
		v, err := fn(work)
		done <- dispatchResult[T]{val: v, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-timer.C:
		span.SetAttributes(attribute.Bool("timed_out", true))
		return zero, errDispatchTimeout
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
