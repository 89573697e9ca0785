// Package workpool runs independent units of work with bounded parallelism.
//
// Each unit gets its own deadline. Outcomes are stored by input index so the
// caller sees them in submission order regardless of completion order, and a
// failing unit never cancels its siblings.
package workpool

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"analytics-enginev1/internal/model"
)

// Options bounds a run.
type Options struct {
	// Limit is the maximum number of units in flight. <= 0 means 1.
	Limit int
	// Timeout is the per-unit deadline. <= 0 disables it.
	Timeout time.Duration
}

// Outcome is the result of one unit.
type Outcome[T any] struct {
	Value    T
	Err      error
	Duration time.Duration
}

// Run executes fn for indices 0..n-1 and returns one outcome per index.
//
// A unit that overruns its deadline is reported as model.ErrTimeout even if
// fn ignores its context; its goroutine is abandoned and its late result
// discarded. Panics are recovered into errors. Run itself only returns early
// (with every pending unit marked by ctx.Err()) when ctx is cancelled.
func Run[T any](ctx context.Context, opts Options, n int, fn func(ctx context.Context, i int) (T, error)) []Outcome[T] {
	out := make([]Outcome[T], n)
	if n == 0 {
		return out
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 1
	}

	var g errgroup.Group
	g.SetLimit(limit)
	for i := 0; i < n; i++ {
		i := i
		if ctx.Err() != nil {
			out[i].Err = fmt.Errorf("%w: %v", model.ErrTimeout, ctx.Err())
			continue
		}
		g.Go(func() error {
			out[i] = runUnit(ctx, opts.Timeout, i, fn)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

type result[T any] struct {
	v   T
	err error
}

func runUnit[T any](parent context.Context, timeout time.Duration, i int, fn func(context.Context, int) (T, error)) Outcome[T] {
	start := time.Now()
	ctx, cancel := parent, context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, timeout)
	}
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result[T]{v: zero, err: fmt.Errorf("unit %d panicked: %v\n%s", i, r, debug.Stack())}
			}
		}()
		v, err := fn(ctx, i)
		done <- result[T]{v: v, err: err}
	}()

	select {
	case r := <-done:
		err := r.err
		if err != nil && ctx.Err() == context.DeadlineExceeded && parent.Err() == nil {
			err = timeoutErr(i, timeout, err)
		}
		return Outcome[T]{Value: r.v, Err: err, Duration: time.Since(start)}
	case <-ctx.Done():
		var zero T
		err := ctx.Err()
		if parent.Err() == nil {
			err = timeoutErr(i, timeout, err)
		} else {
			err = fmt.Errorf("%w: %v", model.ErrTimeout, parent.Err())
		}
		return Outcome[T]{Value: zero, Err: err, Duration: time.Since(start)}
	}
}

func timeoutErr(i int, d time.Duration, cause error) error {
	return fmt.Errorf("%w: unit %d exceeded %s: %v", model.ErrTimeout, i, d, cause)
}
