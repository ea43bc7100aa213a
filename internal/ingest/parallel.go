package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const DefaultConcurrency = 16

// ErrNotDispatched marks items that never ran because the run was aborted
// or its context ended.
var ErrNotDispatched = errors.New("item not dispatched")

type Options struct {
	// Name labels the run in logs.
	Name string
	// Concurrency is the group size. Items of one group run together and
	// the next group starts only after all of them finish.
	Concurrency int
	// GroupDelay is slept between groups.
	GroupDelay time.Duration
	// AbortOn stops dispatching further groups once it returns true for an
	// item error.
	AbortOn func(err error) bool
}

type ItemResult[R any] struct {
	Index int
	Value R
	Err   error
}

type Summary[R any] struct {
	Results      []ItemResult[R]
	SuccessCount int
	ErrorCount   int
	Groups       int
	// AbortErr is the item error that stopped the run, or the context error.
	AbortErr error
}

func (s *Summary[R]) Aborted() bool {
	return s.AbortErr != nil
}

// Processor handles one item. Its error is recorded for the item only and
// never cancels siblings.
type Processor[T, R any] func(ctx context.Context, index int, item T) (R, error)

// ProcessInParallel runs fn over items in fixed-size groups. Every item ends
// up in the summary exactly once, so SuccessCount+ErrorCount == len(items).
func ProcessInParallel[T, R any](ctx context.Context, items []T, fn Processor[T, R], opts Options) *Summary[R] {
	size := opts.Concurrency
	if size <= 0 {
		size = DefaultConcurrency
	}
	total := (len(items) + size - 1) / size
	sum := &Summary[R]{Results: make([]ItemResult[R], len(items)), Groups: total}
	logger := logutil.GetLogger(ctx).With(zap.String("run", opts.Name))

	next := 0
	for g := 0; g < total; g++ {
		if sum.AbortErr == nil && ctx.Err() != nil {
			sum.AbortErr = ctx.Err()
		}
		if sum.AbortErr != nil {
			break
		}
		start := g * size
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		var eg errgroup.Group
		for i := start; i < end; i++ {
			eg.Go(func() error {
				v, err := runOne(ctx, fn, i, items[i])
				sum.Results[i] = ItemResult[R]{Index: i, Value: v, Err: err}
				return nil
			})
		}
		_ = eg.Wait()
		next = end

		success, failed := 0, 0
		for i := start; i < end; i++ {
			err := sum.Results[i].Err
			if err == nil {
				success++
				continue
			}
			failed++
			if sum.AbortErr == nil && opts.AbortOn != nil && opts.AbortOn(err) {
				sum.AbortErr = err
			}
		}
		sum.SuccessCount += success
		sum.ErrorCount += failed
		logger.Info("group finished",
			zap.String("group", fmt.Sprintf("%d/%d", g+1, total)),
			zap.Int("success", success),
			zap.Int("errors", failed),
		)
		if sum.AbortErr != nil {
			logger.Error("run aborted, remaining groups are not dispatched",
				zap.Int("remaining", len(items)-end), zap.Error(sum.AbortErr))
			break
		}
		if opts.GroupDelay > 0 && g+1 < total {
			if err := sleepContext(ctx, opts.GroupDelay); err != nil {
				sum.AbortErr = err
			}
		}
	}
	for i := next; i < len(items); i++ {
		sum.Results[i] = ItemResult[R]{
			Index: i,
			Err:   &StageError{Stage: StageSkipped, Err: fmt.Errorf("%w: %w", ErrNotDispatched, sum.AbortErr)},
		}
		sum.ErrorCount++
	}
	return sum
}

func runOne[T, R any](ctx context.Context, fn Processor[T, R], index int, item T) (v R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("item %d panicked: %v", index, r)
		}
	}()
	return fn(ctx, index, item)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
