// Package workpool runs independent I/O-bound tasks on a fixed number of
// workers and hands back one tagged result per task.
package workpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds concurrent upstream calls when callers pass <= 0.
const DefaultWorkers = 10

// Result tags a task's value or error with the key it was submitted under.
type Result[K comparable, V any] struct {
	Key   K
	Value V
	Err   error
}

// Run executes fn once per key using at most workers goroutines. Results
// arrive in completion order; exactly len(keys) results are returned. A
// failing or panicking task only affects its own Result.
func Run[K comparable, V any](ctx context.Context, workers int, keys []K, fn func(context.Context, K) (V, error)) []Result[K, V] {
	if len(keys) == 0 {
		return nil
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if workers > len(keys) {
		workers = len(keys)
	}

	tasks := make(chan K)
	results := make(chan Result[K, V], workers)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for k := range tasks {
				results <- call(ctx, k, fn)
			}
			return nil
		})
	}
	go func() {
		for _, k := range keys {
			tasks <- k
		}
		close(tasks)
	}()

	out := make([]Result[K, V], 0, len(keys))
	for range keys {
		out = append(out, <-results)
	}
	_ = g.Wait()
	return out
}

// Collect is Run with the results folded into a map keyed by task key.
func Collect[K comparable, V any](ctx context.Context, workers int, keys []K, fn func(context.Context, K) (V, error)) map[K]Result[K, V] {
	rs := Run(ctx, workers, keys, fn)
	m := make(map[K]Result[K, V], len(rs))
	for _, r := range rs {
		m[r.Key] = r
	}
	return m
}

func call[K comparable, V any](ctx context.Context, k K, fn func(context.Context, K) (V, error)) (res Result[K, V]) {
	res.Key = k
	defer func() {
		if p := recover(); p != nil {
			res.Err = fmt.Errorf("task %v panicked: %v", k, p)
		}
	}()
	res.Value, res.Err = fn(ctx, k)
	return res
}
