package pool

import (
	"context"
	"sync"
)

// MapFunc turns one item into a result.
type MapFunc[T, R any] func(ctx context.Context, item T) (R, error)

// Result is the outcome for the item at Index.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// Map runs fn over items on numWorkers goroutines and returns one Result per
// processed item, ordered by the item's position. numWorkers below 1 is
// treated as 1.
func Map[T, R any](ctx context.Context, items []T, numWorkers int, fn MapFunc[T, R]) []Result[R] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	var wg sync.WaitGroup
	tasks := make(chan int, numWorkers)
	done := make([]bool, len(items))
	out := make([]Result[R], len(items))

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range tasks {
				if ctx.Err() != nil {
					continue
				}
				v, err := fn(ctx, items[idx])
				out[idx] = Result[R]{Index: idx, Value: v, Err: err}
				done[idx] = true
			}
		}()
	}

OUT:
	for i := range items {
		select {
		case tasks <- i:
		case <-ctx.Done():
			break OUT
		}
	}
	close(tasks)
	wg.Wait()

	results := make([]Result[R], 0, len(items))
	for i, ok := range done {
		if ok {
			results = append(results, out[i])
		}
	}
	return results
}
