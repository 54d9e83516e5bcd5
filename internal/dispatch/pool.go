// Package dispatch fans independent tasks out over a bounded worker pool.
package dispatch

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Task is one independent unit of work
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Result summarizes a batch. Err combines every task failure.
type Result struct {
	Succeeded int
	Failed    int
	Err       error
}

// Pool runs batches of tasks with bounded parallelism
type Pool struct {
	workers int
}

// NewPool creates a pool. workers <= 0 sizes it to GOMAXPROCS.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Pool{workers: workers}
}

// Workers returns the parallelism bound
func (p *Pool) Workers() int {
	return p.workers
}

// Run executes every task and waits for all of them. A failing task never
// cancels its siblings.
func (p *Pool) Run(ctx context.Context, tasks []Task) Result {
	var (
		g   errgroup.Group
		mu  sync.Mutex
		res Result
	)
	g.SetLimit(p.workers)

	for _, task := range tasks {
		g.Go(func() error {
			err := task.Run(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed++
				res.Err = multierr.Append(res.Err, fmt.Errorf("%s: %w", task.Name, err))
				return nil
			}
			res.Succeeded++
			return nil
		})
	}

	_ = g.Wait()
	return res
}
