// Package refresh runs named refresh tasks with bounded concurrency and
// owns the periodic, single-flight refresh pipeline.
package refresh

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

const (
	defaultConcurrency = 3
	maxConcurrency     = 8
)

// Task is one named unit of refresh work.
type Task struct {
	Name  string
	Label string
	Run   func(ctx context.Context) error
}

// Result is a task's settled outcome, reported in input order.
type Result struct {
	Name string
	Err  error
}

// RunTasks executes tasks with a bounded worker pool. Tasks start in input
// order; settled order may differ; results are returned in input order.
// Peers keep running after a task fails. onError is invoked once per
// failing task, serialized.
func RunTasks(ctx context.Context, tasks []Task, onError func(name string, err error), concurrency int) []Result {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	if concurrency > maxConcurrency {
		concurrency = maxConcurrency
	}

	results := make([]Result, len(tasks))
	sem := semaphore.NewWeighted(int64(concurrency))
	var wg sync.WaitGroup
	var errMu sync.Mutex

	reportError := func(name string, err error) {
		if onError == nil {
			return
		}
		errMu.Lock()
		defer errMu.Unlock()
		onError(name, err)
	}

	for i, task := range tasks {
		results[i] = Result{Name: task.Name}
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i].Err = err
			reportError(task.Name, err)
			continue
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			defer sem.Release(1)
			if err := task.Run(ctx); err != nil {
				results[i].Err = err
				reportError(task.Name, err)
			}
		}(i, task)
	}
	wg.Wait()
	return results
}
