// Package worker runs seed-data imports in parallel and reports progress.
package worker

import (
	"context"
	"sync"
	"time"
)

// Kind selects how a seed file is imported.
type Kind string

const (
	// KindOrganizations is a JSON list of organization rows.
	KindOrganizations Kind = "organizations"
	// KindPolygons is a GeoJSON FeatureCollection of land polygons.
	KindPolygons Kind = "polygons"
	// KindLayer is a GeoJSON FeatureCollection stored as a named reference layer.
	KindLayer Kind = "layer"
)

// Importer imports one seed file and reports how many records it wrote.
type Importer interface {
	Import(ctx context.Context, task Task) (int, error)
}

// Task is a single seed file to import.
type Task struct {
	Kind Kind
	Path string
	// Name is the layer name for KindLayer tasks.
	Name string
}

// Result is the outcome of an import task.
type Result struct {
	Task    Task
	Records int
	Err     error
	Elapsed time.Duration
}

// ProgressFunc is called from a single goroutine after each task completes,
// with the number of tasks finished so far.
type ProgressFunc func(r Result, completed, total int)

// Config configures the worker pool.
type Config struct {
	Workers    int
	Importer   Importer
	OnProgress ProgressFunc
}

// Pool runs import tasks in parallel.
type Pool struct {
	workers    int
	importer   Importer
	onProgress ProgressFunc
}

// New creates a new worker pool.
func New(cfg Config) *Pool {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Pool{
		workers:    workers,
		importer:   cfg.Importer,
		onProgress: cfg.OnProgress,
	}
}

// Run executes all tasks and returns their results in completion order.
// It blocks until all tasks complete or the context is cancelled; tasks that
// never started are not reported.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Result {
	if len(tasks) == 0 {
		return nil
	}

	taskCh := make(chan Task, len(tasks))
	resultCh := make(chan Result, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(ctx, taskCh, resultCh)
		}()
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	results := make([]Result, 0, len(tasks))
	done := make(chan struct{})

	go func() {
		for result := range resultCh {
			results = append(results, result)
			if p.onProgress != nil {
				p.onProgress(result, len(results), len(tasks))
			}
		}
		close(done)
	}()

	wg.Wait()
	close(resultCh)
	<-done

	return results
}

// worker processes tasks from the task channel and sends results to the result channel.
func (p *Pool) worker(ctx context.Context, tasks <-chan Task, results chan<- Result) {
	for task := range tasks {
		select {
		case <-ctx.Done():
			results <- Result{
				Task: task,
				Err:  ctx.Err(),
			}
			continue
		default:
		}

		start := time.Now()
		n, err := p.importer.Import(ctx, task)
		elapsed := time.Since(start)

		results <- Result{
			Task:    task,
			Records: n,
			Err:     err,
			Elapsed: elapsed,
		}
	}
}
