package worker

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
)

// Job is a unit of work executed by the pool
type Job struct {
	ID  string
	Run func(ctx context.Context) error
}

// Result is the outcome of one job
type Result struct {
	JobID string
	Err   error
}

// WorkerPool runs submitted jobs on a fixed number of workers
type WorkerPool struct {
	logger     arbor.ILogger
	numWorkers int
	jobs       chan Job
	results    chan Result
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	started    bool
	mu         sync.Mutex
}

// NewWorkerPool creates a pool bound to parent. Cancelling parent stops the workers.
func NewWorkerPool(parent context.Context, logger arbor.ILogger, numWorkers int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	ctx, cancel := context.WithCancel(parent)

	return &WorkerPool{
		logger:     logger,
		numWorkers: numWorkers,
		jobs:       make(chan Job),
		results:    make(chan Result, numWorkers),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true

	wp.logger.Debug().
		Int("num_workers", wp.numWorkers).
		Msg("Starting worker pool")

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Submit queues a job, blocking until a worker accepts it or the pool is stopped
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool stopped: %w", wp.ctx.Err())
	case wp.jobs <- job:
		return nil
	}
}

// Results delivers one Result per accepted job
func (wp *WorkerPool) Results() <-chan Result {
	return wp.results
}

// Stop stops accepting jobs and waits for running ones to finish
func (wp *WorkerPool) Stop() {
	wp.cancel()
	wp.wg.Wait()
	wp.logger.Debug().Msg("Worker pool stopped")
}

// worker is the main worker loop
func (wp *WorkerPool) worker(workerID int) {
	defer wp.wg.Done()

	for {
		select {
		case <-wp.ctx.Done():
			return
		case job := <-wp.jobs:
			wp.execute(workerID, job)
		}
	}
}

func (wp *WorkerPool) execute(workerID int, job Job) {
	wp.logger.Debug().
		Int("worker_id", workerID).
		Str("job_id", job.ID).
		Msg("Processing job")

	err := wp.runSafely(job)
	if err != nil {
		wp.logger.Error().
			Err(err).
			Str("job_id", job.ID).
			Msg("Job failed")
	}

	// results is read by the submitter; do not block shutdown on it
	select {
	case wp.results <- Result{JobID: job.ID, Err: err}:
	case <-wp.ctx.Done():
	}
}

func (wp *WorkerPool) runSafely(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.ID, r)
		}
	}()
	return job.Run(wp.ctx)
}

// RunAll executes jobs on a temporary pool and returns their results in submission order
func RunAll(ctx context.Context, logger arbor.ILogger, numWorkers int, jobs []Job) []Result {
	results := make([]Result, len(jobs))
	if len(jobs) == 0 {
		return results
	}

	index := make(map[string]int, len(jobs))
	for i, job := range jobs {
		index[job.ID] = i
		results[i] = Result{JobID: job.ID, Err: context.Canceled}
	}

	pool := NewWorkerPool(ctx, logger, numWorkers)
	pool.Start()
	defer pool.Stop()

	completed := 0
	go func() {
		for _, job := range jobs {
			if err := pool.Submit(job); err != nil {
				return
			}
		}
	}()

	for completed < len(jobs) {
		select {
		case res := <-pool.Results():
			results[index[res.JobID]] = res
			completed++
		case <-ctx.Done():
			return results
		}
	}
	return results
}
