package downloader

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"imgharvest/pkg/logger"
	"imgharvest/pkg/models"
)

// processFunc turns one target into a result
type processFunc func(ctx context.Context, workerID int, target models.ResolvedTarget) models.DownloadResult

// downloadJob is one queued target and the result slot it owns
type downloadJob struct {
	slot   int
	target models.ResolvedTarget
}

// WorkerPool runs a fixed number of workers over a job queue. Each worker
// writes only the result slot of the job it took, then reports the slot on
// the result queue.
type WorkerPool struct {
	numWorkers  int
	jobQueue    chan downloadJob
	resultQueue chan int
	results     []models.DownloadResult
	completed   atomic.Int64
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	process     processFunc
	logger      logger.Logger
}

// newWorkerPool creates a pool writing into results. Cancelling parent stops
// the pool from taking new jobs.
func newWorkerPool(parent context.Context, numWorkers int, results []models.DownloadResult, process processFunc, log logger.Logger) *WorkerPool {
	ctx, cancel := context.WithCancel(parent)

	if log == nil {
		log = logger.GetLogger()
	}

	return &WorkerPool{
		numWorkers:  numWorkers,
		jobQueue:    make(chan downloadJob, numWorkers*2),
		resultQueue: make(chan int, numWorkers),
		results:     results,
		ctx:         ctx,
		cancel:      cancel,
		process:     process,
		logger:      log,
	}
}

// Start launches all workers
func (wp *WorkerPool) Start() {
	logger.LogComponentStart(wp.logger, "worker_pool", map[string]interface{}{
		"num_workers": wp.numWorkers,
		"jobs":        len(wp.results),
	})

	for i := 0; i < wp.numWorkers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the job queue, waits for the workers and closes the result queue
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()

	logger.LogComponentStop(wp.logger, "worker_pool", "job queue drained")
}

// Submit queues a target for the given slot
func (wp *WorkerPool) Submit(slot int, target models.ResolvedTarget) error {
	select {
	case wp.jobQueue <- downloadJob{slot: slot, target: target}:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the channel of completed slots. It is closed by Stop.
func (wp *WorkerPool) Results() <-chan int {
	return wp.resultQueue
}

// Completed returns the number of jobs processed so far
func (wp *WorkerPool) Completed() int {
	return int(wp.completed.Load())
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		// drain without processing once cancelled; the caller fills the slot
		if wp.ctx.Err() != nil {
			continue
		}

		wp.results[job.slot] = wp.process(wp.ctx, id, job.target)
		wp.completed.Add(1)
		wp.resultQueue <- job.slot
	}

	wp.logger.DebugWithFields("Worker stopping - job queue closed", map[string]interface{}{
		"worker_id": id,
	})
}
