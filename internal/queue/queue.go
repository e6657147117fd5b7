package queue

import (
	"sync"
	"sync/atomic"

	"github.com/imyashkale/mcphost/internal/logger"
)

// Action names the lifecycle step a job performs
type Action string

const (
	ActionStart       Action = "start"
	ActionHealthCheck Action = "health_check"
	ActionStop        Action = "stop"
)

// LifecycleJob is one server-level unit of work in a bulk sweep
type LifecycleJob struct {
	ServerID   string
	ServerName string
	Action     Action
}

func (job *LifecycleJob) fields() map[string]interface{} {
	return map[string]interface{}{
		"server_id":   job.ServerID,
		"server_name": job.ServerName,
		"action":      string(job.Action),
	}
}

// JobQueue is a buffered, closable channel of lifecycle jobs
type JobQueue struct {
	jobs   chan *LifecycleJob
	mu     sync.Mutex
	closed bool
}

// NewJobQueue creates a new job queue with the specified buffer size
func NewJobQueue(bufferSize int) *JobQueue {
	return &JobQueue{
		jobs: make(chan *LifecycleJob, bufferSize),
	}
}

// Enqueue adds a job without blocking
func (jq *JobQueue) Enqueue(job *LifecycleJob) error {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.closed {
		logger.WithFields(job.fields()).Warn("Failed to enqueue job: queue is closed")
		return ErrQueueClosed
	}

	select {
	case jq.jobs <- job:
		logger.WithFields(job.fields()).Debug("Lifecycle job enqueued")
		return nil
	default:
		logger.WithFields(job.fields()).Warn("Failed to enqueue job: queue is full")
		return ErrQueueFull
	}
}

// Jobs returns the underlying channel for job consumption
func (jq *JobQueue) Jobs() <-chan *LifecycleJob {
	return jq.jobs
}

// Close stops accepting jobs; already queued jobs are still delivered
func (jq *JobQueue) Close() {
	jq.mu.Lock()
	defer jq.mu.Unlock()

	if jq.closed {
		return
	}
	jq.closed = true
	close(jq.jobs)
}

// WorkerPool manages multiple workers processing jobs
type WorkerPool struct {
	workers   int
	jobs      <-chan *LifecycleJob
	wg        sync.WaitGroup
	done      chan struct{}
	stopOnce  sync.Once
	succeeded atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(queue *JobQueue, numWorkers int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &WorkerPool{
		workers: numWorkers,
		jobs:    queue.jobs,
		done:    make(chan struct{}),
	}
}

// Start starts all workers
func (wp *WorkerPool) Start(handler func(*LifecycleJob) error) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(handler)
	}
}

func (wp *WorkerPool) worker(handler func(*LifecycleJob) error) {
	defer wp.wg.Done()

	for {
		select {
		case job, ok := <-wp.jobs:
			if !ok {
				logger.Debug("Worker exiting: jobs channel closed")
				return
			}
			if job == nil {
				continue
			}
			wp.run(handler, job)
		case <-wp.done:
			logger.Debug("Worker exiting: stop signal received")
			return
		}
	}
}

// run executes one job; a panicking handler counts as a failure
func (wp *WorkerPool) run(handler func(*LifecycleJob) error, job *LifecycleJob) {
	defer func() {
		if r := recover(); r != nil {
			wp.failed.Add(1)
			logger.WithFields(job.fields()).Errorf("Worker recovered from panic: %v", r)
		}
	}()

	if err := handler(job); err != nil {
		wp.failed.Add(1)
		fields := job.fields()
		fields["error"] = err.Error()
		logger.WithFields(fields).Error("Lifecycle job failed")
		return
	}
	wp.succeeded.Add(1)
	logger.WithFields(job.fields()).Debug("Lifecycle job completed")
}

// Stop stops all workers without draining the queue
func (wp *WorkerPool) Stop() {
	wp.stopOnce.Do(func() { close(wp.done) })
	wp.wg.Wait()
}

// Wait waits for all workers to finish
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// Succeeded returns how many jobs completed without error
func (wp *WorkerPool) Succeeded() int {
	return int(wp.succeeded.Load())
}

// Failed returns how many jobs returned an error or panicked
func (wp *WorkerPool) Failed() int {
	return int(wp.failed.Load())
}

// RunAll processes jobs on a pool of workers and blocks until every job
// has been handled. It returns the number of successful jobs.
func RunAll(jobs []*LifecycleJob, workers int, handler func(*LifecycleJob) error) int {
	if len(jobs) == 0 {
		return 0
	}
	if workers > len(jobs) {
		workers = len(jobs)
	}

	jq := NewJobQueue(len(jobs))
	pool := NewWorkerPool(jq, workers)
	pool.Start(handler)

	for _, job := range jobs {
		// Buffer holds every job, so this cannot fail
		_ = jq.Enqueue(job)
	}
	jq.Close()
	pool.Wait()

	return pool.Succeeded()
}
