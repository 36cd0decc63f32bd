// Package workerpool provides the bounded async executor used to run
// copyup materialisation and other fire-and-forget object-store work off
// the caller's goroutine.
package workerpool

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"cloneio/pkg/helper/errors"
	"cloneio/pkg/helper/log"
)

// TaskFunc is a unit of work submitted to the pool.
type TaskFunc func(ctx context.Context) error

// Job represents a queued task with submission bookkeeping.
type Job struct {
	ID             string
	Task           TaskFunc
	Context        context.Context
	EstimatedBytes int64
	SubmissionTime time.Time
}

// JobResult carries the outcome of a completed job.
type JobResult struct {
	JobID          string
	Error          error
	ExecutionTime  time.Duration
	QueueTime      time.Duration
	BytesProcessed int64
	WorkerID       int
}

// Config configures the pool.
type Config struct {
	MinWorkers int
	MaxWorkers int
	QueueDepth int
}

// DefaultConfig returns sane defaults for an I/O-bound copyup workload.
func DefaultConfig() Config {
	return Config{
		MinWorkers: 0, // auto-detect
		MaxWorkers: 0, // auto-detect
		QueueDepth: 256,
	}
}

// Pool is a bounded goroutine pool with a job queue, a results channel and
// queue-depth-driven scaling between MinWorkers and MaxWorkers.
type Pool struct {
	minWorkers     int
	maxWorkers     int
	currentWorkers atomic.Int32

	jobQueue chan Job
	results  chan JobResult

	waitGroup   sync.WaitGroup
	stopContext context.Context
	stopFunc    context.CancelFunc
	started     atomic.Bool
	stopped     atomic.Bool

	resultsMu     sync.Mutex
	resultsClosed atomic.Bool

	lastAdjustment atomic.Int64
	totalJobs      atomic.Int64
	totalBytes     atomic.Int64

	logger log.Logger
}

// New creates a new worker pool.
func New(cfg Config, logger log.Logger) *Pool {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}

	minWorkers := cfg.MinWorkers
	if minWorkers <= 0 {
		minWorkers = runtime.NumCPU() * 2
		if minWorkers < 4 {
			minWorkers = 4
		}
	}

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = runtime.NumCPU() * 8
		if maxWorkers < 32 {
			maxWorkers = 32
		}
	}

	queueDepth := cfg.QueueDepth
	if queueDepth <= 0 {
		queueDepth = maxWorkers * 4
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pool{
		minWorkers:  minWorkers,
		maxWorkers:  maxWorkers,
		jobQueue:    make(chan Job, queueDepth),
		results:     make(chan JobResult, queueDepth),
		stopContext: ctx,
		stopFunc:    cancel,
		logger:      logger,
	}
	p.currentWorkers.Store(int32(minWorkers))

	return p
}

// Start launches the pool's minimum worker set and its scaling monitor.
func (p *Pool) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("worker pool already started")
	}

	p.logger.WithFields(map[string]interface{}{
		"min_workers": p.minWorkers,
		"max_workers": p.maxWorkers,
	}).Info("starting worker pool")

	for i := 0; i < p.minWorkers; i++ {
		p.startWorker(i)
	}

	go p.scalingMonitor()

	return nil
}

func (p *Pool) startWorker(workerID int) {
	p.waitGroup.Add(1)
	go func() {
		defer p.waitGroup.Done()
		p.worker(workerID)
	}()
}

func (p *Pool) worker(workerID int) {
	for {
		select {
		case <-p.stopContext.Done():
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.run(workerID, job)
		}
	}
}

func (p *Pool) run(workerID int, job Job) {
	start := time.Now()
	queueTime := start.Sub(job.SubmissionTime)

	ctx := job.Context
	if ctx == nil {
		ctx = p.stopContext
	}

	err := job.Task(ctx)
	execTime := time.Since(start)

	p.totalJobs.Add(1)
	p.totalBytes.Add(job.EstimatedBytes)

	p.sendResult(JobResult{
		JobID:          job.ID,
		Error:          err,
		ExecutionTime:  execTime,
		QueueTime:      queueTime,
		BytesProcessed: job.EstimatedBytes,
		WorkerID:       workerID,
	})

	fields := map[string]interface{}{
		"worker_id":    workerID,
		"job_id":       job.ID,
		"execution_ms": execTime.Milliseconds(),
		"queue_ms":     queueTime.Milliseconds(),
	}
	if err != nil {
		p.logger.WithFields(fields).WithError(err).Warn("job failed")
	} else {
		p.logger.WithFields(fields).Debug("job completed")
	}
}

func (p *Pool) sendResult(result JobResult) {
	if p.resultsClosed.Load() {
		return
	}
	select {
	case p.results <- result:
	case <-p.stopContext.Done():
	default:
		p.logger.WithField("job_id", result.JobID).Warn("results channel full, discarding result")
	}
}

// Submit enqueues a job. It returns an error if the pool is stopped or the
// queue is full — callers that need fire-and-forget semantics (the
// copy-on-read copyup path) should treat a full queue as "run inline".
func (p *Pool) Submit(job Job) error {
	if p.stopped.Load() {
		return errors.New("worker pool is stopped")
	}
	job.SubmissionTime = time.Now()

	select {
	case <-p.stopContext.Done():
		return errors.New("worker pool is stopping")
	case p.jobQueue <- job:
		return nil
	default:
		return errors.New("job queue is full")
	}
}

// Results returns the channel of completed job results.
func (p *Pool) Results() <-chan JobResult {
	return p.results
}

func (p *Pool) scalingMonitor() {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopContext.Done():
			return
		case <-ticker.C:
			p.adjustWorkerCount()
		}
	}
}

// adjustWorkerCount scales the pool up when the queue backs up. It never
// scales down explicitly — idle workers simply park on jobQueue and exit
// when the pool stops (natural attrition), matching the teacher's design.
func (p *Pool) adjustWorkerCount() {
	current := int(p.currentWorkers.Load())
	queueDepth := len(p.jobQueue)

	if queueDepth <= current*2 || current >= p.maxWorkers {
		return
	}

	now := time.Now().Unix()
	if now-p.lastAdjustment.Load() < 2 {
		return
	}

	p.startWorker(current)
	p.currentWorkers.Add(1)
	p.lastAdjustment.Store(now)

	p.logger.WithFields(map[string]interface{}{
		"new_worker_count": current + 1,
		"queue_depth":      queueDepth,
	}).Info("scaled up worker pool")
}

// Stop drains in-flight jobs and shuts the pool down.
func (p *Pool) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}

	p.stopFunc()
	close(p.jobQueue)
	p.waitGroup.Wait()
	p.closeResults()

	p.logger.Info("worker pool stopped")
}

func (p *Pool) closeResults() {
	p.resultsMu.Lock()
	defer p.resultsMu.Unlock()

	if !p.resultsClosed.Load() {
		close(p.results)
		p.resultsClosed.Store(true)
	}
}

// Report summarises pool activity.
type Report struct {
	CurrentWorkers int
	MinWorkers     int
	MaxWorkers     int
	QueueDepth     int
	TotalJobs      int64
	TotalBytes     int64
}

// GetReport returns a snapshot of the pool's activity.
func (p *Pool) GetReport() Report {
	return Report{
		CurrentWorkers: int(p.currentWorkers.Load()),
		MinWorkers:     p.minWorkers,
		MaxWorkers:     p.maxWorkers,
		QueueDepth:     len(p.jobQueue),
		TotalJobs:      p.totalJobs.Load(),
		TotalBytes:     p.totalBytes.Load(),
	}
}
