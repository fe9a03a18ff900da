package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/herald-sh/herald"
	"github.com/herald-sh/herald/ext"
	"github.com/herald-sh/herald/id"
	"github.com/herald-sh/herald/job"
	"github.com/herald-sh/herald/queue"
)

// Pool manages a set of concurrent worker goroutines draining the
// in-memory queue, plus a loader goroutine that scans the store for
// pending jobs and fired retry timers.
type Pool struct {
	queue      *queue.Queue
	store      job.Store
	executor   *Executor
	extensions *ext.Registry
	limiter    *queue.Limiter
	logger     *slog.Logger
	workerID   id.WorkerID

	workers      int
	pollInterval time.Duration
	loadBatch    int

	popCtx  context.Context
	popStop context.CancelFunc

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup

	activeMu   sync.Mutex
	activeJobs map[string]context.CancelFunc
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithWorkers sets the number of concurrent worker goroutines.
func WithWorkers(n int) PoolOption {
	return func(p *Pool) { p.workers = n }
}

// WithPollInterval sets how often the loader scans the store.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// WithLoadBatch bounds how many jobs a single loader pass pulls from
// the store.
func WithLoadBatch(n int) PoolOption {
	return func(p *Pool) { p.loadBatch = n }
}

// WithLimiter sets the per-channel rate and concurrency limiter.
func WithLimiter(l *queue.Limiter) PoolOption {
	return func(p *Pool) { p.limiter = l }
}

// NewPool creates a worker pool draining q.
func NewPool(
	q *queue.Queue,
	store job.Store,
	executor *Executor,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...PoolOption,
) *Pool {
	p := &Pool{
		queue:        q,
		store:        store,
		executor:     executor,
		extensions:   extensions,
		logger:       logger,
		workerID:     id.NewWorkerID(),
		workers:      4,
		pollInterval: 10 * time.Second,
		loadBatch:    100,
		activeJobs:   make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// WorkerID returns the pool's unique worker identifier.
func (p *Pool) WorkerID() id.WorkerID { return p.workerID }

// Start launches the worker and loader goroutines. It returns
// immediately; calling Start on a running pool is a no-op.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true
	p.popCtx, p.popStop = context.WithCancel(context.Background())

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("workers", p.workers),
		slog.Duration("poll_interval", p.pollInterval),
	)

	for range p.workers {
		p.wg.Add(1)
		go p.runLoop()
	}

	p.wg.Add(1)
	go p.loaderLoop()

	return nil
}

// Stop drains the pool: no new jobs are popped, in-flight jobs get
// until the context deadline to finish, then their contexts are
// cancelled. Calling Stop on a stopped pool is a no-op.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))

	// Stop popping and loading; in-flight executions keep running.
	p.popStop()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active jobs")
		p.cancelActiveJobs()
		p.wg.Wait()
	}

	return nil
}

// runLoop is run by each worker goroutine.
func (p *Pool) runLoop() {
	defer p.wg.Done()

	for {
		j, err := p.queue.Pop(p.popCtx)
		if err != nil {
			return
		}
		p.process(j)
	}
}

// process executes one popped job. The queue keeps the job's ID tracked
// until Done, which guarantees at most one concurrent attempt per job.
func (p *Pool) process(j *job.Job) {
	defer p.queue.Done(j.ID.String())

	ctx := context.Background()

	// The job may have been cancelled (or finished elsewhere) while it
	// sat in the queue.
	state, err := p.store.GetJobStatus(ctx, j.ID)
	if err == nil && state.Terminal() {
		p.logger.Debug("skipping terminal job",
			slog.String("job_id", j.ID.String()),
			slog.String("state", string(state)),
		)
		return
	}

	// Per-channel rate limit and concurrency. A throttled job goes back
	// to pending with a small delay; the loader will pick it up again.
	ch := jobChannel(j)
	if p.limiter != nil && !p.limiter.Acquire(ch) {
		j.State = job.StatePending
		j.RunAt = time.Now().UTC().Add(p.pollInterval)
		j.Touch()
		if updateErr := p.store.UpdateJob(ctx, j); updateErr != nil {
			p.logger.Error("failed to park rate-limited job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", updateErr.Error()),
			)
		}
		return
	}
	if p.limiter != nil {
		defer p.limiter.Release(ch)
	}

	p.extensions.EmitJobStarted(ctx, j)

	execCtx, cancel := context.WithCancel(ctx)
	p.trackJob(j.ID.String(), cancel)

	if execErr := p.executor.Execute(execCtx, j); execErr != nil {
		p.logger.Debug("job execution failed",
			slog.String("job_id", j.ID.String()),
			slog.String("channel", ch),
			slog.String("error", execErr.Error()),
		)
	}

	p.untrackJob(j.ID.String())
	cancel()
}

// loaderLoop scans the store for runnable jobs: once immediately at
// startup (crash recovery) and then every poll interval (retry timers
// and jobs enqueued by other processes).
func (p *Pool) loaderLoop() {
	defer p.wg.Done()

	p.recoverStale()
	p.loadOnce()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.popCtx.Done():
			return
		case <-ticker.C:
			p.loadOnce()
		}
	}
}

// recoverStale releases jobs a crashed previous run left in processing
// so the first load pass picks them up. Runs before any worker claims.
func (p *Pool) recoverStale() {
	n, err := p.store.RecoverStaleJobs(context.Background())
	if err != nil {
		p.logger.Error("recover stale jobs", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		p.logger.Warn("recovered jobs left processing by a previous run", slog.Int("count", n))
	}
}

func (p *Pool) loadOnce() {
	jobs, err := p.store.LoadPendingJobs(context.Background(), p.loadBatch)
	if err != nil {
		p.logger.Error("load pending jobs", slog.String("error", err.Error()))
		return
	}

	for _, j := range jobs {
		if err := p.queue.Push(j); err != nil {
			if errors.Is(err, herald.ErrQueueFull) {
				p.logger.Debug("queue full, deferring remaining jobs")
				return
			}
			p.logger.Error("failed to enqueue loaded job",
				slog.String("job_id", j.ID.String()),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (p *Pool) trackJob(jobID string, cancel context.CancelFunc) {
	p.activeMu.Lock()
	p.activeJobs[jobID] = cancel
	p.activeMu.Unlock()
}

func (p *Pool) untrackJob(jobID string) {
	p.activeMu.Lock()
	delete(p.activeJobs, jobID)
	p.activeMu.Unlock()
}

func (p *Pool) cancelActiveJobs() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for jobID, cancel := range p.activeJobs {
		p.logger.Warn("cancelling active job", slog.String("job_id", jobID))
		cancel()
	}
}
