package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/remindlab/remind/core"
)

// Job is one periodic unit of work. Tick is never invoked concurrently with
// itself; a tick still running when the next interval elapses causes the
// overlapping tick to be skipped.
type Job interface {
	Tick(ctx context.Context) error
}

// JobFunc adapts a function to Job.
type JobFunc func(ctx context.Context) error

// Tick implements Job.
func (f JobFunc) Tick(ctx context.Context) error { return f(ctx) }

// Runner drives named jobs on fixed intervals until stopped.
type Runner struct {
	logger core.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    []runnerJob
}

type runnerJob struct {
	name     string
	interval time.Duration
	job      Job
}

// NewRunner creates an empty runner.
func NewRunner(logger core.Logger) *Runner {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Runner{logger: logger}
}

// Add registers a job. Must be called before Start.
func (r *Runner) Add(name string, interval time.Duration, job Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return core.ErrAlreadyStarted
	}
	if interval <= 0 {
		return core.ErrInvalidConfiguration
	}
	r.jobs = append(r.jobs, runnerJob{name: name, interval: interval, job: job})
	return nil
}

// Start launches one goroutine per job. Each job fires once immediately,
// then on its interval.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return core.ErrAlreadyStarted
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	for _, j := range r.jobs {
		r.wg.Add(1)
		go r.run(ctx, j)
	}

	r.logger.Info("Runner started", map[string]interface{}{
		"operation": "runner_start",
		"jobs":      len(r.jobs),
	})
	return nil
}

// Stop cancels all jobs and waits for in-flight ticks to finish.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

func (r *Runner) run(ctx context.Context, j runnerJob) {
	defer r.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	r.tick(ctx, j)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, j)
		}
	}
}

func (r *Runner) tick(ctx context.Context, j runnerJob) {
	start := time.Now()
	err := j.job.Tick(ctx)
	EmitTick(j.name, start, err)
	if err != nil && ctx.Err() == nil {
		r.logger.Error("Job tick failed", map[string]interface{}{
			"operation": "runner_tick",
			"job":       j.name,
			"error":     err.Error(),
		})
	}
}
