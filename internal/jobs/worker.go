// ABOUTME: Worker pools that drain the named queues
// ABOUTME: Handlers run under a per-job context; outcomes feed Complete or Fail

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Handler executes jobs of one queue. Returning nil completes the job; any
// error schedules a retry unless wrapped with retry.Permanent.
type Handler interface {
	Execute(ctx context.Context, job *Job) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, job *Job) error

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// Pool runs the worker goroutines for every queue that has a handler.
// Queues without a handler accumulate jobs until one is attached; that is
// how tests and external drains inspect queue contents.
type Pool struct {
	manager  *Manager
	logger   *slog.Logger
	interval time.Duration

	mu       sync.Mutex
	handlers map[string]Handler
	started  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPool creates a pool over the manager. interval is the idle poll period;
// zero selects a sensible default.
func NewPool(manager *Manager, logger *slog.Logger, interval time.Duration) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	return &Pool{
		manager:  manager,
		logger:   logger.With("component", "workers"),
		interval: interval,
		handlers: make(map[string]Handler),
	}
}

// Handle attaches the handler for a queue. Must be called before Start.
func (p *Pool) Handle(queueName string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[queueName] = h
}

// Start launches the configured number of workers per handled queue.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return errors.New("worker pool already started")
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for queueName, handler := range p.handlers {
		workers := p.manager.Workers(queueName)
		if workers == 0 {
			return fmt.Errorf("%w: %s", ErrQueueUnknown, queueName)
		}
		for i := 0; i < workers; i++ {
			p.wg.Add(1)
			go p.run(ctx, queueName, handler)
		}
		p.logger.Info("workers started", "queue", queueName, "workers", workers)
	}
	return nil
}

// Stop cancels the workers and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
}

func (p *Pool) run(ctx context.Context, queueName string, handler Handler) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		job, err := p.manager.Claim(queueName)
		switch {
		case err == nil:
			p.execute(ctx, job, handler)
			continue
		case errors.Is(err, ErrNoJob):
			// fall through to the idle wait
		default:
			p.logger.Error("claim failed", "queue", queueName, "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Pool) execute(ctx context.Context, job *Job, handler Handler) {
	err := safeExecute(ctx, job, handler)
	if err != nil {
		if failErr := p.manager.Fail(job.ID, err); failErr != nil {
			p.logger.Error("recording failure", "job_id", job.ID, "error", failErr)
		}
		return
	}
	if completeErr := p.manager.Complete(job.ID, nil); completeErr != nil {
		p.logger.Error("recording completion", "job_id", job.ID, "error", completeErr)
	}
}

// safeExecute converts a handler panic into a job failure instead of taking
// down the worker.
func safeExecute(ctx context.Context, job *Job, handler Handler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Execute(ctx, job)
}
