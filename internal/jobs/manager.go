// ABOUTME: In-memory queue manager: named queues, claim/complete/fail lifecycle
// ABOUTME: Single lock across queues so Stats returns one consistent snapshot

package jobs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley-gateway/internal/retry"
)

// Options configures one named queue.
type Options struct {
	// Workers is the size of the worker pool for this queue.
	Workers int
	// MaxWaiting bounds waiting+delayed jobs; 0 means unbounded.
	MaxWaiting int
	// Policy controls redelivery of failed jobs.
	Policy retry.Policy
}

// queue holds the per-queue state. All fields are guarded by Manager.mu.
type queue struct {
	opts    Options
	waiting []string
	delayed []string

	completedTotal int64
	failedTotal    int64
	retriedTotal   int64
}

// QueueStats is the per-queue portion of a Stats snapshot. Total counts every
// job the queue has seen that is still tracked or tallied.
type QueueStats struct {
	Waiting   int   `json:"waiting"`
	Active    int   `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Delayed   int   `json:"delayed"`
	Retried   int64 `json:"retried"`
	Total     int64 `json:"total"`
}

// Snapshot is a consistent view of every queue at one instant. Queues maps
// each registered queue name to its health (registered queues are always
// healthy in-process; the map doubles as the registry listing).
type Snapshot struct {
	Healthy   bool                  `json:"healthy"`
	Queues    map[string]bool       `json:"queues"`
	Stats     map[string]QueueStats `json:"stats"`
	Timestamp time.Time             `json:"timestamp"`
}

// QueueNames returns the snapshot's queue names, sorted.
func (s Snapshot) QueueNames() []string {
	names := make([]string, 0, len(s.Queues))
	for name := range s.Queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Manager owns the named queues. A single mutex guards all queue state: jobs
// move between lists atomically and Stats never observes a job in two states.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*queue
	jobs   map[string]*Job

	metrics *Metrics
	logger  *slog.Logger
	clock   func() time.Time
}

// NewManager creates an empty manager; queues are added with Register.
func NewManager(metrics *Metrics, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		queues:  make(map[string]*queue),
		jobs:    make(map[string]*Job),
		metrics: metrics,
		logger:  logger.With("component", "jobs"),
		clock:   time.Now,
	}
}

// Register creates a named queue. Registering the same name twice replaces
// the options but keeps the queue's jobs and counters.
func (m *Manager) Register(name string, opts Options) {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[name]; ok {
		q.opts = opts
		return
	}
	m.queues[name] = &queue{opts: opts}
}

// QueueNames returns the registered queue names, sorted.
func (m *Manager) QueueNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.queues))
	for name := range m.queues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Workers returns the configured worker count for a queue.
func (m *Manager) Workers(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if q, ok := m.queues[name]; ok {
		return q.opts.Workers
	}
	return 0
}

// EnqueueOption customizes one job at enqueue time.
type EnqueueOption func(*Job)

// WithMaxAttempts overrides the queue policy's attempt budget for this job.
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// Enqueue adds a job to a queue. A positive delay parks it as Delayed until
// the delay elapses; otherwise it joins the waiting list immediately.
func (m *Manager) Enqueue(queueName, jobType string, payload any, delay time.Duration, opts ...EnqueueOption) (*Job, error) {
	raw, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueUnknown, queueName)
	}
	if q.opts.MaxWaiting > 0 && len(q.waiting)+len(q.delayed) >= q.opts.MaxWaiting {
		return nil, fmt.Errorf("%w: %s", ErrQueueSaturated, queueName)
	}

	now := m.clock()
	job := &Job{
		ID:          uuid.New().String(),
		Queue:       queueName,
		Type:        jobType,
		Payload:     raw,
		MaxAttempts: q.opts.Policy.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
		AvailableAt: now,
	}
	for _, opt := range opts {
		opt(job)
	}

	if delay > 0 {
		job.Status = StatusDelayed
		job.AvailableAt = now.Add(delay)
		q.delayed = append(q.delayed, job.ID)
	} else {
		job.Status = StatusWaiting
		q.waiting = append(q.waiting, job.ID)
	}

	m.jobs[job.ID] = job
	m.metrics.jobEnqueued(queueName)
	m.logger.Debug("job enqueued",
		"job_id", job.ID, "queue", queueName, "type", jobType, "status", job.Status)
	return cloneJob(job), nil
}

// Claim hands out the oldest runnable job, moving it to Active. Due delayed
// jobs are promoted first so they keep their original ordering against the
// waiting list by availability time. At most one caller receives any given
// job; ErrNoJob means the queue is idle.
func (m *Manager) Claim(queueName string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueUnknown, queueName)
	}

	m.promoteDueLocked(q)

	if len(q.waiting) == 0 {
		return nil, ErrNoJob
	}
	id := q.waiting[0]
	q.waiting = q.waiting[1:]

	job := m.jobs[id]
	now := m.clock()
	job.Status = StatusActive
	job.Attempts++
	job.ProcessedAt = now
	job.UpdatedAt = now
	return cloneJob(job), nil
}

// promoteDueLocked moves due delayed jobs onto the waiting list, oldest
// availability first. Caller holds m.mu.
func (m *Manager) promoteDueLocked(q *queue) {
	if len(q.delayed) == 0 {
		return
	}
	now := m.clock()
	var due, still []string
	for _, id := range q.delayed {
		if job := m.jobs[id]; job != nil && !job.AvailableAt.After(now) {
			due = append(due, id)
		} else {
			still = append(still, id)
		}
	}
	if len(due) == 0 {
		return
	}
	sort.Slice(due, func(i, j int) bool {
		return m.jobs[due[i]].AvailableAt.Before(m.jobs[due[j]].AvailableAt)
	})
	for _, id := range due {
		job := m.jobs[id]
		job.Status = StatusWaiting
		job.UpdatedAt = now
		q.waiting = append(q.waiting, id)
	}
	q.delayed = still
}

// Complete marks an active job as Completed, recording the handler's result.
// Completing a job that already reached a terminal state is a no-op, so
// handler retries stay idempotent.
func (m *Manager) Complete(jobID string, result any) error {
	raw, err := marshalPayload(result)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return nil
	}
	if job.Status != StatusActive {
		return fmt.Errorf("job %s is %s, not active", jobID, job.Status)
	}

	q := m.queues[job.Queue]
	now := m.clock()
	job.Status = StatusCompleted
	job.Error = ""
	job.Result = raw
	job.UpdatedAt = now
	job.FinishedAt = now
	q.completedTotal++
	m.metrics.jobCompleted(job.Queue, now.Sub(job.CreatedAt))
	return nil
}

// Fail records a failed execution. The job is parked as Delayed with
// exponential backoff while attempts remain, and becomes Failed once the
// queue's retry policy is exhausted or the error is permanent.
func (m *Manager) Fail(jobID string, cause error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status.Terminal() {
		return nil
	}
	if job.Status != StatusActive {
		return fmt.Errorf("job %s is %s, not active", jobID, job.Status)
	}

	q := m.queues[job.Queue]
	now := m.clock()
	job.UpdatedAt = now
	if cause != nil {
		job.Error = cause.Error()
	}

	exhausted := q.opts.Policy.Exhausted(job.Attempts)
	if job.MaxAttempts > 0 {
		exhausted = job.Attempts >= job.MaxAttempts
	}
	if retry.IsPermanent(cause) || exhausted {
		job.Status = StatusFailed
		job.FinishedAt = now
		q.failedTotal++
		m.metrics.jobFailed(job.Queue)
		m.logger.Warn("job failed permanently",
			"job_id", job.ID, "queue", job.Queue, "type", job.Type,
			"attempts", job.Attempts, "error", job.Error)
		return nil
	}

	backoff := q.opts.Policy.Delay(job.Attempts)
	job.Status = StatusDelayed
	job.AvailableAt = now.Add(backoff)
	q.delayed = append(q.delayed, job.ID)
	q.retriedTotal++
	m.metrics.jobRetried(job.Queue)
	m.logger.Debug("job scheduled for retry",
		"job_id", job.ID, "queue", job.Queue, "attempts", job.Attempts, "backoff", backoff)
	return nil
}

// Get returns a copy of a job by ID.
func (m *Manager) Get(jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return cloneJob(job), nil
}

// Stats returns one consistent snapshot across all queues: every job is
// counted in exactly one state, and counts sum with the totals taken at the
// same instant.
func (m *Manager) Stats() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := Snapshot{
		Healthy:   true,
		Queues:    make(map[string]bool, len(m.queues)),
		Stats:     make(map[string]QueueStats, len(m.queues)),
		Timestamp: m.clock().UTC(),
	}
	active := make(map[string]int, len(m.queues))
	for _, job := range m.jobs {
		if job.Status == StatusActive {
			active[job.Queue]++
		}
	}
	for name, q := range m.queues {
		snap.Queues[name] = true
		qs := QueueStats{
			Waiting:   len(q.waiting),
			Active:    active[name],
			Completed: q.completedTotal,
			Failed:    q.failedTotal,
			Delayed:   len(q.delayed),
			Retried:   q.retriedTotal,
		}
		qs.Total = int64(qs.Waiting+qs.Active+qs.Delayed) + qs.Completed + qs.Failed
		snap.Stats[name] = qs
	}
	m.metrics.observeDepths(snap.Stats)
	return snap
}

// ResetStatistics clears counters and purges terminal jobs. Waiting, active
// and delayed jobs are untouched; work in flight is never lost to a reset.
func (m *Manager) ResetStatistics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, job := range m.jobs {
		if job.Status.Terminal() {
			delete(m.jobs, id)
		}
	}
	for _, q := range m.queues {
		q.completedTotal = 0
		q.failedTotal = 0
		q.retriedTotal = 0
	}
	m.logger.Info("queue statistics reset")
}

// Prune removes terminal jobs older than the retention period. Returns the
// number of jobs removed.
func (m *Manager) Prune(olderThan time.Duration) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.clock().Add(-olderThan)
	pruned := 0
	for id, job := range m.jobs {
		if job.Status.Terminal() && job.FinishedAt.Before(cutoff) {
			delete(m.jobs, id)
			pruned++
		}
	}
	if pruned > 0 {
		m.logger.Debug("pruned terminal jobs", "count", pruned)
	}
	return pruned
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch v := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	case []byte:
		return json.RawMessage(v), nil
	default:
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshaling payload: %w", err)
		}
		return raw, nil
	}
}
