// ABOUTME: Tests for the queue manager lifecycle
// ABOUTME: Claim exclusivity, backoff redelivery, snapshot consistency, reset semantics

package jobs

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley-gateway/internal/retry"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(nil, nil)
	m.Register("message-processing", Options{
		Workers: 2,
		Policy:  retry.Policy{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: time.Minute},
	})
	return m
}

func TestEnqueue_UnknownQueue(t *testing.T) {
	m := newTestManager(t)

	_, err := m.Enqueue("no-such-queue", "work", nil, 0)
	assert.ErrorIs(t, err, ErrQueueUnknown)
}

func TestEnqueue_Saturated(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("tiny", Options{Workers: 1, MaxWaiting: 2})

	_, err := m.Enqueue("tiny", "work", nil, 0)
	require.NoError(t, err)
	_, err = m.Enqueue("tiny", "work", nil, time.Hour) // delayed counts too
	require.NoError(t, err)

	_, err = m.Enqueue("tiny", "work", nil, 0)
	assert.ErrorIs(t, err, ErrQueueSaturated)
}

func TestClaim_FIFO(t *testing.T) {
	m := newTestManager(t)

	first, err := m.Enqueue("message-processing", "work", map[string]string{"n": "1"}, 0)
	require.NoError(t, err)
	second, err := m.Enqueue("message-processing", "work", map[string]string{"n": "2"}, 0)
	require.NoError(t, err)

	got, err := m.Claim("message-processing")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, StatusActive, got.Status)

	got, err = m.Claim("message-processing")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)

	_, err = m.Claim("message-processing")
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestClaim_AtMostOnce(t *testing.T) {
	m := newTestManager(t)

	const total = 200
	for i := 0; i < total; i++ {
		_, err := m.Enqueue("message-processing", "work", nil, 0)
		require.NoError(t, err)
	}

	// Claimers race; every job must be handed out exactly once
	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := m.Claim("message-processing")
				if errors.Is(err, ErrNoJob) {
					return
				}
				require.NoError(t, err)
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s claimed %d times", id, count)
	}
}

func TestClaim_StartsAttempt(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	m.clock = func() time.Time { return now }

	job, err := m.Enqueue("message-processing", "work", nil, 0)
	require.NoError(t, err)
	assert.Zero(t, job.Attempts)
	assert.True(t, job.ProcessedAt.IsZero())

	claimed, err := m.Claim("message-processing")
	require.NoError(t, err)
	assert.Equal(t, 1, claimed.Attempts)
	assert.Equal(t, now, claimed.ProcessedAt)
}

func TestEnqueue_MaxAttemptsOverride(t *testing.T) {
	m := newTestManager(t) // queue policy allows 3 attempts

	job, err := m.Enqueue("message-processing", "work", nil, 0, WithMaxAttempts(1))
	require.NoError(t, err)
	assert.Equal(t, 1, job.MaxAttempts)

	claimed, err := m.Claim("message-processing")
	require.NoError(t, err)
	require.NoError(t, m.Fail(claimed.ID, errors.New("transient")))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestDelayedJob_PromotedWhenDue(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	m.clock = func() time.Time { return now }

	job, err := m.Enqueue("message-processing", "work", nil, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusDelayed, job.Status)

	_, err = m.Claim("message-processing")
	assert.ErrorIs(t, err, ErrNoJob)

	now = now.Add(61 * time.Second)
	got, err := m.Claim("message-processing")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
}

func TestFail_RetriesWithBackoff(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	m.clock = func() time.Time { return now }

	job, err := m.Enqueue("message-processing", "work", nil, 0)
	require.NoError(t, err)

	claimed, err := m.Claim("message-processing")
	require.NoError(t, err)
	require.NoError(t, m.Fail(claimed.ID, errors.New("transient")))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelayed, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "transient", got.Error)
	// First retry waits the base delay
	assert.Equal(t, now.Add(time.Second), got.AvailableAt)

	// Not claimable until the backoff elapses
	_, err = m.Claim("message-processing")
	assert.ErrorIs(t, err, ErrNoJob)

	now = now.Add(2 * time.Second)
	claimed, err = m.Claim("message-processing")
	require.NoError(t, err)
	require.NoError(t, m.Fail(claimed.ID, errors.New("transient again")))

	got, err = m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelayed, got.Status)
	// Second retry waits double the base delay
	assert.Equal(t, now.Add(2*time.Second), got.AvailableAt)
}

func TestFail_ExhaustsToFailed(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("q", Options{
		Workers: 1,
		Policy:  retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
	})

	job, err := m.Enqueue("q", "work", nil, 0)
	require.NoError(t, err)

	claimed, err := m.Claim("q")
	require.NoError(t, err)
	require.NoError(t, m.Fail(claimed.ID, errors.New("fail 1")))

	time.Sleep(5 * time.Millisecond)
	claimed, err = m.Claim("q")
	require.NoError(t, err)
	require.NoError(t, m.Fail(claimed.ID, errors.New("fail 2")))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "fail 2", got.Error)
}

func TestFail_PermanentSkipsRetries(t *testing.T) {
	m := newTestManager(t)

	job, err := m.Enqueue("message-processing", "work", nil, 0)
	require.NoError(t, err)

	claimed, err := m.Claim("message-processing")
	require.NoError(t, err)
	require.NoError(t, m.Fail(claimed.ID, retry.Permanent(errors.New("bad payload"))))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, 1, got.Attempts)
}

func TestComplete_Idempotent(t *testing.T) {
	m := newTestManager(t)

	job, err := m.Enqueue("message-processing", "work", nil, 0)
	require.NoError(t, err)

	claimed, err := m.Claim("message-processing")
	require.NoError(t, err)
	require.NoError(t, m.Complete(claimed.ID, nil))
	require.NoError(t, m.Complete(claimed.ID, nil))
	require.NoError(t, m.Fail(claimed.ID, errors.New("late failure")))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, 1, got.Attempts)

	stats := m.Stats().Stats["message-processing"]
	assert.Equal(t, int64(1), stats.Completed)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestComplete_StoresResult(t *testing.T) {
	m := newTestManager(t)

	job, err := m.Enqueue("message-processing", "work", nil, 0)
	require.NoError(t, err)

	claimed, err := m.Claim("message-processing")
	require.NoError(t, err)
	require.NoError(t, m.Complete(claimed.ID, map[string]any{"delivered": true}))

	got, err := m.Get(job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"delivered":true}`, string(got.Result))
	assert.False(t, got.ProcessedAt.IsZero())
}

func TestComplete_RequiresActive(t *testing.T) {
	m := newTestManager(t)

	job, err := m.Enqueue("message-processing", "work", nil, 0)
	require.NoError(t, err)

	assert.Error(t, m.Complete(job.ID, nil))
	assert.ErrorIs(t, m.Complete("missing", nil), ErrJobNotFound)
}

func TestStats_ConsistentUnderLoad(t *testing.T) {
	m := newTestManager(t)

	const total = 100
	for i := 0; i < total; i++ {
		_, err := m.Enqueue("message-processing", "work", nil, 0)
		require.NoError(t, err)
	}

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			job, err := m.Claim("message-processing")
			if err != nil {
				continue
			}
			_ = m.Complete(job.ID, nil)
		}
	}()

	// Every snapshot must account for all jobs exactly once
	for i := 0; i < 50; i++ {
		s := m.Stats().Stats["message-processing"]
		sum := int64(s.Waiting) + int64(s.Active) + int64(s.Delayed) + s.Completed + s.Failed
		assert.Equal(t, int64(total), sum)
	}
	close(stop)
	wg.Wait()
}

func TestResetStatistics(t *testing.T) {
	m := newTestManager(t)

	done, err := m.Enqueue("message-processing", "work", nil, 0)
	require.NoError(t, err)
	pending, err := m.Enqueue("message-processing", "work", nil, 0)
	require.NoError(t, err)

	claimed, err := m.Claim("message-processing")
	require.NoError(t, err)
	require.NoError(t, m.Complete(claimed.ID, nil))

	m.ResetStatistics()

	// Terminal job purged, counters cleared
	_, err = m.Get(done.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	stats := m.Stats().Stats["message-processing"]
	assert.Equal(t, int64(0), stats.Completed)

	// Non-terminal work survives
	got, err := m.Get(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusWaiting, got.Status)
	assert.Equal(t, 1, stats.Waiting)
}

func TestPrune(t *testing.T) {
	m := newTestManager(t)
	now := time.Now()
	m.clock = func() time.Time { return now }

	job, err := m.Enqueue("message-processing", "work", nil, 0)
	require.NoError(t, err)
	claimed, err := m.Claim("message-processing")
	require.NoError(t, err)
	require.NoError(t, m.Complete(claimed.ID, nil))

	// Too young to prune
	assert.Equal(t, 0, m.Prune(time.Hour))

	now = now.Add(2 * time.Hour)
	assert.Equal(t, 1, m.Prune(time.Hour))
	_, err = m.Get(job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestSnapshot_ListsQueues(t *testing.T) {
	m := NewManager(nil, nil)
	m.Register("zebra", Options{Workers: 1})
	m.Register("alpha", Options{Workers: 1})

	snap := m.Stats()
	assert.True(t, snap.Healthy)
	assert.Equal(t, map[string]bool{"alpha": true, "zebra": true}, snap.Queues)
	assert.Equal(t, []string{"alpha", "zebra"}, snap.QueueNames())
	assert.False(t, snap.Timestamp.IsZero())
}

func TestSnapshot_TotalSumsStates(t *testing.T) {
	m := newTestManager(t)

	for i := 0; i < 3; i++ {
		_, err := m.Enqueue("message-processing", "work", nil, 0)
		require.NoError(t, err)
	}
	claimed, err := m.Claim("message-processing")
	require.NoError(t, err)
	require.NoError(t, m.Complete(claimed.ID, nil))

	qs := m.Stats().Stats["message-processing"]
	assert.Equal(t, int64(3), qs.Total)
	assert.Equal(t, int64(qs.Waiting+qs.Active+qs.Delayed)+qs.Completed+qs.Failed, qs.Total)
}
