// internal/queue/pool_test.go
package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailcourier/internal/common/logger"
	"mailcourier/internal/models"
)

type poolJobStore struct {
	mu        sync.Mutex
	pending   []*models.Job
	completed []string
	retried   []string
	killed    []string
	released  []string
}

func (f *poolJobStore) Enqueue(ctx context.Context, queueName string, payload []byte, maxAttempts int, runAt time.Time) (*models.Job, error) {
	return nil, nil
}

func (f *poolJobStore) Lease(ctx context.Context, queueName string, limit int, visibility time.Duration) ([]*models.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := limit
	if n > len(f.pending) {
		n = len(f.pending)
	}
	leased := f.pending[:n]
	f.pending = f.pending[n:]
	for _, job := range leased {
		job.Attempts++
	}
	return leased, nil
}

func (f *poolJobStore) Complete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, id)
	return nil
}

func (f *poolJobStore) Retry(ctx context.Context, id string, runAt time.Time, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, id)
	return nil
}

func (f *poolJobStore) Release(ctx context.Context, id string, runAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, id)
	return nil
}

func (f *poolJobStore) Kill(ctx context.Context, id string, lastErr string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, id)
	return nil
}

func (f *poolJobStore) snapshot() (completed, retried, killed, released []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed...),
		append([]string(nil), f.retried...),
		append([]string(nil), f.killed...),
		append([]string(nil), f.released...)
}

type dispositionHandler struct {
	mu          sync.Mutex
	disposition Disposition
	handled     []string
	done        chan struct{}
}

func (h *dispositionHandler) Handle(ctx context.Context, job *models.Job) Disposition {
	h.mu.Lock()
	h.handled = append(h.handled, job.ID)
	h.mu.Unlock()
	select {
	case h.done <- struct{}{}:
	default:
	}
	return h.disposition
}

func runPool(t *testing.T, jobs *poolJobStore, handler Handler) context.CancelFunc {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(PoolConfig{
		Queue:        models.QueueDelivery,
		Workers:      2,
		PollInterval: 5 * time.Millisecond,
		Visibility:   time.Minute,
	}, jobs, handler, nil, logger.NewTestLogger(t))

	stopped := make(chan struct{})
	go func() {
		pool.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			t.Error("pool did not drain after cancel")
		}
	})
	return cancel
}

func TestPoolCompletesHandledJobs(t *testing.T) {
	jobs := &poolJobStore{pending: []*models.Job{
		{ID: "job-1", Queue: models.QueueDelivery},
		{ID: "job-2", Queue: models.QueueDelivery},
	}}
	handler := &dispositionHandler{disposition: Disposition{Action: ActionDone}, done: make(chan struct{}, 4)}

	runPool(t, jobs, handler)

	for i := 0; i < 2; i++ {
		select {
		case <-handler.done:
		case <-time.After(2 * time.Second):
			t.Fatal("job was never handled")
		}
	}

	require.Eventually(t, func() bool {
		completed, _, _, _ := jobs.snapshot()
		return len(completed) == 2
	}, 2*time.Second, 10*time.Millisecond)

	completed, retried, killed, _ := jobs.snapshot()
	assert.ElementsMatch(t, []string{"job-1", "job-2"}, completed)
	assert.Empty(t, retried)
	assert.Empty(t, killed)
}

func TestPoolBuriesDeadJobs(t *testing.T) {
	jobs := &poolJobStore{pending: []*models.Job{
		{ID: "job-1", Queue: models.QueueDelivery},
	}}
	handler := &dispositionHandler{
		disposition: Disposition{Action: ActionDead, Err: assert.AnError},
		done:        make(chan struct{}, 1),
	}

	runPool(t, jobs, handler)

	select {
	case <-handler.done:
	case <-time.After(2 * time.Second):
		t.Fatal("job was never handled")
	}

	require.Eventually(t, func() bool {
		_, _, killed, _ := jobs.snapshot()
		return len(killed) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPoolStopsPollingOnCancel(t *testing.T) {
	jobs := &poolJobStore{}
	handler := &dispositionHandler{disposition: Disposition{Action: ActionDone}, done: make(chan struct{}, 1)}

	cancel := runPool(t, jobs, handler)
	cancel()

	// settle, then prove no further lease drains the new job
	time.Sleep(50 * time.Millisecond)
	jobs.mu.Lock()
	jobs.pending = append(jobs.pending, &models.Job{ID: "job-late", Queue: models.QueueDelivery})
	jobs.mu.Unlock()
	time.Sleep(50 * time.Millisecond)

	completed, _, _, _ := jobs.snapshot()
	assert.Empty(t, completed)
	jobs.mu.Lock()
	assert.Len(t, jobs.pending, 1)
	jobs.mu.Unlock()
}
