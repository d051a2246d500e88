// Package queue drains the durable job queues. A Pool owns one queue name:
// it polls the store for due jobs, leases them with a visibility timeout and
// hands them to a Handler on a fixed set of worker goroutines. Lease
// ownership is the mutual-exclusion mechanism; workers never share a job.
package queue

import (
	"context"
	"sync"
	"time"

	"mailcourier/internal/common/logger"
	"mailcourier/internal/common/metrics"
	"mailcourier/internal/common/observability"
	"mailcourier/internal/models"
	"mailcourier/internal/store"
)

// Action tells the pool what to do with a processed job.
type Action int

const (
	// ActionDone acknowledges the job as completed.
	ActionDone Action = iota
	// ActionRetry reschedules the job after Delay.
	ActionRetry
	// ActionRelease puts the job back without consuming the attempt, used
	// when a concurrency cap blocked processing.
	ActionRelease
	// ActionDead buries the job.
	ActionDead
)

// Disposition is a Handler's verdict on one job.
type Disposition struct {
	Action Action
	Delay  time.Duration
	Err    error
}

// Handler processes one leased job. It must finish before the lease
// expires; the pool bounds it with the visibility timeout.
type Handler interface {
	Handle(ctx context.Context, job *models.Job) Disposition
}

// PoolConfig sizes one queue's worker pool.
type PoolConfig struct {
	Queue        string
	Workers      int
	PollInterval time.Duration
	Visibility   time.Duration
}

// Pool leases jobs from one queue and dispatches them to workers.
type Pool struct {
	cfg     PoolConfig
	jobs    store.JobStore
	handler Handler
	obs     *observability.Observability
	logger  logger.Logger

	wg sync.WaitGroup
}

func NewPool(cfg PoolConfig, jobs store.JobStore, handler Handler, obs *observability.Observability, log logger.Logger) *Pool {
	return &Pool{
		cfg:     cfg,
		jobs:    jobs,
		handler: handler,
		obs:     obs,
		logger: log.WithFields(map[string]interface{}{
			"queue": cfg.Queue,
		}),
	}
}

// Run polls and processes until ctx is cancelled, then drains in-flight
// jobs and returns.
func (p *Pool) Run(ctx context.Context) {
	work := make(chan *models.Job)

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, work)
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	p.logger.Info("Queue pool started", map[string]interface{}{
		"workers":      p.cfg.Workers,
		"pollInterval": p.cfg.PollInterval.String(),
	})

	for {
		select {
		case <-ctx.Done():
			close(work)
			p.wg.Wait()
			p.logger.Info("Queue pool stopped", nil)
			return
		case <-ticker.C:
			p.poll(ctx, work)
		}
	}
}

func (p *Pool) poll(ctx context.Context, work chan<- *models.Job) {
	jobs, err := p.jobs.Lease(ctx, p.cfg.Queue, p.cfg.Workers, p.cfg.Visibility)
	if err != nil {
		p.logger.WithError(err).Error("Failed to lease jobs", nil)
		return
	}

	for _, job := range jobs {
		select {
		case work <- job:
		case <-ctx.Done():
			// lease expires on its own; the job becomes visible again
			return
		}
	}
}

func (p *Pool) worker(ctx context.Context, work <-chan *models.Job) {
	defer p.wg.Done()

	for job := range work {
		p.process(ctx, job)
	}
}

func (p *Pool) process(ctx context.Context, job *models.Job) {
	metrics.JobsInFlight.WithLabelValues(p.cfg.Queue).Inc()
	defer metrics.JobsInFlight.WithLabelValues(p.cfg.Queue).Dec()

	// bound the handler by the lease so a slow job cannot outlive its
	// ownership and run concurrently with its re-lease
	handleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.Visibility)
	defer cancel()

	started := time.Now()
	d := p.handler.Handle(handleCtx, job)
	if p.obs != nil {
		p.obs.RecordJobProcessed(handleCtx, p.cfg.Queue, actionName(d.Action))
		p.obs.RecordJobDuration(handleCtx, p.cfg.Queue, time.Since(started), actionName(d.Action))
	}
	p.settle(handleCtx, job, d)
}

func actionName(a Action) string {
	switch a {
	case ActionDone:
		return "done"
	case ActionRetry:
		return "retry"
	case ActionRelease:
		return "released"
	default:
		return "dead"
	}
}

// settle persists the disposition. Failing to persist leaves the lease to
// expire, so the job is retried rather than lost.
func (p *Pool) settle(ctx context.Context, job *models.Job, d Disposition) {
	log := p.logger.WithFields(map[string]interface{}{
		"jobId":    job.ID,
		"attempts": job.Attempts,
	})

	var err error
	switch d.Action {
	case ActionDone:
		err = p.jobs.Complete(ctx, job.ID)
	case ActionRetry:
		log.WithError(d.Err).Warn("Job failed, retry scheduled", map[string]interface{}{
			"delay": d.Delay.String(),
		})
		err = p.jobs.Retry(ctx, job.ID, time.Now().Add(d.Delay), errString(d.Err))
	case ActionRelease:
		err = p.jobs.Release(ctx, job.ID, time.Now().Add(d.Delay))
	case ActionDead:
		metrics.JobsDead.WithLabelValues(p.cfg.Queue).Inc()
		log.WithError(d.Err).Error("Job buried", nil)
		err = p.jobs.Kill(ctx, job.ID, errString(d.Err))
	}

	if err != nil {
		log.WithError(err).Error("Failed to settle job, lease will expire", nil)
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
