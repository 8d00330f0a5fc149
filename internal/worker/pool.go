// Package worker runs report generation jobs off the request path.
package worker

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "reportledger_worker_queue_depth",
		Help: "Jobs waiting for a worker",
	})

	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reportledger_worker_jobs_total",
		Help: "Jobs handled by the worker pool",
	}, []string{"result"})
)

type Job struct {
	RequestID string
}

// Handler processes one job. It receives a context detached from whoever
// submitted the job, cancelled only when Shutdown runs out of time.
type Handler func(ctx context.Context, job Job) error

type Pool struct {
	jobs   chan Job
	logger zerolog.Logger
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

func NewPool(bufferSize int, logger zerolog.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		jobs:   make(chan Job, bufferSize),
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (p *Pool) Start(workerCount int, handle Handler) {
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.worker(handle)
	}
}

func (p *Pool) worker(handle Handler) {
	defer p.wg.Done()

	for job := range p.jobs {
		queueDepth.Dec()
		p.run(handle, job)
	}
}

func (p *Pool) run(handle Handler, job Job) {
	defer func() {
		if r := recover(); r != nil {
			jobsTotal.WithLabelValues("panic").Inc()
			p.logger.Error().Str("request_id", job.RequestID).Interface("panic", r).Msg("report job panicked")
		}
	}()

	if err := handle(p.ctx, job); err != nil {
		jobsTotal.WithLabelValues("error").Inc()
		p.logger.Error().Err(err).Str("request_id", job.RequestID).Msg("report processing failed")
		return
	}
	jobsTotal.WithLabelValues("ok").Inc()
}

// Submit enqueues without blocking. It returns false when the queue is full
// or the pool is shutting down.
func (p *Pool) Submit(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}
	select {
	case p.jobs <- job:
		queueDepth.Inc()
		return true
	default:
		return false
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish. When ctx
// expires first, running and remaining jobs see their context cancelled and
// Shutdown returns ctx.Err() once the workers have exited.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.logger.Warn().Int("queued", len(p.jobs)).Msg("shutdown deadline reached, cancelling report jobs")
		p.cancel()
		<-done
		return ctx.Err()
	}
}
