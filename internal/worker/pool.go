package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrQueueFull = errors.New("worker queue full")
	ErrClosed    = errors.New("worker pool closed")
)

// FullPolicy decides what Submit does when the job queue is full.
type FullPolicy string

const (
	// PolicyReject makes Submit fail fast with ErrQueueFull.
	PolicyReject FullPolicy = "reject"
	// PolicyBlock makes Submit wait for room or for its context to end.
	PolicyBlock FullPolicy = "block"
)

// ParsePolicy converts a config value into a FullPolicy.
func ParsePolicy(s string) (FullPolicy, error) {
	switch FullPolicy(s) {
	case PolicyReject, PolicyBlock:
		return FullPolicy(s), nil
	case "":
		return PolicyReject, nil
	default:
		return "", fmt.Errorf("invalid queue full policy: %s (must be 'reject' or 'block')", s)
	}
}

// Job is a unit of work. ctx is the context the pool was started with.
type Job func(ctx context.Context)

// Pool runs jobs on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	workers int
	policy  FullPolicy
	jobs    chan Job
	logger  *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	group   *errgroup.Group
}

// NewPool creates a pool. Call Start before submitting.
func NewPool(workers, queueSize int, policy FullPolicy, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if policy == "" {
		policy = PolicyReject
	}
	return &Pool{
		workers: workers,
		policy:  policy,
		jobs:    make(chan Job, queueSize),
		logger:  logger,
	}
}

// Start launches the workers. Jobs receive ctx.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	g := &errgroup.Group{}
	for i := 0; i < p.workers; i++ {
		id := i
		g.Go(func() error {
			p.worker(ctx, id)
			return nil
		})
	}
	p.group = g

	p.logger.Info("worker pool started",
		zap.Int("workers", p.workers),
		zap.Int("queueSize", cap(p.jobs)),
		zap.String("policy", string(p.policy)),
	)
}

func (p *Pool) worker(ctx context.Context, id int) {
	for job := range p.jobs {
		p.run(ctx, id, job)
	}
}

func (p *Pool) run(ctx context.Context, id int, job Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked",
				zap.Int("worker", id),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	job(ctx)
}

// Submit queues job according to the pool's FullPolicy.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrClosed
	}

	if p.policy == PolicyBlock {
		select {
		case p.jobs <- job:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs not yet picked up by a worker.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Close stops accepting jobs, lets queued and running jobs finish and waits
// for the workers to exit.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	g := p.group
	p.mu.Unlock()

	if g == nil {
		return nil
	}
	err := g.Wait()
	p.logger.Info("worker pool stopped")
	return err
}
