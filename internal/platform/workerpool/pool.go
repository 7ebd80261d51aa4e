// Package workerpool bounds the background goroutines of the settlement
// services on an ants pool.
package workerpool

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/panjf2000/ants/v2"

	"github.com/escrow-settlement/internal/config"
)

// Pool runs tasks on a fixed number of workers
type Pool struct {
	pool   *ants.Pool
	logger *slog.Logger
}

func New(cfg config.WorkerPoolConfig, logger *slog.Logger) (*Pool, error) {
	pool, err := ants.NewPool(cfg.Size, ants.WithPanicHandler(func(p interface{}) {
		logger.Error("Worker task panicked", "panic", fmt.Sprint(p))
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	return &Pool{
		pool:   pool,
		logger: logger,
	}, nil
}

// Go submits task without waiting for it. Submission blocks while every
// worker is busy.
func (p *Pool) Go(task func()) error {
	if err := p.pool.Submit(task); err != nil {
		p.logger.Error("Failed to submit task to worker pool", "error", err)
		return err
	}
	return nil
}

// Do runs task on the pool and waits for its result or for ctx to end.
func (p *Pool) Do(ctx context.Context, task func(ctx context.Context) error) error {
	resultChan := make(chan error, 1)

	err := p.pool.Submit(func() {
		resultChan <- task(ctx)
	})
	if err != nil {
		p.logger.Error("Failed to submit task to worker pool", "error", err)
		return err
	}

	select {
	case err := <-resultChan:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown releases the pool; queued tasks are dropped.
func (p *Pool) Shutdown() {
	p.logger.Info("Shutting down worker pool", "running_workers", p.pool.Running())
	p.pool.Release()
}

// Running returns the number of running workers in the pool.
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Capacity returns the capacity of the worker pool.
func (p *Pool) Capacity() int {
	return p.pool.Cap()
}
