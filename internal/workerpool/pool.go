package workerpool

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"

	"github.com/alitto/pond/v2"

	"github.com/codingpal/agent/internal/logging"
)

var log = logging.L("workerpool")

// Task is a unit of background work. ctx is canceled if Shutdown gives up
// waiting for the pool to drain.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of goroutines fed by a bounded queue.
// The agent uses it for writes that must not block the process monitor.
type Pool struct {
	name     string
	pool     pond.Pool
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopped  pond.Task
}

// New starts a pool with maxWorkers goroutines and a queue of queueSize.
func New(name string, maxWorkers, queueSize int) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name: name,
		pool: pond.NewPool(maxWorkers,
			pond.WithQueueSize(queueSize),
			pond.WithNonBlocking(true),
		),
		ctx:    ctx,
		cancel: cancel,
	}

	log.Info("worker pool started", "pool", name, "workers", maxWorkers, "queueSize", queueSize)
	return p
}

// Submit enqueues task without blocking. It returns false when the pool is
// shutting down or the queue is full.
func (p *Pool) Submit(task Task) bool {
	err := p.pool.Go(func() { p.run(task) })
	switch {
	case err == nil:
		return true
	case errors.Is(err, pond.ErrQueueFull):
		log.Warn("worker pool queue full, task rejected", "pool", p.name)
	}
	return false
}

// Rejected returns how many tasks were dropped because the queue was full.
func (p *Pool) Rejected() int64 {
	return int64(p.pool.DroppedTasks())
}

// Shutdown stops accepting tasks and waits for queued ones to finish, up to
// the ctx deadline. On timeout the task context is canceled. Safe to call
// more than once.
func (p *Pool) Shutdown(ctx context.Context) {
	p.stopOnce.Do(func() {
		p.stopped = p.pool.Stop()
	})

	select {
	case <-p.stopped.Done():
		log.Info("worker pool drained", "pool", p.name)
	case <-ctx.Done():
		log.Warn("worker pool drain timed out", "pool", p.name)
		p.cancel()
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("task panicked", "pool", p.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
