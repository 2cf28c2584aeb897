// Package dispatch runs fire-and-forget background tasks on a fixed worker
// pool. Ingestion submits resolution work here and acknowledges immediately;
// nothing about completion or ordering is promised to the submitter.
package dispatch

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of background work.
type Task func(ctx context.Context)

// Pool is a channel-fed worker pool. Tasks run under the pool's own context,
// never the submitter's: an ingest request that has already been acknowledged
// must not cancel the work it queued.
type Pool struct {
	tasks  chan Task
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

// New starts a pool with the given worker count and queue depth.
func New(workers, queueDepth int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueDepth < 0 {
		queueDepth = 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	p := &Pool{
		tasks:  make(chan Task, queueDepth),
		group:  g,
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < workers; i++ {
		g.Go(p.worker)
	}
	return p
}

func (p *Pool) worker() error {
	for task := range p.tasks {
		p.run(task)
	}
	return nil
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("dispatch: task panicked", zap.Any("panic", r))
		}
	}()
	task(p.ctx)
}

// Submit queues a task. It blocks only when the queue is full; it never waits
// for the task to run.
func (p *Pool) Submit(task Task) {
	p.tasks <- task
}

// Close stops accepting work, drains queued tasks and waits for the workers
// to finish.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.tasks)
		_ = p.group.Wait()
		p.cancel()
	})
}
