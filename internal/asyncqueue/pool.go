// Package asyncqueue runs fire-and-forget background tasks on a fixed set of
// worker goroutines fed by a bounded queue. The cache engine schedules
// logical-expiry rebuilds here so the lock holder's work never runs on the
// requesting goroutine.
package asyncqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/Eklps/Dianping/internal/logging"
	"github.com/Eklps/Dianping/internal/metrics"
)

// Task is a unit of background work. The context is cancelled when the
// pool is stopped.
type Task func(ctx context.Context)

// Config configures a Pool.
type Config struct {
	Name      string
	Workers   int
	QueueSize int
}

// Pool is a bounded worker pool with an explicit lifecycle: create it at
// startup, Start it, and Stop it at shutdown.
type Pool struct {
	cfg    Config
	tasks  chan Task
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

// New creates a pool. Zero values default to 10 workers and a queue of 256.
func New(cfg Config) *Pool {
	if cfg.Name == "" {
		cfg.Name = "async"
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:    cfg,
		tasks:  make(chan Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches worker goroutines.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.stopped {
		return
	}
	p.started = true

	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logging.Op().Info("async pool started", "pool", p.cfg.Name, "workers", p.cfg.Workers, "queue", p.cfg.QueueSize)
}

// Submit enqueues a task without blocking. It returns false when the queue
// is full or the pool is not running (not yet started, or stopped); the
// caller keeps responsibility for any resources the task would have released.
func (p *Pool) Submit(task Task) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started || p.stopped {
		return false
	}
	select {
	case p.tasks <- task:
		metrics.SetRebuildQueueDepth(len(p.tasks))
		return true
	default:
		return false
	}
}

// Stop stops accepting tasks, lets workers drain what is already queued,
// then cancels the task context and waits for workers to exit. Every
// accepted task runs before Stop returns.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.tasks)
	started := p.started
	p.mu.Unlock()

	if started {
		p.wg.Wait()
	}
	p.cancel()
	logging.Op().Info("async pool stopped", "pool", p.cfg.Name)
}

// Pending returns the number of queued tasks not yet picked up.
func (p *Pool) Pending() int {
	return len(p.tasks)
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		metrics.SetRebuildQueueDepth(len(p.tasks))
		p.run(id, task)
	}
}

// run executes one task. A panicking task is logged and does not take the
// worker down.
func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			logging.Op().Error("async task panicked",
				"pool", p.cfg.Name,
				"worker", fmt.Sprintf("%s-%d", p.cfg.Name, id),
				"panic", r,
				"stack", string(debug.Stack()))
		}
	}()
	task(p.ctx)
}
