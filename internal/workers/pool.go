// Package workers provides a bounded goroutine pool for running independent
// tasks concurrently with panic recovery and a per-task timeout.
package workers

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of work a Pool executes.
type Task interface {
	Execute() error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// Pool runs submitted tasks across a fixed set of worker goroutines.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	cancel  context.CancelFunc

	tasksFailed    int64
	tasksCompleted int64
}

// PoolConfig configures a Pool.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DefaultPoolConfig sizes the pool to twice the CPU count, suited to the
// mostly-I/O-bound per-symbol evaluation tasks pipeline.Supervisor submits.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU() * 2,
		QueueSize:       1024,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// NewPool builds a Pool from config, defaulting config if nil.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	return &Pool{
		logger:    logger.Named("workers." + config.Name),
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
	}
}

// Start launches the worker goroutines. No-op if already running.
func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.logger.Info("starting worker pool",
		zap.Int("workers", p.config.NumWorkers), zap.Int("queueSize", p.config.QueueSize))

	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run(ctx)
	}
}

func (p *Pool) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			p.execute(ctx, task)
		}
	}
}

func (p *Pool) execute(ctx context.Context, task Task) {
	taskCtx, cancel := context.WithTimeout(ctx, p.config.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("worker recovered from panic", zap.Any("panic", r))
				done <- &PanicError{Recovered: r}
			}
		}()
		done <- task.Execute()
	}()

	select {
	case err := <-done:
		if err != nil {
			atomic.AddInt64(&p.tasksFailed, 1)
			p.logger.Debug("task failed", zap.Error(err))
		} else {
			atomic.AddInt64(&p.tasksCompleted, 1)
		}
	case <-taskCtx.Done():
		atomic.AddInt64(&p.tasksFailed, 1)
		p.logger.Warn("task timed out", zap.Duration("timeout", p.config.TaskTimeout))
	}
}

// Submit enqueues task, returning ErrQueueFull if the queue is at capacity
// and ErrPoolStopped if the pool isn't running.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc submits fn as a Task.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// Stop signals every worker to exit and waits up to ShutdownTimeout.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// Stats returns basic task counters.
func (p *Pool) Stats() (completed, failed int64) {
	return atomic.LoadInt64(&p.tasksCompleted), atomic.LoadInt64(&p.tasksFailed)
}

var (
	ErrPoolStopped     = &PoolError{Message: "pool is stopped"}
	ErrQueueFull       = &PoolError{Message: "task queue is full"}
	ErrShutdownTimeout = &PoolError{Message: "shutdown timed out"}
)

// PoolError is a sentinel pool error.
type PoolError struct {
	Message string
}

func (e *PoolError) Error() string { return e.Message }

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Recovered interface{}
}

func (e *PanicError) Error() string { return "panic recovered" }
