package batch

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/taskmcp/tasksvr/internal/aids"
	"github.com/taskmcp/tasksvr/internal/correlation"
	"github.com/taskmcp/tasksvr/internal/metrics"
)

// ErrQueueFull is the fail-fast rejection when the queue and every worker
// slot are taken. Submitters are never blocked.
var ErrQueueFull = errors.New("executor queue full")

// ErrPoolClosed rejects submissions arriving after Shutdown began.
var ErrPoolClosed = errors.New("executor is shut down")

// Task is one unit of pool work. The context carries the submitter's
// correlation id and is cancelled if Shutdown exceeds its deadline.
type Task func(ctx context.Context)

type PoolConfig struct {
	CoreWorkers int // resident workers, started immediately
	MaxWorkers  int // ceiling including surge workers
	QueueSize   int // bounded queue; beyond this Submit rejects
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Pool is a bounded worker pool. CoreWorkers goroutines drain the queue;
// when the queue is full, surge workers are added up to MaxWorkers, each
// retiring once the queue empties. A full queue with no free surge slot
// rejects with ErrQueueFull.
type Pool struct {
	cfg    PoolConfig
	queue  chan Task
	slots  chan struct{} // surge-worker slots
	wg     sync.WaitGroup
	ctx    context.Context // worker context, cancelled on forced shutdown
	cancel context.CancelFunc

	mu     sync.Mutex // guards closed and the queue send in Submit
	closed bool
}

func NewPool(cfg PoolConfig) *Pool {
	aids.Assert(cfg.CoreWorkers >= 1, "pool needs at least one core worker")
	aids.Assert(cfg.MaxWorkers >= cfg.CoreWorkers, "max workers below core workers")
	aids.Assert(cfg.QueueSize >= 1, "pool needs a positive queue size")
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueSize),
		slots:  make(chan struct{}, cfg.MaxWorkers-cfg.CoreWorkers),
		ctx:    ctx,
		cancel: cancel,
	}
	for i := 0; i < cfg.CoreWorkers; i++ {
		p.wg.Add(1)
		go p.coreWorker()
	}
	return p
}

// Submit enqueues the task, carrying the submitter's correlation id into the
// worker goroutine. It never blocks: a saturated pool returns ErrQueueFull.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	cid := correlation.FromContext(ctx)
	wrapped := func(workerCtx context.Context) {
		task(correlation.With(workerCtx, cid))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- wrapped:
		p.cfg.Metrics.QueueDepth(len(p.queue))
		return nil
	default:
	}
	// Queue full: take a surge slot if one is free.
	select {
	case p.slots <- struct{}{}:
		p.wg.Add(1)
		go p.surgeWorker(wrapped)
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) coreWorker() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

// surgeWorker runs its trigger task, keeps draining while the queue has
// work, then retires and frees its slot.
func (p *Pool) surgeWorker(first Task) {
	defer p.wg.Done()
	defer func() { <-p.slots }()
	p.run(first)
	for {
		select {
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(task)
		default:
			return
		}
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if v := recover(); v != nil {
			p.cfg.Logger.LogAttrs(p.ctx, slog.LevelError, "pool task panicked",
				slog.Any("panic", v), slog.String("stack", string(debug.Stack())))
		}
	}()
	p.cfg.Metrics.QueueDepth(len(p.queue))
	task(p.ctx)
}

// Shutdown stops intake, lets workers drain the queue, and waits for them
// until ctx expires; on expiry the worker context is cancelled so in-flight
// tasks can abandon their work.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}
