package align

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrQueueFull is returned by Submit when the request queue has no room.
	ErrQueueFull = errors.New("registration queue full")

	// ErrPoolClosed is returned by Submit after Close or once the pool's
	// context has ended.
	ErrPoolClosed = errors.New("registration pool closed")
)

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Workers   int `yaml:"count" json:"count"`
	QueueSize int `yaml:"queue" json:"queue"`
}

// DefaultPoolConfig uses one worker per CPU and a queue of 16.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{Workers: runtime.NumCPU(), QueueSize: 16}
}

// Outcome is the single reply to one submitted request.
type Outcome struct {
	Result RegistrationResult
	Err    error
}

type job struct {
	ctx   context.Context
	req   RegistrationRequest
	reply chan Outcome
}

// Pool runs registrations on a fixed set of worker goroutines fed by a
// bounded queue. Every request gets its own reply channel; workers share no
// state beyond the read-only engine configuration.
type Pool struct {
	engine EngineConfig
	logger *log.Logger

	jobs   chan *job
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool
}

// NewPool starts the workers. Cancelling ctx aborts in-flight registrations
// at their next iteration boundary and answers queued ones as cancelled;
// Close drains the queue first.
func NewPool(ctx context.Context, cfg PoolConfig, engine EngineConfig, logger *log.Logger) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)

	p := &Pool{
		engine: engine,
		logger: logger.WithPrefix("pool"),
		jobs:   make(chan *job, cfg.QueueSize),
		group:  g,
		ctx:    gctx,
		cancel: cancel,
	}

	for i := 0; i < cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			p.work(gctx, worker)
			return nil
		})
	}

	p.logger.Debug("started", "workers", cfg.Workers, "queue", cfg.QueueSize)
	return p
}

// Submit enqueues req without blocking and returns the channel on which its
// single Outcome will be delivered.
func (p *Pool) Submit(ctx context.Context, req RegistrationRequest) (<-chan Outcome, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.ctx.Err() != nil {
		return nil, ErrPoolClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	j := &job{ctx: ctx, req: req, reply: make(chan Outcome, 1)}
	select {
	case p.jobs <- j:
		return j.reply, nil
	default:
		return nil, ErrQueueFull
	}
}

// Do submits req and waits for its result, for ctx to end or for the pool
// to shut down.
func (p *Pool) Do(ctx context.Context, req RegistrationRequest) (RegistrationResult, error) {
	reply, err := p.Submit(ctx, req)
	if err != nil {
		return RegistrationResult{}, err
	}
	select {
	case out := <-reply:
		return out.Result, out.Err
	case <-ctx.Done():
		return RegistrationResult{}, ctx.Err()
	case <-p.ctx.Done():
		select {
		case out := <-reply:
			return out.Result, out.Err
		default:
			out := cancelled(&job{req: req}, p.ctx.Err())
			return out.Result, out.Err
		}
	}
}

// Close stops accepting requests, lets queued work finish and waits for the
// workers to exit.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	err := p.group.Wait()
	p.cancel()
	return err
}

func (p *Pool) work(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			p.drain(ctx.Err())
			return
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			if err := ctx.Err(); err != nil {
				j.reply <- cancelled(j, err)
				continue
			}
			j.reply <- p.run(ctx, worker, j)
		}
	}
}

// drain answers every job still queued once the pool context has ended.
func (p *Pool) drain(err error) {
	for {
		select {
		case j, ok := <-p.jobs:
			if !ok {
				return
			}
			j.reply <- cancelled(j, err)
		default:
			return
		}
	}
}

func cancelled(j *job, err error) Outcome {
	return Outcome{Result: RegistrationResult{ID: j.req.ID, Cancelled: true}, Err: err}
}

// run executes one job under a context that ends when either the caller or
// the pool gives up.
func (p *Pool) run(poolCtx context.Context, worker int, j *job) Outcome {
	ctx, cancel := context.WithCancel(j.ctx)
	defer cancel()
	stop := context.AfterFunc(poolCtx, cancel)
	defer stop()

	start := time.Now()
	res, err := Register(ctx, j.req, p.engine)
	if err != nil {
		p.logger.Warn("registration failed", "worker", worker, "id", j.req.ID, "err", err)
		return Outcome{Result: res, Err: err}
	}

	p.logger.Debug("registration done",
		"worker", worker,
		"id", j.req.ID,
		"scale", res.Transform.Scale,
		"iterations", res.CoarseIterations+res.FineIterations,
		"residual", res.FinalResidual(),
		"elapsed", time.Since(start))
	return Outcome{Result: res}
}
