// Package jobs runs bundle processing in the background: a worker pool
// executes chunked work units, and per-bundle coordinators collect
// completions, drive chore progress, and revoke unstarted siblings when a
// chunk fails. The request path never blocks on any of this.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// Task names known to the pool.
const (
	TaskSplitChunk = "split_chunk"
	TaskQRPage     = "qr_page"
)

// WorkUnit is one chunk of work submitted to the pool. Its result is
// delivered on the Results channel the submitter registered, so each
// coordinator owns its own completion stream.
type WorkUnit struct {
	ID      string
	JobID   string
	Task    string
	Payload any
	Results chan<- Result
}

// Result is the outcome of one work unit.
type Result struct {
	UnitID  string
	Value   any
	Err     error
	Revoked bool
}

// Handler executes one work unit. Implementations must be safe for
// concurrent use.
type Handler func(ctx context.Context, unit *WorkUnit) (any, error)

// Pool is a fixed-size worker pool with a single shared queue. Load
// balancing falls out of channel semantics.
type Pool struct {
	name        string
	logger      *slog.Logger
	workerCount int
	queue       chan *WorkUnit

	mu       sync.RWMutex
	handlers map[string]Handler
	revoked  map[string]bool

	inFlight atomic.Int32
}

// PoolConfig configures a new pool.
type PoolConfig struct {
	Name      string
	Logger    *slog.Logger
	Workers   int // default runtime.NumCPU()
	QueueSize int // default 4096
}

// NewPool creates a worker pool.
func NewPool(cfg PoolConfig) *Pool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "cpu"
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 4096
	}

	return &Pool{
		name:        name,
		logger:      logger.With("pool", name, "workers", workers),
		workerCount: workers,
		queue:       make(chan *WorkUnit, queueSize),
		handlers:    make(map[string]Handler),
		revoked:     make(map[string]bool),
	}
}

// RegisterHandler registers a handler for a task name. Must be called
// before Start.
func (p *Pool) RegisterHandler(task string, handler Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[task] = handler
}

// Submit enqueues a work unit. Returns an error if the queue is full.
func (p *Pool) Submit(unit *WorkUnit) error {
	select {
	case p.queue <- unit:
		return nil
	default:
		return fmt.Errorf("pool %s queue is full", p.name)
	}
}

// Revoke marks a unit so workers skip it if it has not started. An
// already-running unit is unaffected; revocation is authoritative only for
// not-yet-started work.
func (p *Pool) Revoke(unitID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.revoked[unitID] = true
}

// Start spawns the workers and blocks until ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("pool started")

	var wg sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			p.runWorker(ctx, worker)
		}(i)
	}
	wg.Wait()
	p.logger.Info("pool stopped")
}

func (p *Pool) runWorker(ctx context.Context, worker int) {
	for {
		select {
		case <-ctx.Done():
			return
		case unit := <-p.queue:
			p.execute(ctx, worker, unit)
		}
	}
}

func (p *Pool) execute(ctx context.Context, worker int, unit *WorkUnit) {
	p.mu.Lock()
	if p.revoked[unit.ID] {
		delete(p.revoked, unit.ID)
		p.mu.Unlock()
		p.deliver(ctx, unit, Result{UnitID: unit.ID, Revoked: true})
		return
	}
	handler := p.handlers[unit.Task]
	p.mu.Unlock()

	if handler == nil {
		p.deliver(ctx, unit, Result{UnitID: unit.ID, Err: fmt.Errorf("no handler for task %q", unit.Task)})
		return
	}

	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)

	value, err := handler(ctx, unit)
	if err != nil {
		p.logger.Warn("work unit failed", "task", unit.Task, "unit_id", unit.ID, "worker", worker, "error", err)
	}
	p.deliver(ctx, unit, Result{UnitID: unit.ID, Value: value, Err: err})
}

// deliver hands the result to the coordinator. Coordinators size their
// channel to the number of units they submit, so the send does not
// normally block; when it does, the worker waits rather than losing the
// result, and pool shutdown unblocks it.
func (p *Pool) deliver(ctx context.Context, unit *WorkUnit, res Result) {
	select {
	case unit.Results <- res:
	case <-ctx.Done():
		p.logger.Warn("dropping result at shutdown", "unit_id", unit.ID, "task", unit.Task)
	}
}

// Status reports the pool's current state.
type Status struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	InFlight   int    `json:"in_flight"`
	QueueDepth int    `json:"queue_depth"`
}

// Status returns current pool status.
func (p *Pool) Status() Status {
	return Status{
		Name:       p.name,
		Workers:    p.workerCount,
		InFlight:   int(p.inFlight.Load()),
		QueueDepth: len(p.queue),
	}
}
