package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/averros/scanstage/internal/chore"
)

// Coordinator is one parent job driving a chore: it submits work units,
// collects completions, and reports progress through the tracker.
type Coordinator interface {
	// Run executes the job. The chore is already Running when called.
	Run(ctx context.Context, choreID string) error
}

// Manager dispatches coordinators onto background goroutines and moves
// their chores through the tracker. The request path calls Dispatch and
// returns; it never waits for completion.
type Manager struct {
	chores *chore.Tracker
	logger *slog.Logger

	ctx context.Context
	wg  sync.WaitGroup
}

// NewManager creates a job manager bound to the server lifetime context.
func NewManager(ctx context.Context, chores *chore.Tracker, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{chores: chores, logger: logger, ctx: ctx}
}

// Dispatch launches a coordinator for a chore. The worker goroutine claims
// the chore (Starting/Queued -> Running); the caller then marks it Queued,
// deliberately racing the worker — the status-guarded update means exactly
// one side wins and a Running chore is never regressed.
func (m *Manager) Dispatch(choreID string, c Coordinator) error {
	if m.ctx.Err() != nil {
		return fmt.Errorf("job manager is shut down")
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		workerID := uuid.New().String()
		log := m.logger.With("chore_id", choreID, "worker_id", workerID)

		if err := m.chores.Start(m.ctx, choreID, workerID); err != nil {
			log.Error("failed to claim chore", "error", err)
			return
		}

		if err := c.Run(m.ctx, choreID); err != nil {
			log.Error("chore failed", "error", err)
			if ferr := m.chores.Fail(context.WithoutCancel(m.ctx), choreID, err.Error()); ferr != nil {
				log.Error("failed to record chore failure", "error", ferr)
			}
			return
		}

		if err := m.chores.Complete(m.ctx, choreID, "done"); err != nil {
			log.Error("failed to complete chore", "error", err)
		}
	}()

	// Dispatcher's half of the accepted race.
	if err := m.chores.MarkQueued(m.ctx, choreID); err != nil {
		m.logger.Warn("failed to mark chore queued", "chore_id", choreID, "error", err)
	}
	return nil
}

// Wait blocks until all dispatched coordinators have returned. Used during
// shutdown and by tests.
func (m *Manager) Wait() {
	m.wg.Wait()
}
