package replay

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/destination"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

// Manager runs replays in the background, at most limit at a time, and
// keeps a cancel function per active run.
type Manager struct {
	exec   *Executor
	store  scenario.RunRepository
	sem    *semaphore.Weighted
	limit  int
	logger zerolog.Logger

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
}

func NewManager(exec *Executor, store scenario.RunRepository, limit int, logger zerolog.Logger) *Manager {
	if limit < 1 {
		limit = 1
	}
	base, stop := context.WithCancel(context.Background())
	return &Manager{
		exec:   exec,
		store:  store,
		sem:    semaphore.NewWeighted(int64(limit)),
		limit:  limit,
		logger: logger.With().Str("component", "run-manager").Logger(),
		base:   base,
		stop:   stop,
		active: make(map[uuid.UUID]context.CancelFunc),
	}
}

// Start stores one run per destination and executes them in the
// background. Runs beyond the concurrency limit wait for a slot. The
// returned runs are snapshots taken before execution starts.
func (m *Manager) Start(ctx context.Context, sc *scenario.Scenario, dests []*destination.Destination, opts Options) ([]*scenario.Run, error) {
	targets, err := m.check(sc, dests, opts)
	if err != nil {
		return nil, err
	}

	runs, err := m.prepareAll(ctx, sc, targets, opts)
	if err != nil {
		return nil, err
	}

	out := make([]*scenario.Run, 0, len(runs))
	for i, dest := range targets {
		run := runs[i]
		snapshot := *run
		out = append(out, &snapshot)

		runCtx, cancel := context.WithCancel(m.base)
		m.track(run.ID, cancel)
		m.wg.Add(1)
		go func(run *scenario.Run, dest *destination.Destination) {
			defer m.wg.Done()
			defer m.untrack(run.ID)
			defer cancel()

			// A run cancelled while queued still executes, and ends at once
			// with its cancellation recorded.
			if err := m.sem.Acquire(runCtx, 1); err == nil {
				defer m.sem.Release(1)
			}
			if err := m.exec.Execute(runCtx, run, sc, dest, opts); err != nil {
				m.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("run aborted")
			}
		}(run, dest)
	}
	return out, nil
}

// ReplayAll replays sc against every destination concurrently, bounded by
// the manager limit, and waits for all runs to finish. It returns the
// finished runs and the first execution error.
func (m *Manager) ReplayAll(ctx context.Context, sc *scenario.Scenario, dests []*destination.Destination, opts Options) ([]*scenario.Run, error) {
	targets, err := m.check(sc, dests, opts)
	if err != nil {
		return nil, err
	}

	runs, err := m.prepareAll(ctx, sc, targets, opts)
	if err != nil {
		return nil, err
	}

	// A plain group: an aborted run must not cancel the other destinations.
	var g errgroup.Group
	g.SetLimit(m.limit)
	for i, dest := range targets {
		run := runs[i]
		g.Go(func() error {
			return m.exec.Execute(ctx, run, sc, dest, opts)
		})
	}
	return runs, g.Wait()
}

// prepareAll stores one run per target. When a run cannot be stored, the
// runs already stored are finished as error so none stays running.
func (m *Manager) prepareAll(ctx context.Context, sc *scenario.Scenario, targets []*destination.Destination, opts Options) ([]*scenario.Run, error) {
	runs := make([]*scenario.Run, 0, len(targets))
	for _, dest := range targets {
		run, err := m.exec.Prepare(ctx, sc, dest, opts)
		if err != nil {
			m.abandon(ctx, runs, err)
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (m *Manager) abandon(ctx context.Context, runs []*scenario.Run, cause error) {
	persist := context.WithoutCancel(ctx)
	now := m.exec.now()
	for _, run := range runs {
		run.Status = scenario.RunError
		run.FinishedAt = &now
		run.ErrorMessage = fmt.Sprintf("not started: %v", cause)
		if err := m.store.FinishRun(persist, run); err != nil {
			m.logger.Error().Err(err).Str("run_id", run.ID.String()).Msg("abandoned run not finalized")
		}
	}
}

func (m *Manager) check(sc *scenario.Scenario, dests []*destination.Destination, opts Options) ([]*destination.Destination, error) {
	if len(dests) == 0 {
		if !opts.DryRun {
			return nil, apperr.Validation("destination", "at least one destination is required")
		}
		dests = []*destination.Destination{nil}
	}
	seen := make(map[uuid.UUID]bool, len(dests))
	for _, d := range dests {
		if d != nil {
			if seen[d.ID] {
				return nil, apperr.Validation("destination", "destination %s is listed twice", d.Name)
			}
			seen[d.ID] = true
		}
		if err := m.exec.Check(sc, d, opts); err != nil {
			return nil, err
		}
	}
	return dests, nil
}

// Cancel stops an active run. Runs that already finished give ErrConflict.
func (m *Manager) Cancel(ctx context.Context, runID uuid.UUID) error {
	m.mu.Lock()
	cancel, ok := m.active[runID]
	m.mu.Unlock()
	if ok {
		cancel()
		m.logger.Info().Str("run_id", runID.String()).Msg("run cancellation requested")
		return nil
	}

	run, err := m.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if scenario.IsTerminal(run.Status) {
		return fmt.Errorf("run %s is %s: %w", runID, run.Status, apperr.ErrConflict)
	}
	return fmt.Errorf("run %s is not executed by this instance: %w", runID, apperr.ErrConflict)
}

// Active returns the ids of the runs currently tracked.
func (m *Manager) Active() []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown cancels every active run and waits for them to record their
// terminal status, or for ctx to end.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.stop()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every background run has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) track(id uuid.UUID, cancel context.CancelFunc) {
	m.mu.Lock()
	m.active[id] = cancel
	m.mu.Unlock()
}

func (m *Manager) untrack(id uuid.UUID) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}
