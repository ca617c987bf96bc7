package replay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/destination"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/domain/scenario"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/sequence"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/transport"
)

func secondDestination() *destination.Destination {
	return &destination.Destination{ID: uuid.New(), Name: "recv-2", Kind: transport.KindMLLP, Host: "127.0.0.1", Port: 2576, Active: true}
}

func TestManager_StartAndCancel(t *testing.T) {
	f := newFixture(t)
	sc := f.scenario(t, scenario.ProtocolLegacy, threeSteps()...)

	firstSent := make(chan struct{})
	var once sync.Once
	f.sender.reply = func(p string) ([]byte, error) {
		once.Do(func() { close(firstSent) })
		return ackFor(p, hl7v2.AckAccept), nil
	}
	f.exec.SetWaiter(func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m := NewManager(f.exec, f.store, 2, zerolog.Nop())

	runs, err := m.Start(context.Background(), sc, []*destination.Destination{f.dest}, Options{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, scenario.RunRunning, runs[0].Status)

	select {
	case <-firstSent:
	case <-time.After(5 * time.Second):
		t.Fatal("first step never sent")
	}
	require.NoError(t, m.Cancel(context.Background(), runs[0].ID))
	m.Wait()

	run, err := f.store.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, scenario.RunPartial, run.Status)
	assert.Contains(t, run.ErrorMessage, "cancelled")
	assert.Empty(t, m.Active())

	err = m.Cancel(context.Background(), runs[0].ID)
	assert.True(t, errors.Is(err, apperr.ErrConflict), "cancelling a finished run: %v", err)

	err = m.Cancel(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestManager_LimitsConcurrency(t *testing.T) {
	f := newFixture(t)
	sc := f.scenario(t, scenario.ProtocolLegacy, threeSteps()...)

	var inFlight, peak int32
	f.sender.reply = func(p string) ([]byte, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return ackFor(p, hl7v2.AckAccept), nil
	}
	m := NewManager(f.exec, f.store, 1, zerolog.Nop())

	dests := []*destination.Destination{f.dest, secondDestination(), {ID: uuid.New(), Name: "recv-3", Kind: transport.KindMLLP, Host: "h", Port: 1, Active: true}}
	runs, err := m.Start(context.Background(), sc, dests, Options{Immediate: true})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	m.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&peak))
	for _, r := range runs {
		stored, err := f.store.GetRun(context.Background(), r.ID)
		require.NoError(t, err)
		assert.Equal(t, scenario.RunSuccess, stored.Status)
	}
}

func TestManager_ReplayAll(t *testing.T) {
	f := newFixture(t)
	sc := f.scenario(t, scenario.ProtocolLegacy, threeSteps()...)
	m := NewManager(f.exec, f.store, 4, zerolog.Nop())

	runs, err := m.ReplayAll(context.Background(), sc, []*destination.Destination{f.dest, secondDestination()}, Options{Immediate: true})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.NotEqual(t, *runs[0].DestinationID, *runs[1].DestinationID)
	for _, r := range runs {
		assert.Equal(t, scenario.RunSuccess, r.Status)
		assert.Equal(t, 3, r.SuccessSteps)
	}
	assert.Len(t, f.sender.sent(), 6)
}

func TestManager_RejectsBeforeCreatingRuns(t *testing.T) {
	f := newFixture(t)
	sc := f.scenario(t, scenario.ProtocolLegacy, threeSteps()...)
	m := NewManager(f.exec, f.store, 4, zerolog.Nop())

	inactive := secondDestination()
	inactive.Active = false
	_, err := m.Start(context.Background(), sc, []*destination.Destination{f.dest, inactive}, Options{})
	assert.True(t, apperr.IsValidation(err))

	_, err = m.ReplayAll(context.Background(), sc, []*destination.Destination{f.dest, f.dest}, Options{})
	assert.True(t, apperr.IsValidation(err))

	_, err = m.Start(context.Background(), sc, nil, Options{})
	assert.True(t, apperr.IsValidation(err))

	_, total, err := f.store.ListRuns(context.Background(), sc.ID, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total, "no run may be stored when a destination is rejected")
}

func TestManager_Shutdown(t *testing.T) {
	f := newFixture(t)
	sc := f.scenario(t, scenario.ProtocolLegacy, threeSteps()...)
	f.exec.SetWaiter(func(ctx context.Context, d time.Duration) error {
		<-ctx.Done()
		return ctx.Err()
	})
	m := NewManager(f.exec, f.store, 2, zerolog.Nop())

	runs, err := m.Start(context.Background(), sc, []*destination.Destination{f.dest}, Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	run, err := f.store.GetRun(context.Background(), runs[0].ID)
	require.NoError(t, err)
	assert.NotEqual(t, scenario.RunRunning, run.Status)
}

// flakyRunStore fails CreateRun from the given call on.
type flakyRunStore struct {
	*scenario.MemoryStore
	failFrom int32
	calls    atomic.Int32
}

func (s *flakyRunStore) CreateRun(ctx context.Context, r *scenario.Run) error {
	if s.calls.Add(1) >= s.failFrom {
		return errors.New("connection reset")
	}
	return s.MemoryStore.CreateRun(ctx, r)
}

func TestManager_FailedRunCreationFinishesStoredRuns(t *testing.T) {
	for name, launch := range map[string]func(*Manager, *scenario.Scenario, []*destination.Destination) ([]*scenario.Run, error){
		"start": func(m *Manager, sc *scenario.Scenario, dests []*destination.Destination) ([]*scenario.Run, error) {
			return m.Start(context.Background(), sc, dests, Options{Immediate: true})
		},
		"replay all": func(m *Manager, sc *scenario.Scenario, dests []*destination.Destination) ([]*scenario.Run, error) {
			return m.ReplayAll(context.Background(), sc, dests, Options{Immediate: true})
		},
	} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			sc := f.scenario(t, scenario.ProtocolLegacy, threeSteps()...)
			store := &flakyRunStore{MemoryStore: f.store, failFrom: 2}
			exec := NewExecutor(Deps{Store: store, Sender: f.sender, Sequence: sequence.NewMemory(nil), Logger: zerolog.Nop()})
			m := NewManager(exec, store, 2, zerolog.Nop())

			runs, err := launch(m, sc, []*destination.Destination{f.dest, secondDestination()})
			require.Error(t, err)
			assert.Nil(t, runs)
			m.Wait()

			stored, total, err := f.store.ListRuns(context.Background(), sc.ID, 10, 0)
			require.NoError(t, err)
			require.Equal(t, 1, total)
			assert.Equal(t, scenario.RunError, stored[0].Status)
			assert.NotNil(t, stored[0].FinishedAt)
			assert.Contains(t, stored[0].ErrorMessage, "connection reset")
			assert.Empty(t, f.sender.sent(), "no step may be sent for an abandoned batch")
		})
	}
}
