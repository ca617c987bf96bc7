package scenario

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/pkg/pagination"
)

// MemoryStore is an in-memory Store used by tests and by CLI commands run
// without a database. Values are copied in and out so callers never share
// state with the store.
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]Template
	scenarios map[uuid.UUID]Scenario
	bindings  map[uuid.UUID]Binding
	runs      map[uuid.UUID]Run
	logs      map[uuid.UUID][]StepLog
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		templates: make(map[string]Template),
		scenarios: make(map[uuid.UUID]Scenario),
		bindings:  make(map[uuid.UUID]Binding),
		runs:      make(map[uuid.UUID]Run),
		logs:      make(map[uuid.UUID][]StepLog),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) CreateTemplate(_ context.Context, t *Template) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.templates[t.Key]; ok {
		return fmt.Errorf("template %s: %w", t.Key, apperr.ErrConflict)
	}
	t.ID = uuid.New()
	t.CreatedAt = m.now()
	for i := range t.Steps {
		t.Steps[i].ID = uuid.New()
		t.Steps[i].TemplateID = t.ID
	}
	m.templates[t.Key] = copyTemplate(*t)
	return nil
}

func (m *MemoryStore) GetTemplateByKey(_ context.Context, key string) (*Template, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.templates[key]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := copyTemplate(t)
	return &out, nil
}

func (m *MemoryStore) ListTemplates(_ context.Context, limit, offset int) ([]*Template, int, error) {
	m.mu.RLock()
	all := make([]*Template, 0, len(m.templates))
	for _, t := range m.templates {
		t := copyTemplate(t)
		t.Steps = nil
		all = append(all, &t)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Key < all[j].Key })
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[start:end], len(all), nil
}

func (m *MemoryStore) Create(_ context.Context, s *Scenario) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.scenarios {
		if existing.Key == s.Key {
			return fmt.Errorf("scenario %s: %w", s.Key, apperr.ErrConflict)
		}
	}
	s.ID = uuid.New()
	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	for i := range s.Steps {
		s.Steps[i].ID = uuid.New()
		s.Steps[i].ScenarioID = s.ID
	}
	m.scenarios[s.ID] = copyScenario(*s)
	return nil
}

func (m *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scenarios[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	out := copyScenario(s)
	return &out, nil
}

func (m *MemoryStore) GetByKey(_ context.Context, key string) (*Scenario, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.scenarios {
		if s.Key == key {
			out := copyScenario(s)
			return &out, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (m *MemoryStore) List(_ context.Context, limit, offset int) ([]*Scenario, int, error) {
	m.mu.RLock()
	all := make([]*Scenario, 0, len(m.scenarios))
	for _, s := range m.scenarios {
		s := copyScenario(s)
		s.Steps = nil
		all = append(all, &s)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].Key < all[j].Key
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[start:end], len(all), nil
}

// Delete removes the scenario with its binding, runs and step logs.
func (m *MemoryStore) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.scenarios, id)
	delete(m.bindings, id)
	for runID, r := range m.runs {
		if r.ScenarioID == id {
			delete(m.runs, runID)
			delete(m.logs, runID)
		}
	}
	return nil
}

func (m *MemoryStore) UpsertBinding(_ context.Context, b *Binding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[b.ScenarioID]; !ok {
		return apperr.ErrNotFound
	}
	b.UpdatedAt = m.now()
	cp := *b
	cp.LastIdentifiers = make(map[string]string, len(b.LastIdentifiers))
	for k, v := range b.LastIdentifiers {
		cp.LastIdentifiers[k] = v
	}
	m.bindings[b.ScenarioID] = cp
	return nil
}

func (m *MemoryStore) GetBinding(_ context.Context, scenarioID uuid.UUID) (*Binding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.bindings[scenarioID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &b, nil
}

func (m *MemoryStore) CreateRun(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.scenarios[r.ScenarioID]; !ok {
		return apperr.ErrNotFound
	}
	r.ID = uuid.New()
	m.runs[r.ID] = *r
	return nil
}

func (m *MemoryStore) AppendStepLog(_ context.Context, l *StepLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[l.RunID]
	if !ok {
		return apperr.ErrNotFound
	}
	for _, existing := range m.logs[l.RunID] {
		if existing.OrderIndex == l.OrderIndex {
			return fmt.Errorf("step log %d: %w", l.OrderIndex, apperr.ErrConflict)
		}
	}
	l.ID = uuid.New()
	l.LoggedAt = m.now()
	m.logs[l.RunID] = append(m.logs[l.RunID], *l)
	r.Count(l.Status)
	m.runs[l.RunID] = r
	return nil
}

func (m *MemoryStore) FinishRun(_ context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.runs[r.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	stored.Status = r.Status
	stored.FinishedAt = r.FinishedAt
	stored.ErrorMessage = r.ErrorMessage
	m.runs[r.ID] = stored
	return nil
}

func (m *MemoryStore) GetRun(_ context.Context, id uuid.UUID) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &r, nil
}

func (m *MemoryStore) ListRuns(_ context.Context, scenarioID uuid.UUID, limit, offset int) ([]*Run, int, error) {
	m.mu.RLock()
	var all []*Run
	for _, r := range m.runs {
		if r.ScenarioID == scenarioID {
			r := r
			all = append(all, &r)
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].StartedAt.After(all[j].StartedAt) })
	start, end := pagination.Params{Limit: limit, Offset: offset}.Window(len(all))
	return all[start:end], len(all), nil
}

func (m *MemoryStore) ListStepLogs(_ context.Context, runID uuid.UUID) ([]*StepLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	logs := m.logs[runID]
	out := make([]*StepLog, len(logs))
	for i := range logs {
		l := logs[i]
		out[i] = &l
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderIndex < out[j].OrderIndex })
	return out, nil
}

func copyTemplate(t Template) Template {
	t.Protocols = append([]string(nil), t.Protocols...)
	t.Tags = append([]string(nil), t.Tags...)
	t.Steps = append([]TemplateStep(nil), t.Steps...)
	return t
}

func copyScenario(s Scenario) Scenario {
	s.Tags = append([]string(nil), s.Tags...)
	s.TimeConfig.JitterEvents = append([]string(nil), s.TimeConfig.JitterEvents...)
	s.Steps = append([]Step(nil), s.Steps...)
	return s
}
