package timeline

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

// MemoryRepo is an in-memory Repository. Deleting a case removes its
// movements, like the ON DELETE CASCADE of the SQL schema.
type MemoryRepo struct {
	mu        sync.RWMutex
	entities  map[uuid.UUID]EntityContext
	cases     map[uuid.UUID]Case
	movements map[uuid.UUID][]Movement
	inbound   []InboundMessage
	now       func() time.Time
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		entities:  make(map[uuid.UUID]EntityContext),
		cases:     make(map[uuid.UUID]Case),
		movements: make(map[uuid.UUID][]Movement),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryRepo) CreateEntity(_ context.Context, e *EntityContext) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ID = uuid.New()
	e.CreatedAt = m.now()
	m.entities[e.ID] = *e
	return nil
}

func (m *MemoryRepo) GetEntity(_ context.Context, id uuid.UUID) (*EntityContext, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &e, nil
}

func (m *MemoryRepo) CreateCase(_ context.Context, c *Case) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.ID = uuid.New()
	c.CreatedAt = m.now()
	m.cases[c.ID] = *c
	return nil
}

func (m *MemoryRepo) GetCase(_ context.Context, id uuid.UUID) (*Case, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cases[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &c, nil
}

func (m *MemoryRepo) ListCases(_ context.Context, limit, offset int) ([]*Case, int, error) {
	m.mu.RLock()
	all := make([]*Case, 0, len(m.cases))
	for _, c := range m.cases {
		c := c
		all = append(all, &c)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (m *MemoryRepo) DeleteCase(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.cases, id)
	delete(m.movements, id)
	return nil
}

func (m *MemoryRepo) AddMovement(_ context.Context, mv *Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cases[mv.CaseID]; !ok {
		return apperr.ErrNotFound
	}
	mv.ID = uuid.New()
	mv.CreatedAt = m.now()
	m.movements[mv.CaseID] = append(m.movements[mv.CaseID], *mv)
	return nil
}

func (m *MemoryRepo) ListMovements(_ context.Context, caseID uuid.UUID) ([]*Movement, error) {
	m.mu.RLock()
	src := m.movements[caseID]
	out := make([]*Movement, len(src))
	for i := range src {
		mv := src[i]
		out[i] = &mv
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

func (m *MemoryRepo) RecordInbound(_ context.Context, msg *InboundMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.New()
	m.inbound = append(m.inbound, *msg)
	return nil
}

func (m *MemoryRepo) FindInbound(_ context.Context, trigger string, at time.Time, window time.Duration) (*InboundMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *InboundMessage
	var bestGap time.Duration
	for i := range m.inbound {
		msg := m.inbound[i]
		if msg.Trigger != trigger {
			continue
		}
		gap := msg.ReceivedAt.Sub(at)
		if gap < 0 {
			gap = -gap
		}
		if gap > window {
			continue
		}
		if best == nil || gap < bestGap {
			best, bestGap = &msg, gap
		}
	}
	if best == nil {
		return nil, apperr.ErrNotFound
	}
	return best, nil
}
