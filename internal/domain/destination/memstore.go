package destination

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

// MemoryRepo is an in-memory Repository for tests and database-less CLI
// runs.
type MemoryRepo struct {
	mu    sync.RWMutex
	items map[uuid.UUID]Destination
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{items: make(map[uuid.UUID]Destination)}
}

func (m *MemoryRepo) Create(_ context.Context, d *Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.items {
		if existing.Name == d.Name {
			return fmt.Errorf("%w: destination %q", apperr.ErrConflict, d.Name)
		}
	}
	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	d.UpdatedAt = d.CreatedAt
	m.items[d.ID] = *d
	return nil
}

func (m *MemoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Destination, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.items[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return &d, nil
}

func (m *MemoryRepo) GetByName(_ context.Context, name string) (*Destination, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.items {
		if d.Name == name {
			d := d
			return &d, nil
		}
	}
	return nil, apperr.ErrNotFound
}

func (m *MemoryRepo) Update(_ context.Context, d *Destination) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.items[d.ID]
	if !ok {
		return apperr.ErrNotFound
	}
	d.CreatedAt = existing.CreatedAt
	d.UpdatedAt = time.Now().UTC()
	m.items[d.ID] = *d
	return nil
}

func (m *MemoryRepo) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return apperr.ErrNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryRepo) List(_ context.Context, limit, offset int) ([]*Destination, int, error) {
	m.mu.RLock()
	all := make([]*Destination, 0, len(m.items))
	for _, d := range m.items {
		d := d
		all = append(all, &d)
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
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
