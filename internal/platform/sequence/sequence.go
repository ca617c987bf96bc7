// Package sequence hands out monotonically increasing identifier numbers.
// Every increment goes through one mutation point, so concurrent
// materializations and captures never observe the same value.
package sequence

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Sequence names.
const (
	Patient  = "patient"
	Visit    = "visit"
	Movement = "movement"
)

// Generator returns the next value of a named sequence.
type Generator interface {
	Next(ctx context.Context, name string) (int64, error)
}

// Memory is a Generator guarded by a mutex. Used by tests and by the CLI
// when no database is configured.
type Memory struct {
	mu     sync.Mutex
	values map[string]int64
}

// NewMemory creates a generator whose sequences start after start[name].
func NewMemory(start map[string]int64) *Memory {
	values := make(map[string]int64, len(start))
	for k, v := range start {
		values[k] = v
	}
	return &Memory{values: values}
}

func (m *Memory) Next(ctx context.Context, name string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name]++
	return m.values[name], nil
}

// PG increments rows of the id_sequence table. The row lock taken by the
// UPDATE serializes concurrent callers across processes.
type PG struct {
	pool *pgxpool.Pool
}

func NewPG(pool *pgxpool.Pool) *PG {
	return &PG{pool: pool}
}

func (g *PG) Next(ctx context.Context, name string) (int64, error) {
	var v int64
	err := g.pool.QueryRow(ctx, `
		INSERT INTO id_sequence (name, value) VALUES ($1, 1)
		ON CONFLICT (name) DO UPDATE SET value = id_sequence.value + 1
		RETURNING value`, name).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("sequence %s: %w", name, err)
	}
	return v, nil
}

// Format renders a sequence value with a prefix, zero-padded to width digits.
func Format(prefix string, value int64, width int) string {
	return fmt.Sprintf("%s%0*d", prefix, width, value)
}
