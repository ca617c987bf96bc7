package timeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	CreateEntity(ctx context.Context, e *EntityContext) error
	GetEntity(ctx context.Context, id uuid.UUID) (*EntityContext, error)

	CreateCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, id uuid.UUID) (*Case, error)
	ListCases(ctx context.Context, limit, offset int) ([]*Case, int, error)
	DeleteCase(ctx context.Context, id uuid.UUID) error

	AddMovement(ctx context.Context, m *Movement) error
	// ListMovements returns the case movements by ascending occurred_at.
	ListMovements(ctx context.Context, caseID uuid.UUID) ([]*Movement, error)

	RecordInbound(ctx context.Context, msg *InboundMessage) error
	// FindInbound returns the logged message of trigger closest to at within
	// ±window, or apperr.ErrNotFound.
	FindInbound(ctx context.Context, trigger string, at time.Time, window time.Duration) (*InboundMessage, error)
}
