package scenario

import (
	"context"

	"github.com/google/uuid"
)

type TemplateRepository interface {
	// CreateTemplate stores a template and its steps atomically.
	CreateTemplate(ctx context.Context, t *Template) error
	GetTemplateByKey(ctx context.Context, key string) (*Template, error)
	ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error)
}

type ScenarioRepository interface {
	// Create stores a scenario and its steps atomically.
	Create(ctx context.Context, s *Scenario) error
	GetByID(ctx context.Context, id uuid.UUID) (*Scenario, error)
	GetByKey(ctx context.Context, key string) (*Scenario, error)
	// List returns scenarios without their steps.
	List(ctx context.Context, limit, offset int) ([]*Scenario, int, error)
	Delete(ctx context.Context, id uuid.UUID) error

	UpsertBinding(ctx context.Context, b *Binding) error
	GetBinding(ctx context.Context, scenarioID uuid.UUID) (*Binding, error)
}

type RunRepository interface {
	CreateRun(ctx context.Context, r *Run) error
	// AppendStepLog stores l and bumps the run counters in one unit.
	AppendStepLog(ctx context.Context, l *StepLog) error
	// FinishRun records the terminal status, finished_at and error message.
	FinishRun(ctx context.Context, r *Run) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	ListRuns(ctx context.Context, scenarioID uuid.UUID, limit, offset int) ([]*Run, int, error)
	ListStepLogs(ctx context.Context, runID uuid.UUID) ([]*StepLog, error)
}

// Store groups the scenario repositories. Both the PostgreSQL repository
// and MemoryStore implement it.
type Store interface {
	TemplateRepository
	ScenarioRepository
	RunRepository
}
