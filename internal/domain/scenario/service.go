package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Store exposes the underlying repositories to the materializer, capture
// and replay components.
func (s *Service) Store() Store {
	return s.store
}

// -- Templates --

func (s *Service) ListTemplates(ctx context.Context, limit, offset int) ([]*Template, int, error) {
	return s.store.ListTemplates(ctx, limit, offset)
}

func (s *Service) GetTemplate(ctx context.Context, key string) (*Template, error) {
	return s.store.GetTemplateByKey(ctx, key)
}

// SeedCatalog inserts the templates not stored yet and returns how many
// were created.
func (s *Service) SeedCatalog(ctx context.Context, templates []Template) (int, error) {
	return SeedTemplates(ctx, s.store, templates)
}

// -- Scenarios --

func (s *Service) CreateScenario(ctx context.Context, sc *Scenario) error {
	if err := sc.Validate(); err != nil {
		return err
	}
	if sc.Tags == nil {
		sc.Tags = []string{}
	}
	return s.store.Create(ctx, sc)
}

func (s *Service) GetScenario(ctx context.Context, id uuid.UUID) (*Scenario, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) GetScenarioByKey(ctx context.Context, key string) (*Scenario, error) {
	return s.store.GetByKey(ctx, key)
}

// ResolveScenario accepts a scenario id or key.
func (s *Service) ResolveScenario(ctx context.Context, ref string) (*Scenario, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.store.GetByID(ctx, id)
	}
	return s.store.GetByKey(ctx, ref)
}

func (s *Service) ListScenarios(ctx context.Context, limit, offset int) ([]*Scenario, int, error) {
	return s.store.List(ctx, limit, offset)
}

func (s *Service) DeleteScenario(ctx context.Context, id uuid.UUID) error {
	return s.store.Delete(ctx, id)
}

// ExportScenario returns the portable document of a stored scenario.
func (s *Service) ExportScenario(ctx context.Context, id uuid.UUID) (*Document, error) {
	sc, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return Export(sc), nil
}

// ImportScenario stores the scenario described by data. The import is
// rejected as a whole when the document is invalid or its key is taken.
func (s *Service) ImportScenario(ctx context.Context, data []byte, keyOverride string) (*Scenario, error) {
	sc, err := ParseDocument(data, keyOverride)
	if err != nil {
		return nil, err
	}
	_, err = s.store.GetByKey(ctx, sc.Key)
	switch {
	case err == nil:
		return nil, &apperr.ImportError{Key: sc.Key, Reason: "scenario key already exists", Err: apperr.ErrConflict}
	case !errors.Is(err, apperr.ErrNotFound):
		return nil, err
	}
	if err := s.store.Create(ctx, sc); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			return nil, &apperr.ImportError{Key: sc.Key, Reason: "scenario key already exists", Err: err}
		}
		return nil, fmt.Errorf("import %s: %w", sc.Key, err)
	}
	return sc, nil
}

// -- Bindings --

// BindCase links a scenario to a demonstration case and records the
// identifiers last drawn for it.
func (s *Service) BindCase(ctx context.Context, scenarioID, caseID uuid.UUID, identifiers map[string]string) error {
	if identifiers == nil {
		identifiers = map[string]string{}
	}
	return s.store.UpsertBinding(ctx, &Binding{
		ScenarioID:      scenarioID,
		DemoCaseID:      caseID,
		LastIdentifiers: identifiers,
		UpdatedAt:       time.Now().UTC(),
	})
}

func (s *Service) GetBinding(ctx context.Context, scenarioID uuid.UUID) (*Binding, error) {
	return s.store.GetBinding(ctx, scenarioID)
}

// -- Runs --

func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	return s.store.GetRun(ctx, id)
}

func (s *Service) ListRuns(ctx context.Context, scenarioID uuid.UUID, limit, offset int) ([]*Run, int, error) {
	if _, err := s.store.GetByID(ctx, scenarioID); err != nil {
		return nil, 0, err
	}
	return s.store.ListRuns(ctx, scenarioID, limit, offset)
}

func (s *Service) ListStepLogs(ctx context.Context, runID uuid.UUID) ([]*StepLog, error) {
	if _, err := s.store.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return s.store.ListStepLogs(ctx, runID)
}
