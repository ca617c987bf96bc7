package timeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/hl7v2"
)

// InboundWindow is how far from a movement a logged message may be and
// still be reused by capture.
const InboundWindow = 5 * time.Minute

var validCaseTypes = map[string]bool{
	"inpatient":  true,
	"outpatient": true,
	"emergency":  true,
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) CreateEntity(ctx context.Context, e *EntityContext) error {
	if strings.TrimSpace(e.Name) == "" {
		return apperr.Validation("name", "is required")
	}
	for field, ns := range map[string]*hl7v2.Namespace{
		"patient_namespace":  e.PatientNamespace,
		"visit_namespace":    e.VisitNamespace,
		"movement_namespace": e.MovementNamespace,
	} {
		if ns != nil && (ns.Name == "" || ns.Root == "") {
			return apperr.Validation(field, "name and root are both required")
		}
	}
	return s.repo.CreateEntity(ctx, e)
}

func (s *Service) GetEntity(ctx context.Context, id uuid.UUID) (*EntityContext, error) {
	return s.repo.GetEntity(ctx, id)
}

func (s *Service) CreateCase(ctx context.Context, c *Case) error {
	if strings.TrimSpace(c.Label) == "" {
		return apperr.Validation("label", "is required")
	}
	c.CaseType = strings.ToLower(strings.TrimSpace(c.CaseType))
	if c.CaseType == "" {
		c.CaseType = "inpatient"
	}
	if !validCaseTypes[c.CaseType] {
		return apperr.Validation("case_type", "invalid case type %q", c.CaseType)
	}
	if c.EntityID != nil {
		if _, err := s.repo.GetEntity(ctx, *c.EntityID); err != nil {
			return fmt.Errorf("entity %s: %w", *c.EntityID, err)
		}
	}
	return s.repo.CreateCase(ctx, c)
}

func (s *Service) GetCase(ctx context.Context, id uuid.UUID) (*Case, error) {
	return s.repo.GetCase(ctx, id)
}

func (s *Service) ListCases(ctx context.Context, limit, offset int) ([]*Case, int, error) {
	return s.repo.ListCases(ctx, limit, offset)
}

func (s *Service) DeleteCase(ctx context.Context, id uuid.UUID) error {
	return s.repo.DeleteCase(ctx, id)
}

func (s *Service) AddMovement(ctx context.Context, m *Movement) error {
	m.Trigger = hl7v2.NormalizeTrigger(m.Trigger)
	if m.Trigger == "" {
		return apperr.Validation("trigger", "is required")
	}
	if m.OccurredAt.IsZero() {
		return apperr.Validation("occurred_at", "is required")
	}
	m.Action = hl7v2.NormalizeAction(m.Action)
	return s.repo.AddMovement(ctx, m)
}

// Timeline loads a case, its entity context when linked, and its movements.
func (s *Service) Timeline(ctx context.Context, caseID uuid.UUID) (*CaseTimeline, error) {
	c, err := s.repo.GetCase(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("case %s: %w", caseID, err)
	}
	tl := &CaseTimeline{Case: c}
	if c.EntityID != nil {
		e, err := s.repo.GetEntity(ctx, *c.EntityID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return nil, fmt.Errorf("entity %s: %w", *c.EntityID, err)
		}
		tl.Entity = e
	}
	tl.Movements, err = s.repo.ListMovements(ctx, caseID)
	if err != nil {
		return nil, fmt.Errorf("movements of case %s: %w", caseID, err)
	}
	return tl, nil
}

// MatchInbound finds a logged message for trigger within InboundWindow of at.
// It returns nil without error when none exists.
func (s *Service) MatchInbound(ctx context.Context, trigger string, at time.Time) (*InboundMessage, error) {
	msg, err := s.repo.FindInbound(ctx, hl7v2.NormalizeTrigger(trigger), at, InboundWindow)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return msg, err
}

// RecordInbound logs a received message so capture can reuse it later.
func (s *Service) RecordInbound(ctx context.Context, raw []byte, receivedAt time.Time) (*InboundMessage, error) {
	msg, err := hl7v2.Parse(raw)
	if err != nil {
		return nil, apperr.Validation("payload", "unparseable message: %v", err)
	}
	in := &InboundMessage{
		Trigger:     msg.Trigger(),
		MessageType: msg.Type,
		ControlID:   msg.ControlID,
		ReceivedAt:  receivedAt,
		Payload:     string(raw),
	}
	if err := s.repo.RecordInbound(ctx, in); err != nil {
		return nil, err
	}
	return in, nil
}
