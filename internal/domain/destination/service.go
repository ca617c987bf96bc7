package destination

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/transport"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func validate(d *Destination) error {
	d.Name = strings.TrimSpace(d.Name)
	d.Kind = strings.ToLower(strings.TrimSpace(d.Kind))
	if d.Name == "" {
		return apperr.Validation("name", "is required")
	}
	switch d.Kind {
	case transport.KindMLLP:
		if d.Host == "" {
			return apperr.Validation("host", "is required for mllp destinations")
		}
		if d.Port < 1 || d.Port > 65535 {
			return apperr.Validation("port", "must be between 1 and 65535, got %d", d.Port)
		}
		d.BaseURL = ""
	case transport.KindFHIR:
		u, err := url.Parse(d.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperr.Validation("base_url", "must be an absolute http(s) URL")
		}
		d.Host, d.Port = "", 0
	default:
		return apperr.Validation("kind", "must be %q or %q, got %q", transport.KindMLLP, transport.KindFHIR, d.Kind)
	}
	if d.TimeoutMS != nil && *d.TimeoutMS < 0 {
		return apperr.Validation("timeout_ms", "must not be negative")
	}
	return nil
}

func (s *Service) CreateDestination(ctx context.Context, d *Destination) error {
	if err := validate(d); err != nil {
		return err
	}
	return s.repo.Create(ctx, d)
}

func (s *Service) GetDestination(ctx context.Context, id uuid.UUID) (*Destination, error) {
	return s.repo.GetByID(ctx, id)
}

// ResolveDestination accepts either a UUID or a destination name.
func (s *Service) ResolveDestination(ctx context.Context, ref string) (*Destination, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return s.repo.GetByID(ctx, id)
	}
	d, err := s.repo.GetByName(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("destination %q: %w", ref, err)
	}
	return d, nil
}

func (s *Service) UpdateDestination(ctx context.Context, d *Destination) error {
	if err := validate(d); err != nil {
		return err
	}
	return s.repo.Update(ctx, d)
}

func (s *Service) DeleteDestination(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) ListDestinations(ctx context.Context, limit, offset int) ([]*Destination, int, error) {
	return s.repo.List(ctx, limit, offset)
}
