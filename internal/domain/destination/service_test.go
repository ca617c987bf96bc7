package destination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/transport"
)

func intPtr(i int) *int { return &i }

func TestCreateDestination_Validation(t *testing.T) {
	tests := []struct {
		name    string
		dest    Destination
		wantErr bool
	}{
		{"mllp ok", Destination{Name: "lab", Kind: "mllp", Host: "127.0.0.1", Port: 2575}, false},
		{"kind is normalized", Destination{Name: "lab2", Kind: " MLLP ", Host: "h", Port: 1}, false},
		{"fhir ok", Destination{Name: "hapi", Kind: "fhir", BaseURL: "http://hapi.test/fhir"}, false},
		{"missing name", Destination{Kind: "mllp", Host: "h", Port: 1}, true},
		{"unknown kind", Destination{Name: "x", Kind: "smtp"}, true},
		{"mllp without host", Destination{Name: "x", Kind: "mllp", Port: 2575}, true},
		{"mllp bad port", Destination{Name: "x", Kind: "mllp", Host: "h", Port: 70000}, true},
		{"fhir relative url", Destination{Name: "x", Kind: "fhir", BaseURL: "/fhir"}, true},
		{"negative timeout", Destination{Name: "x", Kind: "mllp", Host: "h", Port: 1, TimeoutMS: intPtr(-1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(NewMemoryRepo())
			d := tt.dest
			err := svc.CreateDestination(context.Background(), &d)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CreateDestination() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !apperr.IsValidation(err) {
				t.Errorf("expected validation error, got %T", err)
			}
		})
	}
}

func TestCreateDestination_DuplicateName(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()
	if err := svc.CreateDestination(ctx, &Destination{Name: "lab", Kind: "mllp", Host: "h", Port: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := svc.CreateDestination(ctx, &Destination{Name: "lab", Kind: "mllp", Host: "h", Port: 2})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestResolveDestination(t *testing.T) {
	svc := NewService(NewMemoryRepo())
	ctx := context.Background()
	d := &Destination{Name: "lab", Kind: "mllp", Host: "h", Port: 1}
	if err := svc.CreateDestination(ctx, d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID, err := svc.ResolveDestination(ctx, d.ID.String())
	if err != nil || byID.Name != "lab" {
		t.Fatalf("resolve by id: %v, %+v", err, byID)
	}
	byName, err := svc.ResolveDestination(ctx, "lab")
	if err != nil || byName.ID != d.ID {
		t.Fatalf("resolve by name: %v, %+v", err, byName)
	}
	if _, err := svc.ResolveDestination(ctx, "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDestination_Endpoint(t *testing.T) {
	mllp := &Destination{Name: "lab", Kind: transport.KindMLLP, Host: "10.0.0.1", Port: 2575, TimeoutMS: intPtr(1500)}
	ep := mllp.Endpoint()
	if ep.Address != "10.0.0.1:2575" {
		t.Errorf("expected address 10.0.0.1:2575, got %s", ep.Address)
	}
	if ep.Timeout != 1500*time.Millisecond {
		t.Errorf("expected 1.5s timeout, got %s", ep.Timeout)
	}

	fhir := &Destination{Name: "hapi", Kind: transport.KindFHIR, BaseURL: "http://hapi.test/fhir"}
	ep = fhir.Endpoint()
	if ep.URL != "http://hapi.test/fhir" || ep.Address != "" {
		t.Errorf("unexpected fhir endpoint %+v", ep)
	}
	if ep.Timeout != 0 {
		t.Errorf("expected no timeout override, got %s", ep.Timeout)
	}
}

func TestMemoryRepo_ListPaginates(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	for _, name := range []string{"c", "a", "b"} {
		if err := repo.Create(ctx, &Destination{Name: name, Kind: "mllp", Host: "h", Port: 1}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	page, total, err := repo.List(ctx, 2, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
	if len(page) != 2 || page[0].Name != "b" || page[1].Name != "c" {
		t.Errorf("unexpected page: %v", page)
	}
}
