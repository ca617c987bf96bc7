package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
)

func TestMapError(t *testing.T) {
	other := errors.New("boom")

	if MapError(nil) != nil {
		t.Error("expected nil for nil")
	}
	if !errors.Is(MapError(pgx.ErrNoRows), apperr.ErrNotFound) {
		t.Error("expected ErrNoRows to map to ErrNotFound")
	}
	if !errors.Is(MapError(fmt.Errorf("scan: %w", pgx.ErrNoRows)), apperr.ErrNotFound) {
		t.Error("expected wrapped ErrNoRows to map to ErrNotFound")
	}
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "scenario_key_key"}
	if !errors.Is(MapError(unique), apperr.ErrConflict) {
		t.Error("expected unique violation to map to ErrConflict")
	}
	if MapError(&pgconn.PgError{Code: "23503"}) == apperr.ErrConflict {
		t.Error("foreign key violation must not map to ErrConflict")
	}
	if MapError(other) != other {
		t.Error("expected unrelated errors to pass through")
	}
}
