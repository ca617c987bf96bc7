//go:build integration

package destination

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/apperr"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/db/dbtest"
	"github.com/NicolasMoreauCPage/MedDataBridge-sub000/internal/platform/transport"
)

func TestRepoPG_Destinations(t *testing.T) {
	svc := NewService(NewRepo(dbtest.Pool(t)))
	ctx := context.Background()

	timeout := 2500
	mllp := &Destination{Name: "recv", Kind: transport.KindMLLP, Host: "10.0.0.5", Port: 2575, TimeoutMS: &timeout, Active: true}
	require.NoError(t, svc.CreateDestination(ctx, mllp))
	fhir := &Destination{Name: "hapi", Kind: transport.KindFHIR, BaseURL: "http://hapi.local/fhir", Active: true}
	require.NoError(t, svc.CreateDestination(ctx, fhir))

	err := svc.CreateDestination(ctx, &Destination{Name: "recv", Kind: transport.KindMLLP, Host: "h", Port: 1})
	assert.True(t, errors.Is(err, apperr.ErrConflict), "duplicate name: %v", err)

	got, err := svc.ResolveDestination(ctx, "recv")
	require.NoError(t, err)
	assert.Equal(t, mllp.ID, got.ID)
	require.NotNil(t, got.TimeoutMS)
	assert.Equal(t, 2500, *got.TimeoutMS)

	got.Active = false
	require.NoError(t, svc.UpdateDestination(ctx, got))
	again, err := svc.GetDestination(ctx, mllp.ID)
	require.NoError(t, err)
	assert.False(t, again.Active)

	list, total, err := svc.ListDestinations(ctx, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, list, 2)

	require.NoError(t, svc.DeleteDestination(ctx, fhir.ID))
	_, err = svc.GetDestination(ctx, fhir.ID)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}
