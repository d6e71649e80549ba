//go:build integration

package postgres

import (
	"context"
	"testing"

	"3tcapital/ms_facturacion_afip/internal/core/audit"
	"3tcapital/ms_facturacion_afip/internal/testutil"
	"3tcapital/ms_facturacion_afip/internal/testutil/containers"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ audit.Repository = (*Repository)(nil)

func TestRepository_SaveAndFind(t *testing.T) {
	pool := containers.NewPostgres(t)
	repo := NewRepository(pool, testutil.NewNullLogger())
	ctx := context.Background()

	status := 200
	exchanges := []audit.Exchange{
		{
			CorrelationID:   "corr-1",
			Service:         "wsfe",
			Operation:       "FECompUltimoAutorizado",
			RequestMethod:   "POST",
			RequestURL:      "https://wswhomo.afip.gov.ar/wsfev1/service.asmx",
			RequestHeaders:  map[string]string{"SOAPAction": `"http://ar.gov.afip.dif.FEV1/FECompUltimoAutorizado"`},
			RequestBody:     "<Token>[REDACTED]</Token>",
			ResponseStatus:  &status,
			ResponseHeaders: map[string]string{"Content-Type": "text/xml"},
			ResponseBody:    "<CbteNro>41</CbteNro>",
			DurationMs:      85,
		},
		{
			CorrelationID:   "corr-1",
			Service:         "wsfe",
			Operation:       "FECAESolicitar",
			RequestMethod:   "POST",
			RequestURL:      "https://wswhomo.afip.gov.ar/wsfev1/service.asmx",
			RequestHeaders:  map[string]string{},
			ResponseHeaders: map[string]string{},
			DurationMs:      30000,
			ErrorMessage:    "context deadline exceeded",
		},
		{
			CorrelationID:   "corr-2",
			Service:         "wsaa",
			Operation:       "loginCms",
			RequestHeaders:  map[string]string{},
			ResponseHeaders: map[string]string{},
		},
	}
	for _, e := range exchanges {
		require.NoError(t, repo.Save(ctx, e))
	}

	got, err := repo.FindByCorrelationID(ctx, "corr-1")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "FECompUltimoAutorizado", got[0].Operation)
	assert.Equal(t, exchanges[0].RequestHeaders, got[0].RequestHeaders)
	assert.Equal(t, "<CbteNro>41</CbteNro>", got[0].ResponseBody)
	require.NotNil(t, got[0].ResponseStatus)
	assert.Equal(t, 200, *got[0].ResponseStatus)
	assert.NotZero(t, got[0].ID)
	assert.False(t, got[0].CreatedAt.IsZero())

	assert.Equal(t, "FECAESolicitar", got[1].Operation)
	assert.Nil(t, got[1].ResponseStatus)
	assert.Empty(t, got[1].RequestBody)
	assert.Equal(t, "context deadline exceeded", got[1].ErrorMessage)

	none, err := repo.FindByCorrelationID(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)
}
