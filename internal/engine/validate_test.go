package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anvil-backend/internal/meta"
)

// validation of non-Link fields never touches the database, so these tests
// pass a nil transaction.

func orderDocType() *meta.DocType {
	return &meta.DocType{
		Name: "Order",
		Fields: []meta.DocField{
			{Name: "customer", Type: meta.TypeData, Required: true},
			{Name: "qty", Type: meta.TypeInt},
			{Name: "total", Type: meta.TypeCurrency},
			{Name: "delivery", Type: meta.TypeDate},
			{Name: "lines", Type: meta.TypeTable, Options: "OrderLine"},
		},
	}
}

func TestValidateDocumentRequired(t *testing.T) {
	dt := orderDocType()
	reg := meta.NewRegistry()

	err := ValidateDocument(context.Background(), nil, reg, dt, map[string]any{"qty": 1})
	require.Error(t, err)
	appErr := err.(*AppError)
	assert.Equal(t, "VALIDATION_FAILED", appErr.Code)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "customer", appErr.Details[0].Field)
	assert.Equal(t, "required", appErr.Details[0].Rule)

	// Empty string counts as absent for required fields.
	err = ValidateDocument(context.Background(), nil, reg, dt, map[string]any{"customer": ""})
	require.Error(t, err)

	err = ValidateDocument(context.Background(), nil, reg, dt, map[string]any{"customer": "ACME"})
	require.NoError(t, err)
}

func TestValidateDocumentTypes(t *testing.T) {
	dt := orderDocType()
	reg := meta.NewRegistry()
	base := map[string]any{"customer": "ACME"}

	valid := []map[string]any{
		{"qty": 3},
		{"qty": float64(3)}, // JSON numbers decode as float64
		{"qty": "42"},
		{"total": 99.5},
		{"total": "99.50"},
		{"delivery": "2026-08-30"},
	}
	for _, extra := range valid {
		payload := map[string]any{}
		for k, v := range base {
			payload[k] = v
		}
		for k, v := range extra {
			payload[k] = v
		}
		assert.NoError(t, ValidateDocument(context.Background(), nil, reg, dt, payload), "payload %v", extra)
	}

	invalid := []map[string]any{
		{"qty": 3.5},
		{"qty": "three"},
		{"total": "lots"},
		{"delivery": "yesterday"},
	}
	for _, extra := range invalid {
		payload := map[string]any{"customer": "ACME"}
		for k, v := range extra {
			payload[k] = v
		}
		err := ValidateDocument(context.Background(), nil, reg, dt, payload)
		require.Error(t, err, "payload %v", extra)
		assert.Equal(t, "VALIDATION_FAILED", err.(*AppError).Code)
	}
}

func TestValidateDocumentUnknownLinkTarget(t *testing.T) {
	dt := &meta.DocType{
		Name: "Order",
		Fields: []meta.DocField{
			{Name: "customer", Type: meta.TypeLink, Target: "Customer"},
		},
	}
	reg := meta.NewRegistry() // Customer not registered

	err := ValidateDocument(context.Background(), nil, reg, dt, map[string]any{"customer": "ACME"})
	require.Error(t, err)
	appErr := err.(*AppError)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "link_target", appErr.Details[0].Rule)
}

func TestValidateDocumentIgnoresUndeclaredKeys(t *testing.T) {
	// Undeclared keys are the write path's concern, not the validator's.
	dt := orderDocType()
	reg := meta.NewRegistry()

	err := ValidateDocument(context.Background(), nil, reg, dt,
		map[string]any{"customer": "ACME", "hacked": "x"})
	assert.NoError(t, err)
}
