package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anvil-backend/internal/meta"
)

func partitionDocType() *meta.DocType {
	return &meta.DocType{
		Name: "Order",
		Fields: []meta.DocField{
			{Name: "customer", Type: meta.TypeData},
			{Name: "total", Type: meta.TypeCurrency},
			{Name: "lines", Type: meta.TypeTable, Options: "OrderLine"},
		},
	}
}

func TestPartitionPayload(t *testing.T) {
	dt := partitionDocType()

	fields, children, err := partitionPayload(dt, map[string]any{
		"name":     "ORD-1",
		"customer": "ACME",
		"total":    42.5,
		"lines": []any{
			map[string]any{"sku": "A", "qty": 1},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"name": "ORD-1", "customer": "ACME", "total": 42.5}, fields)
	require.Contains(t, children, "lines")
	assert.Len(t, children["lines"], 1)
}

func TestPartitionPayloadRejectsUndeclaredKey(t *testing.T) {
	dt := partitionDocType()

	_, _, err := partitionPayload(dt, map[string]any{"customer": "ACME", "hacked": "x"})
	require.Error(t, err)
	appErr := err.(*AppError)
	assert.Equal(t, "VALIDATION_FAILED", appErr.Code)
	require.Len(t, appErr.Details, 1)
	assert.Equal(t, "hacked", appErr.Details[0].Field)
	assert.Equal(t, "unknown", appErr.Details[0].Rule)
}

func TestPartitionPayloadRejectsArrayForScalar(t *testing.T) {
	dt := partitionDocType()

	_, _, err := partitionPayload(dt, map[string]any{"customer": []any{"a", "b"}})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", err.(*AppError).Code)
}

func TestPartitionPayloadEmptyChildArrayMeansReplace(t *testing.T) {
	dt := partitionDocType()

	// Presence of the key with an empty array must survive partitioning:
	// it instructs the engine to clear the stored child rows.
	_, children, err := partitionPayload(dt, map[string]any{"lines": []any{}})
	require.NoError(t, err)
	rows, present := children["lines"]
	assert.True(t, present)
	assert.Empty(t, rows)
}

func TestPartitionPayloadRejectsNonObjectChildRows(t *testing.T) {
	dt := partitionDocType()

	_, _, err := partitionPayload(dt, map[string]any{"lines": []any{"not-an-object"}})
	require.Error(t, err)
	assert.Equal(t, "BAD_REQUEST", err.(*AppError).Code)

	_, _, err = partitionPayload(dt, map[string]any{"lines": "not-an-array"})
	require.Error(t, err)
	assert.Equal(t, "BAD_REQUEST", err.(*AppError).Code)
}

func TestChildInsertFields(t *testing.T) {
	child := &meta.DocType{
		Name:    "OrderLine",
		IsChild: true,
		Fields: []meta.DocField{
			{Name: "sku", Type: meta.TypeData},
			{Name: "qty", Type: meta.TypeInt},
		},
	}

	fields, err := childInsertFields(child, "lines", map[string]any{"sku": "A", "qty": 2})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sku": "A", "qty": 2}, fields)

	// Engine-managed columns from a read-back round trip are dropped, not errors.
	fields, err = childInsertFields(child, "lines", map[string]any{
		"sku": "A", "qty": 2, "parent": "ORD-1", "parenttype": "Order",
		"parentfield": "lines", "idx": 7, "id": "x", "tenantId": "t",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"sku": "A", "qty": 2}, fields)

	// Undeclared keys on child rows are rejected like on the parent.
	_, err = childInsertFields(child, "lines", map[string]any{"sku": "A", "surprise": true})
	require.Error(t, err)
	assert.Equal(t, "VALIDATION_FAILED", err.(*AppError).Code)
}

func TestDocstatusOf(t *testing.T) {
	assert.Equal(t, meta.StatusSubmitted, docstatusOf(map[string]any{"docstatus": int64(1)}))
	assert.Equal(t, meta.StatusCancelled, docstatusOf(map[string]any{"docstatus": float64(2)}))
	assert.Equal(t, meta.StatusDraft, docstatusOf(map[string]any{"docstatus": "0"}))
	assert.Equal(t, meta.StatusDraft, docstatusOf(map[string]any{}))
}

func TestDocumentKey(t *testing.T) {
	assert.Equal(t, "INV-1", documentKey(map[string]any{"name": "INV-1", "id": "uuid-1"}))
	assert.Equal(t, "uuid-1", documentKey(map[string]any{"name": nil, "id": "uuid-1"}))
	assert.Equal(t, "uuid-1", documentKey(map[string]any{"name": "", "id": "uuid-1"}))
}
