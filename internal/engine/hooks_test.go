package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anvil-backend/internal/meta"
)

func TestHooksTriggerUnregistered(t *testing.T) {
	h := NewHooks()
	doc := map[string]any{"amount": 100}

	out, err := h.Trigger(context.Background(), "Invoice", EventBeforeSave, doc, nil)
	require.NoError(t, err)
	assert.Equal(t, doc, out)
}

func TestHooksReplaceDocument(t *testing.T) {
	h := NewHooks()
	h.Register("Invoice", HookSet{
		BeforeSave: func(_ context.Context, doc map[string]any, _ *meta.UserContext) (map[string]any, error) {
			doc["stamped"] = true
			return doc, nil
		},
	})

	out, err := h.Trigger(context.Background(), "Invoice", EventBeforeSave, map[string]any{"amount": 100}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["stamped"])
}

func TestHooksNilReturnPassesThrough(t *testing.T) {
	h := NewHooks()
	called := false
	h.Register("Invoice", HookSet{
		AfterSave: func(context.Context, map[string]any, *meta.UserContext) (map[string]any, error) {
			called = true
			return nil, nil
		},
	})

	doc := map[string]any{"amount": 100}
	out, err := h.Trigger(context.Background(), "Invoice", EventAfterSave, doc, nil)
	require.NoError(t, err)
	assert.True(t, called)
	assert.Equal(t, doc, out)
}

func TestHooksErrorAbortsOperation(t *testing.T) {
	h := NewHooks()
	boom := errors.New("boom")
	h.Register("Invoice", HookSet{
		BeforeDelete: func(context.Context, map[string]any, *meta.UserContext) (map[string]any, error) {
			return nil, boom
		},
	})

	_, err := h.Trigger(context.Background(), "Invoice", EventBeforeDelete, map[string]any{}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestHooksMergeLastWins(t *testing.T) {
	h := NewHooks()
	h.Register("Invoice", HookSet{
		BeforeSave: func(_ context.Context, doc map[string]any, _ *meta.UserContext) (map[string]any, error) {
			doc["version"] = 1
			return doc, nil
		},
		OnSubmit: func(_ context.Context, doc map[string]any, _ *meta.UserContext) (map[string]any, error) {
			doc["submitted_hook"] = true
			return doc, nil
		},
	})
	// Second registration replaces BeforeSave but keeps OnSubmit.
	h.Register("Invoice", HookSet{
		BeforeSave: func(_ context.Context, doc map[string]any, _ *meta.UserContext) (map[string]any, error) {
			doc["version"] = 2
			return doc, nil
		},
	})

	out, err := h.Trigger(context.Background(), "Invoice", EventBeforeSave, map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, out["version"])

	out, err = h.Trigger(context.Background(), "Invoice", EventOnSubmit, map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["submitted_hook"])
}

func TestHooksRegisterExpr(t *testing.T) {
	h := NewHooks()
	err := h.RegisterExpr("Invoice", EventBeforeSave, `{"amount": doc.amount, "flag": "set"}`)
	require.NoError(t, err)

	out, err := h.Trigger(context.Background(), "Invoice", EventBeforeSave, map[string]any{"amount": 5}, nil)
	require.NoError(t, err)
	assert.Equal(t, "set", out["flag"])
	assert.Equal(t, 5, out["amount"])
}

func TestHooksRegisterExprSeesEvent(t *testing.T) {
	h := NewHooks()
	err := h.RegisterExpr("Invoice", EventOnSubmit, `{"fired": event}`)
	require.NoError(t, err)

	out, err := h.Trigger(context.Background(), "Invoice", EventOnSubmit, map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, EventOnSubmit, out["fired"])
}

func TestHooksRegisterExprBadSource(t *testing.T) {
	h := NewHooks()
	assert.Error(t, h.RegisterExpr("Invoice", EventBeforeSave, `this is not an expression !!!`))
	assert.Error(t, h.RegisterExpr("Invoice", "no_such_event", `true`))
}
