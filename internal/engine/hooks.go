package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"anvil-backend/internal/meta"
)

// Lifecycle events the engine fires.
const (
	EventBeforeSave   = "before_save"
	EventAfterSave    = "after_save"
	EventBeforeDelete = "before_delete"
	EventOnSubmit     = "on_submit"
	EventOnCancel     = "on_cancel"
)

// HookFunc receives the in-flight document and the acting user. Returning a
// non-nil map replaces the working document for the rest of the operation.
// An error aborts the operation (and its transaction, when one is open).
type HookFunc func(ctx context.Context, doc map[string]any, user *meta.UserContext) (map[string]any, error)

// HookSet bundles the callbacks for one DocType.
type HookSet struct {
	BeforeSave   HookFunc
	AfterSave    HookFunc
	BeforeDelete HookFunc
	OnSubmit     HookFunc
	OnCancel     HookFunc
}

// Hooks is a registry of lifecycle callbacks keyed by DocType name.
// Registrations merge: the last non-nil callback per event wins, earlier
// callbacks for other events are retained.
type Hooks struct {
	mu   sync.RWMutex
	sets map[string]*HookSet
}

func NewHooks() *Hooks {
	return &Hooks{sets: make(map[string]*HookSet)}
}

// Register merges the given callbacks into the DocType's hook set.
func (h *Hooks) Register(docType string, set HookSet) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.sets[docType]
	if !ok {
		current = &HookSet{}
		h.sets[docType] = current
	}
	if set.BeforeSave != nil {
		current.BeforeSave = set.BeforeSave
	}
	if set.AfterSave != nil {
		current.AfterSave = set.AfterSave
	}
	if set.BeforeDelete != nil {
		current.BeforeDelete = set.BeforeDelete
	}
	if set.OnSubmit != nil {
		current.OnSubmit = set.OnSubmit
	}
	if set.OnCancel != nil {
		current.OnCancel = set.OnCancel
	}
}

// RegisterExpr compiles an expression and registers it as the hook for the
// given event. The expression sees {doc, user, event}; a map result replaces
// the working document, any other result passes it through unchanged.
func (h *Hooks) RegisterExpr(docType, event, src string) error {
	program, err := expr.Compile(src)
	if err != nil {
		return fmt.Errorf("compile hook expression for %s/%s: %w", docType, event, err)
	}

	fn := exprHook(program, event)
	set := HookSet{}
	switch event {
	case EventBeforeSave:
		set.BeforeSave = fn
	case EventAfterSave:
		set.AfterSave = fn
	case EventBeforeDelete:
		set.BeforeDelete = fn
	case EventOnSubmit:
		set.OnSubmit = fn
	case EventOnCancel:
		set.OnCancel = fn
	default:
		return fmt.Errorf("unknown hook event: %s", event)
	}
	h.Register(docType, set)
	return nil
}

func exprHook(program *vm.Program, event string) HookFunc {
	return func(_ context.Context, doc map[string]any, user *meta.UserContext) (map[string]any, error) {
		env := map[string]any{
			"doc":   doc,
			"user":  user,
			"event": event,
		}
		out, err := expr.Run(program, env)
		if err != nil {
			return nil, fmt.Errorf("run hook expression: %w", err)
		}
		if replaced, ok := out.(map[string]any); ok {
			return replaced, nil
		}
		return nil, nil
	}
}

// Trigger invokes the DocType's callback for the event, if registered.
// Returns the (possibly replaced) document.
func (h *Hooks) Trigger(ctx context.Context, docType, event string, doc map[string]any, user *meta.UserContext) (map[string]any, error) {
	h.mu.RLock()
	set := h.sets[docType]
	h.mu.RUnlock()

	if set == nil {
		return doc, nil
	}

	var fn HookFunc
	switch event {
	case EventBeforeSave:
		fn = set.BeforeSave
	case EventAfterSave:
		fn = set.AfterSave
	case EventBeforeDelete:
		fn = set.BeforeDelete
	case EventOnSubmit:
		fn = set.OnSubmit
	case EventOnCancel:
		fn = set.OnCancel
	}
	if fn == nil {
		return doc, nil
	}

	replaced, err := fn(ctx, doc, user)
	if err != nil {
		return nil, err
	}
	if replaced != nil {
		return replaced, nil
	}
	return doc, nil
}
