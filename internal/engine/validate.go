package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"anvil-backend/internal/meta"
	"anvil-backend/internal/store"
)

// ValidateDocument checks the payload against the DocType's declared scalar
// fields: required presence, type shape, and Link target existence. Link
// lookups run on the caller's tenant-scoped transaction. Undeclared keys are
// not this layer's concern; the write path's allow-list rejects those.
func ValidateDocument(ctx context.Context, tx store.Querier, reg *meta.Registry, dt *meta.DocType, payload map[string]any) error {
	var details []ErrorDetail

	for _, f := range dt.ScalarFields() {
		value, present := payload[f.Name]

		if f.Required && isEmpty(value) {
			details = append(details, ErrorDetail{
				Field:   f.Name,
				Rule:    "required",
				Message: fmt.Sprintf("Field %s is required", f.Name),
			})
			continue
		}
		if !present || value == nil {
			continue
		}

		if detail := checkFieldType(ctx, tx, reg, f, value); detail != nil {
			details = append(details, *detail)
		}
	}

	if len(details) > 0 {
		return ValidationError(details)
	}
	return nil
}

func checkFieldType(ctx context.Context, tx store.Querier, reg *meta.Registry, f meta.DocField, value any) *ErrorDetail {
	switch f.Type {
	case meta.TypeInt:
		if !isInt(value) {
			return typeDetail(f.Name, "must be an integer")
		}
	case meta.TypeFloat, meta.TypeCurrency:
		if !isNumeric(value) {
			return typeDetail(f.Name, "must be a number")
		}
	case meta.TypeDate:
		if !isDate(value) {
			return typeDetail(f.Name, "must be a valid date")
		}
	case meta.TypeLink:
		return checkLink(ctx, tx, reg, f, value)
	}
	return nil
}

// checkLink confirms the referenced document exists in the Link target's
// table. An unknown target DocType and a missing referenced row are distinct
// failures.
func checkLink(ctx context.Context, tx store.Querier, reg *meta.Registry, f meta.DocField, value any) *ErrorDetail {
	target := reg.Get(f.Target)
	if target == nil {
		return &ErrorDetail{
			Field:   f.Name,
			Rule:    "link_target",
			Message: fmt.Sprintf("Link target %q is not a known DocType", f.Target),
		}
	}

	table, err := meta.TableNameFor(target.Name)
	if err != nil {
		return &ErrorDetail{Field: f.Name, Rule: "link_target", Message: err.Error()}
	}

	_, err = store.QueryRowMap(ctx, tx,
		fmt.Sprintf(`SELECT 1 FROM %s WHERE name = $1`, meta.QuoteIdent(table)),
		fmt.Sprintf("%v", value))
	if errors.Is(err, store.ErrNotFound) {
		return &ErrorDetail{
			Field:   f.Name,
			Rule:    "link",
			Message: fmt.Sprintf("No %s named %v exists", f.Target, value),
		}
	}
	if err != nil {
		return &ErrorDetail{Field: f.Name, Rule: "link", Message: err.Error()}
	}
	return nil
}

func typeDetail(field, msg string) *ErrorDetail {
	return &ErrorDetail{Field: field, Rule: "type", Message: fmt.Sprintf("Field %s %s", field, msg)}
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && s == ""
}

func isInt(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == float64(int64(n))
	case float32:
		return n == float32(int64(n))
	case string:
		_, err := strconv.ParseInt(n, 10, 64)
		return err == nil
	default:
		return false
	}
}

func isNumeric(v any) bool {
	switch n := v.(type) {
	case int, int32, int64, float32, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(n, 64)
		return err == nil
	default:
		return false
	}
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"}

func isDate(v any) bool {
	switch d := v.(type) {
	case time.Time:
		return true
	case string:
		for _, layout := range dateLayouts {
			if _, err := time.Parse(layout, d); err == nil {
				return true
			}
		}
		return false
	default:
		return false
	}
}
