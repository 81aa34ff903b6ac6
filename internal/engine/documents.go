package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"anvil-backend/internal/meta"
	"anvil-backend/internal/store"
)

// listPageSize caps List results. List views are flat: no child hydration.
const listPageSize = 100

// Engine is the generic document orchestrator. It operates on any registered
// DocType by composing the permission evaluator, validation engine, hook
// dispatcher, and metadata-driven SQL against the DocType's physical table.
type Engine struct {
	store    *store.Store
	registry *meta.Registry
	hooks    *Hooks
}

func New(s *store.Store, reg *meta.Registry, hooks *Hooks) *Engine {
	return &Engine{store: s, registry: reg, hooks: hooks}
}

// Hooks exposes the dispatcher so callers can register lifecycle callbacks.
func (e *Engine) Hooks() *Hooks {
	return e.hooks
}

// Create inserts a new document (and its child rows) for the DocType.
// The document starts in Draft.
func (e *Engine) Create(ctx context.Context, docType string, payload map[string]any, user *meta.UserContext) (map[string]any, error) {
	dt, err := e.writableDocType(docType)
	if err != nil {
		return nil, err
	}
	if err := EnsurePermission(user, dt, meta.ActionCreate); err != nil {
		return nil, err
	}

	tx, err := e.beginTenantTx(ctx, user)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	if err := ValidateDocument(ctx, tx, e.registry, dt, payload); err != nil {
		return nil, err
	}

	payload, err = e.hooks.Trigger(ctx, dt.Name, EventBeforeSave, payload, user)
	if err != nil {
		return nil, err
	}

	fields, children, err := partitionPayload(dt, payload)
	if err != nil {
		return nil, err
	}

	fields["tenantId"] = user.TenantID
	fields["owner"] = user.ID

	table, err := meta.TableNameFor(dt.Name)
	if err != nil {
		return nil, err
	}
	sqlStr, params, err := buildInsertSQL(table, fields)
	if err != nil {
		return nil, err
	}
	row, err := store.QueryRowMap(ctx, tx, sqlStr, params...)
	if err != nil {
		return nil, mapWriteError(dt.Name, err)
	}

	composed := row
	docName := documentKey(row)
	for _, f := range dt.TableFields() {
		rows, present := children[f.Name]
		if !present {
			continue
		}
		inserted, err := e.replaceChildren(ctx, tx, dt, f, docName, user.TenantID, rows, false)
		if err != nil {
			return nil, err
		}
		composed[f.Name] = inserted
	}

	if err := writeAudit(ctx, tx, user, ActionCreate, dt.Name, docName); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	composed, err = e.hooks.Trigger(ctx, dt.Name, EventAfterSave, composed, user)
	if err != nil {
		return nil, err
	}
	return composed, nil
}

// Get returns the document addressed by name, with every declared child-table
// field hydrated as an ordered array.
func (e *Engine) Get(ctx context.Context, docType, name string, user *meta.UserContext) (map[string]any, error) {
	dt, err := e.docType(docType)
	if err != nil {
		return nil, err
	}
	if dt.IsSingle {
		return nil, BadRequestError(fmt.Sprintf("%s is a Single DocType and has no document table", dt.Name))
	}
	if err := EnsurePermission(user, dt, meta.ActionRead); err != nil {
		return nil, err
	}

	tx, err := e.beginTenantTx(ctx, user)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	row, err := e.fetchDocument(ctx, tx, dt, name)
	if err != nil {
		return nil, err
	}
	if err := e.hydrateChildren(ctx, tx, dt, row); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return row, nil
}

// List returns up to one page of documents, flat (no child hydration).
func (e *Engine) List(ctx context.Context, docType string, user *meta.UserContext) ([]map[string]any, error) {
	dt, err := e.docType(docType)
	if err != nil {
		return nil, err
	}
	if dt.IsSingle {
		return nil, BadRequestError(fmt.Sprintf("%s is a Single DocType and has no document table", dt.Name))
	}
	if err := EnsurePermission(user, dt, meta.ActionRead); err != nil {
		return nil, err
	}

	table, err := meta.TableNameFor(dt.Name)
	if err != nil {
		return nil, err
	}

	tx, err := e.beginTenantTx(ctx, user)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	sqlStr, params := buildListSQL(table, listPageSize)
	rows, err := store.QueryRows(ctx, tx, sqlStr, params...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dt.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	if rows == nil {
		rows = []map[string]any{}
	}
	return rows, nil
}

// Update applies a patch to a Draft document. Child-table keys present in the
// patch replace the stored child rows wholesale, even when the array is empty.
// Renames carry the document's child rows along.
func (e *Engine) Update(ctx context.Context, docType, name string, patch map[string]any, user *meta.UserContext) (map[string]any, error) {
	dt, err := e.writableDocType(docType)
	if err != nil {
		return nil, err
	}
	if err := EnsurePermission(user, dt, meta.ActionWrite); err != nil {
		return nil, err
	}

	tx, err := e.beginTenantTx(ctx, user)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := e.fetchDocument(ctx, tx, dt, name)
	if err != nil {
		return nil, err
	}
	if docstatusOf(current) == meta.StatusSubmitted {
		return nil, BadRequestError("Cannot edit a submitted document")
	}

	patch, err = e.hooks.Trigger(ctx, dt.Name, EventBeforeSave, patch, user)
	if err != nil {
		return nil, err
	}

	// Validate the would-be state of the document, not just the patch, so a
	// patch cannot blank out a required field.
	merged := make(map[string]any, len(current)+len(patch))
	for k, v := range current {
		merged[k] = v
	}
	for k, v := range patch {
		merged[k] = v
	}
	if err := ValidateDocument(ctx, tx, e.registry, dt, merged); err != nil {
		return nil, err
	}

	fields, children, err := partitionPayload(dt, patch)
	if err != nil {
		return nil, err
	}

	table, err := meta.TableNameFor(dt.Name)
	if err != nil {
		return nil, err
	}

	row := current
	if len(fields) > 0 {
		sqlStr, params, err := buildUpdateSQL(table, fields, name)
		if err != nil {
			return nil, err
		}
		row, err = store.QueryRowMap(ctx, tx, sqlStr, params...)
		if errors.Is(err, store.ErrNotFound) {
			return nil, NotFoundError(dt.Name, name)
		}
		if err != nil {
			return nil, mapWriteError(dt.Name, err)
		}
	}

	composed := row
	docName := documentKey(row)

	// A rename moves the child linkage with it: stored child rows key on the
	// old parent name and would otherwise be orphaned.
	if oldName := documentKey(current); docName != oldName {
		for _, f := range dt.TableFields() {
			if err := e.rekeyChildren(ctx, tx, dt, f, oldName, docName); err != nil {
				return nil, err
			}
		}
	}

	for _, f := range dt.TableFields() {
		rows, present := children[f.Name]
		if !present {
			continue
		}
		inserted, err := e.replaceChildren(ctx, tx, dt, f, docName, user.TenantID, rows, true)
		if err != nil {
			return nil, err
		}
		composed[f.Name] = inserted
	}

	if err := writeAudit(ctx, tx, user, ActionUpdate, dt.Name, docName); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	composed, err = e.hooks.Trigger(ctx, dt.Name, EventAfterSave, composed, user)
	if err != nil {
		return nil, err
	}
	return composed, nil
}

// Delete removes a Draft or Cancelled document and its child rows.
func (e *Engine) Delete(ctx context.Context, docType, name string, user *meta.UserContext) error {
	dt, err := e.writableDocType(docType)
	if err != nil {
		return err
	}
	if err := EnsurePermission(user, dt, meta.ActionDelete); err != nil {
		return err
	}

	tx, err := e.beginTenantTx(ctx, user)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	current, err := e.fetchDocument(ctx, tx, dt, name)
	if err != nil {
		return err
	}
	if docstatusOf(current) == meta.StatusSubmitted {
		return BadRequestError("Cannot delete a submitted document")
	}

	if _, err := e.hooks.Trigger(ctx, dt.Name, EventBeforeDelete, current, user); err != nil {
		return err
	}

	// Child rows are owned exclusively by the parent: cascade them in the
	// same transaction.
	for _, f := range dt.TableFields() {
		if err := e.deleteChildren(ctx, tx, dt, f, name); err != nil {
			return err
		}
	}

	table, err := meta.TableNameFor(dt.Name)
	if err != nil {
		return err
	}
	sqlStr, params := buildDeleteSQL(table, name)
	affected, err := store.Exec(ctx, tx, sqlStr, params...)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", dt.Name, name, err)
	}
	if affected == 0 {
		return NotFoundError(dt.Name, name)
	}

	if err := writeAudit(ctx, tx, user, ActionDelete, dt.Name, name); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Submit moves a Draft document to Submitted and fires the onSubmit hook.
func (e *Engine) Submit(ctx context.Context, docType, name string, user *meta.UserContext) (map[string]any, error) {
	return e.transition(ctx, docType, name, user, meta.ActionSubmit,
		meta.StatusDraft, meta.StatusSubmitted, ActionSubmit, EventOnSubmit)
}

// Cancel moves a Submitted document to Cancelled and fires the onCancel hook.
func (e *Engine) Cancel(ctx context.Context, docType, name string, user *meta.UserContext) (map[string]any, error) {
	return e.transition(ctx, docType, name, user, meta.ActionCancel,
		meta.StatusSubmitted, meta.StatusCancelled, ActionCancel, EventOnCancel)
}

// transition performs a conditional single-statement docstatus change. Zero
// rows affected means the document was missing or not in the expected state;
// the follow-up read distinguishes the two.
func (e *Engine) transition(ctx context.Context, docType, name string, user *meta.UserContext,
	permAction string, from, to int, auditAction, event string) (map[string]any, error) {

	dt, err := e.writableDocType(docType)
	if err != nil {
		return nil, err
	}
	if err := EnsurePermission(user, dt, permAction); err != nil {
		return nil, err
	}

	table, err := meta.TableNameFor(dt.Name)
	if err != nil {
		return nil, err
	}

	tx, err := e.beginTenantTx(ctx, user)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() //nolint:errcheck

	sqlStr, params := buildStatusTransitionSQL(table, from, to, name)
	row, err := store.QueryRowMap(ctx, tx, sqlStr, params...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, e.transitionStateError(ctx, tx, dt, name, from)
	}
	if err != nil {
		if store.IsUndefinedColumn(err) {
			return nil, InternalError(fmt.Sprintf(
				"%s is missing the docstatus column; re-run schema sync for this DocType", dt.Name))
		}
		return nil, fmt.Errorf("%s %s/%s: %w", auditAction, dt.Name, name, err)
	}

	if err := writeAudit(ctx, tx, user, auditAction, dt.Name, name); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	row, err = e.hooks.Trigger(ctx, dt.Name, event, row, user)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// transitionStateError explains why a conditional transition matched no rows.
func (e *Engine) transitionStateError(ctx context.Context, tx *sql.Tx, dt *meta.DocType, name string, from int) error {
	current, err := e.fetchDocument(ctx, tx, dt, name)
	if err != nil {
		return err
	}
	status := docstatusOf(current)
	if from == meta.StatusDraft {
		if status == meta.StatusSubmitted {
			return BadRequestError("Document is already submitted")
		}
		return BadRequestError("Cannot submit a cancelled document")
	}
	return BadRequestError("Document must be submitted before it can be cancelled")
}

// partitionPayload splits a payload into scalar fields and child-table arrays
// using the DocType's declared fields as an allow-list. Any key that is not
// `name` and not a declared field is rejected; arrays are only legal for
// declared Table fields.
func partitionPayload(dt *meta.DocType, payload map[string]any) (map[string]any, map[string][]map[string]any, error) {
	fields := make(map[string]any)
	children := make(map[string][]map[string]any)

	for key, value := range payload {
		if key == "name" {
			fields[key] = value
			continue
		}

		f := dt.Field(key)
		if f == nil {
			return nil, nil, ValidationError([]ErrorDetail{{
				Field:   key,
				Rule:    "unknown",
				Message: fmt.Sprintf("Field %s is not declared on %s", key, dt.Name),
			}})
		}

		if f.IsTable() {
			rows, err := toChildRows(key, value)
			if err != nil {
				return nil, nil, err
			}
			children[key] = rows
			continue
		}

		if _, isArray := value.([]any); isArray {
			return nil, nil, ValidationError([]ErrorDetail{{
				Field:   key,
				Rule:    "type",
				Message: fmt.Sprintf("Field %s is not a Table field and cannot hold an array", key),
			}})
		}
		fields[key] = value
	}
	return fields, children, nil
}

func toChildRows(field string, value any) ([]map[string]any, error) {
	switch rows := value.(type) {
	case nil:
		return []map[string]any{}, nil
	case []map[string]any:
		return rows, nil
	case []any:
		out := make([]map[string]any, 0, len(rows))
		for _, r := range rows {
			m, ok := r.(map[string]any)
			if !ok {
				return nil, BadRequestError(fmt.Sprintf("Table field %s must contain objects", field))
			}
			out = append(out, m)
		}
		return out, nil
	default:
		return nil, BadRequestError(fmt.Sprintf("Table field %s must hold an array", field))
	}
}

// replaceChildren deletes the existing child rows for (parent, parenttype,
// parentfield) when replace is set, then inserts the new array with fresh
// sequential idx values. Full replace, never a merge.
func (e *Engine) replaceChildren(ctx context.Context, tx *sql.Tx, dt *meta.DocType, f meta.DocField,
	parentName, tenantID string, rows []map[string]any, replace bool) ([]map[string]any, error) {

	child := e.registry.Get(f.Options)
	if child == nil {
		return nil, BadRequestError(fmt.Sprintf("Table field %s references unknown DocType %q", f.Name, f.Options))
	}
	childTable, err := meta.TableNameFor(child.Name)
	if err != nil {
		return nil, err
	}

	if replace {
		sqlStr, params := buildChildDeleteSQL(childTable, parentName, dt.Name, f.Name)
		if _, err := store.Exec(ctx, tx, sqlStr, params...); err != nil {
			return nil, fmt.Errorf("clear children %s.%s: %w", dt.Name, f.Name, err)
		}
	}

	inserted := make([]map[string]any, 0, len(rows))
	for i, row := range rows {
		childFields, err := childInsertFields(child, f.Name, row)
		if err != nil {
			return nil, err
		}
		childFields["parent"] = parentName
		childFields["parenttype"] = dt.Name
		childFields["parentfield"] = f.Name
		childFields["idx"] = i
		childFields["tenantId"] = tenantID

		sqlStr, params, err := buildInsertSQL(childTable, childFields)
		if err != nil {
			return nil, err
		}
		childRow, err := store.QueryRowMap(ctx, tx, sqlStr, params...)
		if err != nil {
			return nil, mapWriteError(child.Name, err)
		}
		inserted = append(inserted, childRow)
	}
	return inserted, nil
}

// childInsertFields builds the allow-listed scalar fields for one child row.
// Standard and linkage columns in the input are dropped (the engine assigns
// its own); anything else undeclared is rejected.
func childInsertFields(child *meta.DocType, parentField string, row map[string]any) (map[string]any, error) {
	fields := make(map[string]any, len(row))
	for key, value := range row {
		if f := child.Field(key); f != nil && !f.IsTable() {
			fields[key] = value
			continue
		}
		if isEngineManagedColumn(key) {
			continue
		}
		return nil, ValidationError([]ErrorDetail{{
			Field:   key,
			Rule:    "unknown",
			Message: fmt.Sprintf("Field %s is not declared on child DocType %s (via %s)", key, child.Name, parentField),
		}})
	}
	return fields, nil
}

func isEngineManagedColumn(name string) bool {
	for _, c := range meta.StandardColumns {
		if c == name {
			return true
		}
	}
	for _, c := range meta.ChildLinkColumns {
		if c == name {
			return true
		}
	}
	return false
}

// rekeyChildren repoints child rows at the parent's new name inside the same
// transaction as the rename.
func (e *Engine) rekeyChildren(ctx context.Context, tx *sql.Tx, dt *meta.DocType, f meta.DocField, oldName, newName string) error {
	child := e.registry.Get(f.Options)
	if child == nil {
		return nil
	}
	childTable, err := meta.TableNameFor(child.Name)
	if err != nil {
		return err
	}
	sqlStr, params := buildChildRekeySQL(childTable, oldName, newName, dt.Name, f.Name)
	if _, err := store.Exec(ctx, tx, sqlStr, params...); err != nil {
		return fmt.Errorf("rekey children %s.%s: %w", dt.Name, f.Name, err)
	}
	return nil
}

func (e *Engine) deleteChildren(ctx context.Context, tx *sql.Tx, dt *meta.DocType, f meta.DocField, parentName string) error {
	child := e.registry.Get(f.Options)
	if child == nil {
		return nil
	}
	childTable, err := meta.TableNameFor(child.Name)
	if err != nil {
		return err
	}
	sqlStr, params := buildChildDeleteSQL(childTable, parentName, dt.Name, f.Name)
	if _, err := store.Exec(ctx, tx, sqlStr, params...); err != nil {
		return fmt.Errorf("cascade children %s.%s: %w", dt.Name, f.Name, err)
	}
	return nil
}

func (e *Engine) fetchDocument(ctx context.Context, tx *sql.Tx, dt *meta.DocType, name string) (map[string]any, error) {
	table, err := meta.TableNameFor(dt.Name)
	if err != nil {
		return nil, err
	}
	sqlStr, params := buildSelectByNameSQL(table, name)
	row, err := store.QueryRowMap(ctx, tx, sqlStr, params...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NotFoundError(dt.Name, name)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", dt.Name, name, err)
	}
	return row, nil
}

func (e *Engine) hydrateChildren(ctx context.Context, tx *sql.Tx, dt *meta.DocType, row map[string]any) error {
	parentName := documentKey(row)
	for _, f := range dt.TableFields() {
		child := e.registry.Get(f.Options)
		if child == nil {
			continue
		}
		childTable, err := meta.TableNameFor(child.Name)
		if err != nil {
			return err
		}
		sqlStr, params := buildChildSelectSQL(childTable, parentName, dt.Name, f.Name)
		children, err := store.QueryRows(ctx, tx, sqlStr, params...)
		if err != nil {
			return fmt.Errorf("load children %s.%s: %w", dt.Name, f.Name, err)
		}
		if children == nil {
			children = []map[string]any{}
		}
		row[f.Name] = children
	}
	return nil
}

// beginTenantTx opens a transaction and sets the tenant context on it as the
// first statement. RLS keys on this transaction-local setting, so document
// queries must only ever run on the returned handle.
func (e *Engine) beginTenantTx(ctx context.Context, user *meta.UserContext) (*sql.Tx, error) {
	if user == nil {
		return nil, UnauthorizedError("Authentication required")
	}
	if user.TenantID == "" {
		return nil, BadRequestError("Missing tenant context")
	}

	tx, err := e.store.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `SELECT set_config('app.tenant', $1, true)`, user.TenantID); err != nil {
		tx.Rollback() //nolint:errcheck
		return nil, fmt.Errorf("set tenant context: %w", err)
	}
	return tx, nil
}

func (e *Engine) docType(name string) (*meta.DocType, error) {
	dt := e.registry.Get(name)
	if dt == nil {
		return nil, UnknownDocTypeError(name)
	}
	return dt, nil
}

// writableDocType additionally rejects document operations that bypass the
// type's structural role: Singles have no document table, and child types are
// only ever written through their parent's Table field.
func (e *Engine) writableDocType(name string) (*meta.DocType, error) {
	dt, err := e.docType(name)
	if err != nil {
		return nil, err
	}
	if dt.IsSingle {
		return nil, BadRequestError(fmt.Sprintf("%s is a Single DocType and has no document table", dt.Name))
	}
	if dt.IsChild {
		return nil, BadRequestError(fmt.Sprintf("%s is a child DocType; write it through its parent", dt.Name))
	}
	return dt, nil
}

// documentKey returns the addressable identifier for a stored row: the
// business name when present, the server-generated id otherwise.
func documentKey(row map[string]any) string {
	if name, ok := row["name"].(string); ok && name != "" {
		return name
	}
	return fmt.Sprintf("%v", row["id"])
}

// docstatusOf reads the workflow state from a stored row regardless of the
// numeric type the driver returned.
func docstatusOf(row map[string]any) int {
	switch v := row["docstatus"].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if v == "" {
			return meta.StatusDraft
		}
		var n int
		fmt.Sscanf(v, "%d", &n)
		return n
	default:
		return meta.StatusDraft
	}
}

func mapWriteError(docType string, err error) error {
	mapped := store.MapError(err)
	if errors.Is(mapped, store.ErrUniqueViolation) {
		return ConflictError(fmt.Sprintf("A %s with this value already exists", docType))
	}
	return fmt.Errorf("write %s: %w", docType, err)
}
