package store

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"anvil-backend/internal/meta"
)

// Migrator keeps the physical schema in step with the DocType catalog.
// DDL is additive only: tables and columns are never dropped.
type Migrator struct {
	store    *Store
	registry *meta.Registry
}

func NewMigrator(s *Store, reg *meta.Registry) *Migrator {
	return &Migrator{store: s, registry: reg}
}

// SyncDocType upserts the catalog rows for the definition and reconciles the
// physical table. Catalog steps run as separate statements; a DDL failure
// aborts the sync but does not roll the catalog back.
func (m *Migrator) SyncDocType(ctx context.Context, def *meta.DocType) error {
	table, err := meta.TableNameFor(def.Name)
	if err != nil {
		return err
	}
	for i := range def.Fields {
		if _, err := meta.SafeColumnName(def.Fields[i].Name); err != nil {
			return err
		}
		def.Fields[i].Idx = i
	}
	for i := range def.Permissions {
		def.Permissions[i].Idx = i
	}

	if err := m.upsertDocType(ctx, def); err != nil {
		return err
	}
	if err := m.reconcileFields(ctx, def); err != nil {
		return err
	}
	if err := m.reconcilePerms(ctx, def); err != nil {
		return err
	}

	if !def.IsSingle {
		if err := m.reconcileTable(ctx, table, def); err != nil {
			return err
		}
	}

	m.registry.Put(def)
	log.WithFields(log.Fields{"doctype": def.Name, "fields": len(def.Fields)}).Info("doctype synced")
	return nil
}

// EnsureAll re-asserts the physical schema for every registered non-Single
// DocType at process start. Idempotent self-healing: table existence,
// child-link columns, RLS policy, plus best-effort legacy backfills.
func (m *Migrator) EnsureAll(ctx context.Context) error {
	for _, d := range m.registry.All() {
		if d.IsSingle {
			continue
		}
		table, err := meta.TableNameFor(d.Name)
		if err != nil {
			return err
		}
		if err := m.reconcileTable(ctx, table, d); err != nil {
			return fmt.Errorf("ensure %s: %w", d.Name, err)
		}
		m.backfillTenant(ctx, table)
		if d.IsChild {
			m.backfillParentID(ctx, d, table)
		}
	}
	return nil
}

func (m *Migrator) upsertDocType(ctx context.Context, def *meta.DocType) error {
	_, err := m.store.DB.ExecContext(ctx,
		`INSERT INTO "DocType" (name, module, "isSingle", "isChild", description)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (name) DO UPDATE SET
		   module = EXCLUDED.module,
		   "isSingle" = EXCLUDED."isSingle",
		   "isChild" = EXCLUDED."isChild",
		   description = EXCLUDED.description,
		   "updatedAt" = NOW()`,
		def.Name, def.Module, def.IsSingle, def.IsChild, def.Description)
	if err != nil {
		return fmt.Errorf("upsert doctype %s: %w", def.Name, err)
	}
	return nil
}

// reconcileFields deletes catalog fields absent from the definition and
// upserts the rest, assigning idx by declaration order.
func (m *Migrator) reconcileFields(ctx context.Context, def *meta.DocType) error {
	names := make([]string, len(def.Fields))
	for i, f := range def.Fields {
		names[i] = f.Name
	}

	if _, err := m.store.DB.ExecContext(ctx,
		`DELETE FROM "DocField" WHERE parent = $1 AND NOT (fieldname = ANY($2))`,
		def.Name, names); err != nil {
		return fmt.Errorf("prune fields for %s: %w", def.Name, err)
	}

	for _, f := range def.Fields {
		_, err := m.store.DB.ExecContext(ctx,
			`INSERT INTO "DocField" (parent, fieldname, label, fieldtype, required, "unique", hidden, readonly, options, target, idx)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
			 ON CONFLICT (parent, fieldname) DO UPDATE SET
			   label = EXCLUDED.label,
			   fieldtype = EXCLUDED.fieldtype,
			   required = EXCLUDED.required,
			   "unique" = EXCLUDED."unique",
			   hidden = EXCLUDED.hidden,
			   readonly = EXCLUDED.readonly,
			   options = EXCLUDED.options,
			   target = EXCLUDED.target,
			   idx = EXCLUDED.idx`,
			def.Name, f.Name, f.Label, f.Type, f.Required, f.Unique, f.Hidden, f.ReadOnly, f.Options, f.Target, f.Idx)
		if err != nil {
			return fmt.Errorf("upsert field %s.%s: %w", def.Name, f.Name, err)
		}
	}
	return nil
}

// reconcilePerms is a full delete-and-reinsert, preserving declared order.
func (m *Migrator) reconcilePerms(ctx context.Context, def *meta.DocType) error {
	if _, err := m.store.DB.ExecContext(ctx,
		`DELETE FROM "DocPerm" WHERE parent = $1`, def.Name); err != nil {
		return fmt.Errorf("clear permissions for %s: %w", def.Name, err)
	}
	for _, p := range def.Permissions {
		_, err := m.store.DB.ExecContext(ctx,
			`INSERT INTO "DocPerm" (parent, role, read, write, "create", "delete", submit, cancel, amend, report, idx)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			def.Name, p.Role, p.Read, p.Write, p.Create, p.Delete, p.Submit, p.Cancel, p.Amend, p.Report, p.Idx)
		if err != nil {
			return fmt.Errorf("insert permission %s/%s: %w", def.Name, p.Role, err)
		}
	}
	return nil
}

func (m *Migrator) reconcileTable(ctx context.Context, table string, def *meta.DocType) error {
	exists, err := m.tableExists(ctx, table)
	if err != nil {
		return fmt.Errorf("check table %s: %w", table, err)
	}

	if !exists {
		if _, err := m.store.DB.ExecContext(ctx, CreateTableSQL(table, def.IsChild)); err != nil {
			return fmt.Errorf("create table %s: %w", table, err)
		}
	}

	// A freshly created table has only the standard columns, so the column
	// reconcile runs in both branches.
	if err := m.addMissingColumns(ctx, table, def); err != nil {
		return err
	}

	if err := m.createIndexes(ctx, table, def); err != nil {
		return err
	}
	return m.ensureRLS(ctx, table)
}

func (m *Migrator) addMissingColumns(ctx context.Context, table string, def *meta.DocType) error {
	existing, err := m.getColumns(ctx, table)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", table, err)
	}

	for _, f := range def.ScalarFields() {
		if _, ok := existing[f.Name]; ok {
			continue
		}
		if _, err := m.store.DB.ExecContext(ctx, AddColumnSQL(table, f.Name, f.ColumnType())); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, f.Name, err)
		}
	}

	if _, ok := existing["tenantId"]; !ok {
		if _, err := m.store.DB.ExecContext(ctx, AddColumnSQL(table, "tenantId", "UUID")); err != nil {
			return fmt.Errorf("add tenantId column to %s: %w", table, err)
		}
	}

	if def.IsChild {
		for _, col := range meta.ChildLinkColumns {
			if _, ok := existing[col]; ok {
				continue
			}
			coltype := "VARCHAR(255)"
			if col == "parentId" {
				coltype = "UUID"
			}
			if _, err := m.store.DB.ExecContext(ctx, AddColumnSQL(table, col, coltype)); err != nil {
				return fmt.Errorf("add child-link column %s.%s: %w", table, col, err)
			}
		}
	}
	return nil
}

func (m *Migrator) createIndexes(ctx context.Context, table string, def *meta.DocType) error {
	// name is the addressable key for every document operation, so it must be
	// unique per tenant. Child rows are addressed through their parent and
	// carry no name.
	if !def.IsChild {
		if _, err := m.store.DB.ExecContext(ctx, UniqueNameIndexSQL(table)); err != nil {
			return fmt.Errorf("create name index on %s: %w", table, err)
		}
	}

	for _, f := range def.ScalarFields() {
		if !f.Unique {
			continue
		}
		sqlStr := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s (%s)`,
			table, f.Name, meta.QuoteIdent(table), meta.QuoteIdent(f.Name))
		if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
			return fmt.Errorf("create unique index on %s.%s: %w", table, f.Name, err)
		}
	}
	return nil
}

// ensureRLS enables and forces row-level security on the table and attaches
// the tenant policy. Forced RLS applies to the table owner too, so every
// session must set app.tenant before touching document rows.
func (m *Migrator) ensureRLS(ctx context.Context, table string) error {
	quoted := meta.QuoteIdent(table)
	if _, err := m.store.DB.ExecContext(ctx,
		fmt.Sprintf(`ALTER TABLE %s ENABLE ROW LEVEL SECURITY`, quoted)); err != nil {
		return fmt.Errorf("enable rls on %s: %w", table, err)
	}
	if _, err := m.store.DB.ExecContext(ctx,
		fmt.Sprintf(`ALTER TABLE %s FORCE ROW LEVEL SECURITY`, quoted)); err != nil {
		return fmt.Errorf("force rls on %s: %w", table, err)
	}

	var exists bool
	err := m.store.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM pg_policies WHERE schemaname = 'public' AND tablename = $1 AND policyname = 'tenant_isolation')`,
		table).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check rls policy on %s: %w", table, err)
	}
	if exists {
		return nil
	}

	if _, err := m.store.DB.ExecContext(ctx, TenantPolicySQL(table)); err != nil {
		return fmt.Errorf("create rls policy on %s: %w", table, err)
	}
	return nil
}

// backfillTenant stamps legacy rows with the tenant id when exactly one tenant
// exists. Best effort: forced RLS can hide legacy rows from this statement, so
// failures and zero-row results are only logged.
func (m *Migrator) backfillTenant(ctx context.Context, table string) {
	var count int
	var tenantID string
	err := m.store.DB.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(MAX(id::text), '') FROM "Tenant"`).Scan(&count, &tenantID)
	if err != nil || count != 1 {
		return
	}

	n, err := Exec(ctx, m.store.DB,
		fmt.Sprintf(`UPDATE %s SET "tenantId" = $1 WHERE "tenantId" IS NULL`, meta.QuoteIdent(table)),
		tenantID)
	if err != nil {
		log.WithError(err).WithField("table", table).Warn("tenant backfill skipped")
		return
	}
	if n > 0 {
		log.WithFields(log.Fields{"table": table, "rows": n}).Info("backfilled tenantId")
	}
}

// backfillParentID resolves the legacy (parent, parenttype) text pointer into
// the parent's id for child rows that predate the parentId column.
func (m *Migrator) backfillParentID(ctx context.Context, child *meta.DocType, childTable string) {
	for _, parent := range m.registry.All() {
		if parent.IsSingle {
			continue
		}
		points := false
		for _, f := range parent.TableFields() {
			if f.Options == child.Name {
				points = true
				break
			}
		}
		if !points {
			continue
		}

		parentTable, err := meta.TableNameFor(parent.Name)
		if err != nil {
			continue
		}
		sqlStr := fmt.Sprintf(
			`UPDATE %s c SET "parentId" = p.id FROM %s p
			 WHERE c."parentId" IS NULL AND c.parenttype = $1 AND c.parent = p.name`,
			meta.QuoteIdent(childTable), meta.QuoteIdent(parentTable))
		n, err := Exec(ctx, m.store.DB, sqlStr, parent.Name)
		if err != nil {
			log.WithError(err).WithField("table", childTable).Warn("parentId backfill skipped")
			continue
		}
		if n > 0 {
			log.WithFields(log.Fields{"table": childTable, "parent": parent.Name, "rows": n}).Info("backfilled parentId")
		}
	}
}

func (m *Migrator) tableExists(ctx context.Context, table string) (bool, error) {
	var exists bool
	err := m.store.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE table_name = $1 AND table_schema = 'public')`,
		table).Scan(&exists)
	return exists, err
}

func (m *Migrator) getColumns(ctx context.Context, table string) (map[string]string, error) {
	rows, err := m.store.DB.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE table_name = $1 AND table_schema = 'public'`,
		table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols[name] = dataType
	}
	return cols, rows.Err()
}

// CreateTableSQL builds the CREATE TABLE statement with the standard columns,
// plus child-link columns when the DocType is a child. Declared fields are
// added afterwards by the column reconcile pass.
func CreateTableSQL(table string, isChild bool) string {
	cols := []string{
		`id UUID PRIMARY KEY DEFAULT gen_random_uuid()`,
		`"tenantId" UUID`,
		`name VARCHAR(255)`,
		`creation TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
		`modified TIMESTAMPTZ NOT NULL DEFAULT NOW()`,
		`owner VARCHAR(255)`,
		`docstatus INT NOT NULL DEFAULT 0`,
		`idx INT NOT NULL DEFAULT 0`,
	}
	if isChild {
		cols = append(cols,
			`parent VARCHAR(255)`,
			`parenttype VARCHAR(255)`,
			`parentfield VARCHAR(255)`,
			`"parentId" UUID`,
		)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", meta.QuoteIdent(table), strings.Join(cols, ",\n  "))
}

// AddColumnSQL builds an additive ALTER TABLE statement. Both identifiers must
// already have passed sanitization.
func AddColumnSQL(table, column, coltype string) string {
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s`,
		meta.QuoteIdent(table), meta.QuoteIdent(column), coltype)
}

// UniqueNameIndexSQL builds the per-tenant uniqueness guard on the document
// name. Partial: rows without a business name stay addressable by id only.
func UniqueNameIndexSQL(table string) string {
	return fmt.Sprintf(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_tenant_name ON %s ("tenantId", name) WHERE name IS NOT NULL`,
		table, meta.QuoteIdent(table))
}

// TenantPolicySQL builds the RLS policy restricting visibility and writes to
// the transaction's app.tenant setting.
func TenantPolicySQL(table string) string {
	return fmt.Sprintf(
		`CREATE POLICY tenant_isolation ON %s
		 USING ("tenantId"::text = current_setting('app.tenant', true))
		 WITH CHECK ("tenantId"::text = current_setting('app.tenant', true))`,
		meta.QuoteIdent(table))
}
