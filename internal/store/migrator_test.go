package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"anvil-backend/internal/meta"
)

func TestCreateTableSQL(t *testing.T) {
	sqlStr := CreateTableSQL("tabInvoice", false)

	assert.Contains(t, sqlStr, `CREATE TABLE "tabInvoice"`)
	assert.Contains(t, sqlStr, `id UUID PRIMARY KEY DEFAULT gen_random_uuid()`)
	assert.Contains(t, sqlStr, `"tenantId" UUID`)
	assert.Contains(t, sqlStr, `docstatus INT NOT NULL DEFAULT 0`)
	assert.Contains(t, sqlStr, `creation TIMESTAMPTZ NOT NULL DEFAULT NOW()`)
	assert.NotContains(t, sqlStr, `parenttype`)
}

func TestCreateTableSQLChild(t *testing.T) {
	sqlStr := CreateTableSQL("tabOrderLine", true)

	assert.Contains(t, sqlStr, `parent VARCHAR(255)`)
	assert.Contains(t, sqlStr, `parenttype VARCHAR(255)`)
	assert.Contains(t, sqlStr, `parentfield VARCHAR(255)`)
	assert.Contains(t, sqlStr, `"parentId" UUID`)
}

func TestAddColumnSQL(t *testing.T) {
	assert.Equal(t,
		`ALTER TABLE "tabInvoice" ADD COLUMN IF NOT EXISTS "amount" DECIMAL(18,6)`,
		AddColumnSQL("tabInvoice", "amount", "DECIMAL(18,6)"))
}

func TestUniqueNameIndexSQL(t *testing.T) {
	assert.Equal(t,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_tabInvoice_tenant_name ON "tabInvoice" ("tenantId", name) WHERE name IS NOT NULL`,
		UniqueNameIndexSQL("tabInvoice"))
}

func fakeMigrator() (*Migrator, *fakeDB, *meta.Registry) {
	rec := &fakeDB{}
	reg := meta.NewRegistry()
	return NewMigrator(&Store{DB: rec.open()}, reg), rec, reg
}

// A table created for the first time must still get its declared columns:
// CreateTableSQL emits only the standard ones.
func TestReconcileTableAddsDeclaredColumnsOnCreate(t *testing.T) {
	m, rec, _ := fakeMigrator()
	def := &meta.DocType{
		Name:   "Invoice",
		Fields: []meta.DocField{{Name: "amount", Type: meta.TypeFloat}},
	}

	require.NoError(t, m.reconcileTable(context.Background(), "tabInvoice", def))

	stmts := rec.statements()
	create := indexOfStatement(stmts, `CREATE TABLE "tabInvoice"`)
	addCol := indexOfStatement(stmts, `ADD COLUMN IF NOT EXISTS "amount" DECIMAL(18,6)`)
	require.GreaterOrEqual(t, create, 0, "expected CREATE TABLE, got: %v", stmts)
	require.GreaterOrEqual(t, addCol, 0, "expected ADD COLUMN for declared field, got: %v", stmts)
	assert.Less(t, create, addCol)
	assert.GreaterOrEqual(t, indexOfStatement(stmts, "idx_tabInvoice_tenant_name"), 0)
}

func TestReconcileTableSkipsNameIndexForChild(t *testing.T) {
	m, rec, _ := fakeMigrator()
	def := &meta.DocType{
		Name:    "OrderLine",
		IsChild: true,
		Fields:  []meta.DocField{{Name: "sku", Type: meta.TypeData}},
	}

	require.NoError(t, m.reconcileTable(context.Background(), "tabOrderLine", def))
	assert.Equal(t, -1, indexOfStatement(rec.statements(), "tenant_name"))
}

// The tenant backfill only makes sense once the table exists.
func TestEnsureAllCreatesTableBeforeBackfill(t *testing.T) {
	m, rec, reg := fakeMigrator()
	reg.Put(&meta.DocType{
		Name:   "Invoice",
		Fields: []meta.DocField{{Name: "amount", Type: meta.TypeFloat}},
	})

	require.NoError(t, m.EnsureAll(context.Background()))

	stmts := rec.statements()
	create := indexOfStatement(stmts, `CREATE TABLE "tabInvoice"`)
	backfill := indexOfStatement(stmts, `SET "tenantId" = $1 WHERE "tenantId" IS NULL`)
	require.GreaterOrEqual(t, create, 0, "expected CREATE TABLE, got: %v", stmts)
	require.GreaterOrEqual(t, backfill, 0, "expected tenant backfill, got: %v", stmts)
	assert.Less(t, create, backfill)
}

func TestTenantPolicySQL(t *testing.T) {
	sqlStr := TenantPolicySQL("tabInvoice")

	assert.Contains(t, sqlStr, `CREATE POLICY tenant_isolation ON "tabInvoice"`)
	assert.Contains(t, sqlStr, `USING ("tenantId"::text = current_setting('app.tenant', true))`)
	assert.Contains(t, sqlStr, `WITH CHECK ("tenantId"::text = current_setting('app.tenant', true))`)
}
