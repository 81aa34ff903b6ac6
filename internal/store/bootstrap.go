package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"anvil-backend/internal/config"
)

// Catalog tables. These hold the declared record types and the engine's own
// bookkeeping; document tables (tab*) are created per DocType by the migrator.
const catalogTablesSQL = `
CREATE TABLE IF NOT EXISTS "DocType" (
    name         VARCHAR(255) PRIMARY KEY,
    module       VARCHAR(255) NOT NULL DEFAULT '',
    "isSingle"   BOOLEAN NOT NULL DEFAULT false,
    "isChild"    BOOLEAN NOT NULL DEFAULT false,
    description  TEXT,
    "createdAt"  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    "updatedAt"  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS "DocField" (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    parent      VARCHAR(255) NOT NULL REFERENCES "DocType"(name) ON DELETE CASCADE,
    fieldname   VARCHAR(255) NOT NULL,
    label       VARCHAR(255),
    fieldtype   VARCHAR(64) NOT NULL DEFAULT 'Data',
    required    BOOLEAN NOT NULL DEFAULT false,
    "unique"    BOOLEAN NOT NULL DEFAULT false,
    hidden      BOOLEAN NOT NULL DEFAULT false,
    readonly    BOOLEAN NOT NULL DEFAULT false,
    options     TEXT,
    target      VARCHAR(255),
    idx         INT NOT NULL DEFAULT 0,
    UNIQUE (parent, fieldname)
);

CREATE TABLE IF NOT EXISTS "DocPerm" (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    parent     VARCHAR(255) NOT NULL REFERENCES "DocType"(name) ON DELETE CASCADE,
    role       VARCHAR(255) NOT NULL,
    read       BOOLEAN NOT NULL DEFAULT false,
    write      BOOLEAN NOT NULL DEFAULT false,
    "create"   BOOLEAN NOT NULL DEFAULT false,
    "delete"   BOOLEAN NOT NULL DEFAULT false,
    submit     BOOLEAN NOT NULL DEFAULT false,
    cancel     BOOLEAN NOT NULL DEFAULT false,
    amend      BOOLEAN NOT NULL DEFAULT false,
    report     BOOLEAN NOT NULL DEFAULT false,
    idx        INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_docperm_parent ON "DocPerm"(parent);

CREATE TABLE IF NOT EXISTS "Tenant" (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    name        VARCHAR(255) NOT NULL UNIQUE,
    "createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS "AuditLog" (
    id          UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    "tenantId"  UUID NOT NULL,
    "userId"    VARCHAR(255) NOT NULL,
    action      VARCHAR(32) NOT NULL,
    doctype     VARCHAR(255) NOT NULL,
    docname     VARCHAR(255) NOT NULL,
    "createdAt" TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_auditlog_doc ON "AuditLog"(doctype, docname);

CREATE TABLE IF NOT EXISTS _users (
    id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    email         VARCHAR(255) NOT NULL UNIQUE,
    password_hash TEXT NOT NULL,
    "tenantId"    UUID NOT NULL REFERENCES "Tenant"(id),
    roles         TEXT[] NOT NULL DEFAULT '{}',
    active        BOOLEAN NOT NULL DEFAULT true,
    created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS _refresh_tokens (
    id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    user_id    UUID NOT NULL REFERENCES _users(id) ON DELETE CASCADE,
    token      UUID NOT NULL UNIQUE DEFAULT gen_random_uuid(),
    expires_at TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_refresh_tokens_token ON _refresh_tokens(token);
`

// Bootstrap creates the catalog tables if missing.
func (s *Store) Bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, catalogTablesSQL); err != nil {
		return fmt.Errorf("create catalog tables: %w", err)
	}
	return nil
}

// SeedAdmin ensures a tenant and an admin user exist so a fresh install is
// usable. No-op when the user is already present.
func (s *Store) SeedAdmin(ctx context.Context, admin config.AdminConfig) error {
	tenantID, err := s.ensureTenant(ctx, admin.Tenant)
	if err != nil {
		return err
	}

	var exists bool
	err = s.DB.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM _users WHERE email = $1)`, admin.Email).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check admin user: %w", err)
	}
	if exists {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(admin.Password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	id := uuid.NewString()
	_, err = s.DB.ExecContext(ctx,
		`INSERT INTO _users (id, email, password_hash, "tenantId", roles) VALUES ($1, $2, $3, $4, $5)`,
		id, admin.Email, string(hash), tenantID, []string{"admin"})
	if err != nil {
		return fmt.Errorf("seed admin user: %w", err)
	}

	log.WithFields(log.Fields{"email": admin.Email, "tenant": admin.Tenant}).Info("seeded admin user")
	return nil
}

func (s *Store) ensureTenant(ctx context.Context, name string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO "Tenant" (name) VALUES ($1)
		 ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		 RETURNING id`, name).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("ensure tenant %s: %w", name, err)
	}
	return id, nil
}
