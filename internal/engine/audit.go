package engine

import (
	"context"
	"fmt"

	"anvil-backend/internal/meta"
	"anvil-backend/internal/store"
)

// Audit actions, one per mutating operation.
const (
	ActionCreate = "CREATE"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
	ActionSubmit = "SUBMIT"
	ActionCancel = "CANCEL"
)

// writeAudit appends an audit entry on the mutating operation's transaction.
// Sharing the transaction makes auditing fail-closed: if the entry cannot be
// written, the mutation rolls back with it.
func writeAudit(ctx context.Context, tx store.Querier, user *meta.UserContext, action, docType, docName string) error {
	_, err := store.Exec(ctx, tx,
		`INSERT INTO "AuditLog" ("tenantId", "userId", action, doctype, docname) VALUES ($1, $2, $3, $4, $5)`,
		user.TenantID, user.ID, action, docType, docName)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}
