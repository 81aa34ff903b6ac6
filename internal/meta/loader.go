package meta

import (
	"context"
	"database/sql"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// LoadAll reads the DocType catalog from the database and populates the registry.
func LoadAll(ctx context.Context, db *sql.DB, reg *Registry) error {
	doctypes, err := loadDocTypes(ctx, db)
	if err != nil {
		return fmt.Errorf("load doctypes: %w", err)
	}

	for _, d := range doctypes {
		if err := loadFields(ctx, db, d); err != nil {
			return fmt.Errorf("load fields for %s: %w", d.Name, err)
		}
		if err := loadPerms(ctx, db, d); err != nil {
			return fmt.Errorf("load permissions for %s: %w", d.Name, err)
		}
	}

	reg.Load(doctypes)
	log.WithField("doctypes", len(doctypes)).Info("metadata registry loaded")
	return nil
}

func loadDocTypes(ctx context.Context, db *sql.DB) ([]*DocType, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT name, module, "isSingle", "isChild", COALESCE(description, '') FROM "DocType" ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var doctypes []*DocType
	for rows.Next() {
		d := &DocType{}
		if err := rows.Scan(&d.Name, &d.Module, &d.IsSingle, &d.IsChild, &d.Description); err != nil {
			return nil, fmt.Errorf("scan doctype row: %w", err)
		}
		doctypes = append(doctypes, d)
	}
	return doctypes, rows.Err()
}

func loadFields(ctx context.Context, db *sql.DB, d *DocType) error {
	rows, err := db.QueryContext(ctx,
		`SELECT fieldname, COALESCE(label, ''), fieldtype, required, "unique", hidden, readonly,
		        COALESCE(options, ''), COALESCE(target, ''), idx
		 FROM "DocField" WHERE parent = $1 ORDER BY idx`, d.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var f DocField
		if err := rows.Scan(&f.Name, &f.Label, &f.Type, &f.Required, &f.Unique,
			&f.Hidden, &f.ReadOnly, &f.Options, &f.Target, &f.Idx); err != nil {
			return fmt.Errorf("scan field row: %w", err)
		}
		d.Fields = append(d.Fields, f)
	}
	return rows.Err()
}

func loadPerms(ctx context.Context, db *sql.DB, d *DocType) error {
	rows, err := db.QueryContext(ctx,
		`SELECT role, read, write, "create", "delete", submit, cancel, amend, report, idx
		 FROM "DocPerm" WHERE parent = $1 ORDER BY idx`, d.Name)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var p DocPerm
		if err := rows.Scan(&p.Role, &p.Read, &p.Write, &p.Create, &p.Delete,
			&p.Submit, &p.Cancel, &p.Amend, &p.Report, &p.Idx); err != nil {
			return fmt.Errorf("scan perm row: %w", err)
		}
		d.Permissions = append(d.Permissions, p)
	}
	return rows.Err()
}
