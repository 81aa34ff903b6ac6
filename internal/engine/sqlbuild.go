package engine

import (
	"fmt"
	"sort"
	"strings"

	"anvil-backend/internal/meta"
	"anvil-backend/internal/store"
)

// SQL builders for the document tables. Column names reaching this file have
// come through the DocType metadata allow-list, but each one is pushed through
// the sanitizer again; values always bind as parameters. Columns are emitted
// in sorted order so generated SQL is deterministic.

func buildInsertSQL(table string, fields map[string]any) (string, []any, error) {
	quoted := meta.QuoteIdent(table)
	if len(fields) == 0 {
		return fmt.Sprintf(`INSERT INTO %s DEFAULT VALUES RETURNING *`, quoted), nil, nil
	}

	cols := sortedKeys(fields)
	pb := &store.ParamBuilder{}
	quotedCols := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		safe, err := meta.SafeColumnName(col)
		if err != nil {
			return "", nil, err
		}
		quotedCols[i] = meta.QuoteIdent(safe)
		placeholders[i] = pb.Add(fields[col])
	}

	sqlStr := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING *`,
		quoted, strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))
	return sqlStr, pb.Params(), nil
}

func buildUpdateSQL(table string, fields map[string]any, name string) (string, []any, error) {
	cols := sortedKeys(fields)
	pb := &store.ParamBuilder{}
	assignments := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		safe, err := meta.SafeColumnName(col)
		if err != nil {
			return "", nil, err
		}
		assignments = append(assignments, fmt.Sprintf("%s = %s", meta.QuoteIdent(safe), pb.Add(fields[col])))
	}
	assignments = append(assignments, "modified = NOW()")

	sqlStr := fmt.Sprintf(`UPDATE %s SET %s WHERE name = %s RETURNING *`,
		meta.QuoteIdent(table), strings.Join(assignments, ", "), pb.Add(name))
	return sqlStr, pb.Params(), nil
}

func buildSelectByNameSQL(table, name string) (string, []any) {
	return fmt.Sprintf(`SELECT * FROM %s WHERE name = $1`, meta.QuoteIdent(table)), []any{name}
}

func buildListSQL(table string, limit int) (string, []any) {
	return fmt.Sprintf(`SELECT * FROM %s ORDER BY modified DESC LIMIT $1`, meta.QuoteIdent(table)), []any{limit}
}

func buildChildSelectSQL(childTable, parent, parentType, parentField string) (string, []any) {
	return fmt.Sprintf(
			`SELECT * FROM %s WHERE parent = $1 AND parenttype = $2 AND parentfield = $3 ORDER BY idx`,
			meta.QuoteIdent(childTable)),
		[]any{parent, parentType, parentField}
}

func buildChildDeleteSQL(childTable, parent, parentType, parentField string) (string, []any) {
	return fmt.Sprintf(
			`DELETE FROM %s WHERE parent = $1 AND parenttype = $2 AND parentfield = $3`,
			meta.QuoteIdent(childTable)),
		[]any{parent, parentType, parentField}
}

func buildChildRekeySQL(childTable, oldParent, newParent, parentType, parentField string) (string, []any) {
	return fmt.Sprintf(
			`UPDATE %s SET parent = $1 WHERE parent = $2 AND parenttype = $3 AND parentfield = $4`,
			meta.QuoteIdent(childTable)),
		[]any{newParent, oldParent, parentType, parentField}
}

func buildDeleteSQL(table, name string) (string, []any) {
	return fmt.Sprintf(`DELETE FROM %s WHERE name = $1`, meta.QuoteIdent(table)), []any{name}
}

// buildStatusTransitionSQL makes the docstatus change conditional on the
// current status, so two racing submits cannot both pass the state check:
// zero rows affected means the document was not in the expected state.
func buildStatusTransitionSQL(table string, from, to int, name string) (string, []any) {
	return fmt.Sprintf(
			`UPDATE %s SET docstatus = $1, modified = NOW() WHERE name = $2 AND docstatus = $3 RETURNING *`,
			meta.QuoteIdent(table)),
		[]any{to, name, from}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
