package meta

import (
	"fmt"
	"regexp"
	"strings"
)

// ErrBadIdentifier marks a name that cannot be used as a SQL identifier.
// Every table and column name the engine interpolates into SQL must pass
// through TableNameFor or SafeColumnName first; values always go through
// parameter placeholders, so this check is the injection boundary for the
// identifier position.
var ErrBadIdentifier = fmt.Errorf("unsafe identifier")

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Postgres truncates identifiers beyond 63 bytes; reject instead of truncating.
const maxIdentLen = 63

const tablePrefix = "tab"

// TableNameFor converts a DocType name into its physical table name.
// Whitespace inside the name is stripped ("Sales Invoice" -> "tabSalesInvoice");
// anything else outside [A-Za-z0-9_] is rejected.
func TableNameFor(docType string) (string, error) {
	compact := strings.Join(strings.Fields(docType), "")
	if compact == "" || !identPattern.MatchString(compact) {
		return "", fmt.Errorf("%w: doctype name %q", ErrBadIdentifier, docType)
	}
	table := tablePrefix + compact
	if len(table) > maxIdentLen {
		return "", fmt.Errorf("%w: doctype name %q exceeds identifier length limit", ErrBadIdentifier, docType)
	}
	return table, nil
}

// SafeColumnName validates a declared field name for use as a column name.
func SafeColumnName(name string) (string, error) {
	if name == "" || !identPattern.MatchString(name) {
		return "", fmt.Errorf("%w: column name %q", ErrBadIdentifier, name)
	}
	if len(name) > maxIdentLen {
		return "", fmt.Errorf("%w: column name %q exceeds identifier length limit", ErrBadIdentifier, name)
	}
	return name, nil
}

// QuoteIdent double-quotes an identifier that has already been validated.
// Quoting preserves the camel-case column names the catalog uses.
func QuoteIdent(name string) string {
	return `"` + name + `"`
}
