package meta

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableNameFor(t *testing.T) {
	table, err := TableNameFor("Invoice")
	require.NoError(t, err)
	assert.Equal(t, "tabInvoice", table)

	// Whitespace inside the name is stripped to the compact form.
	table, err = TableNameFor("Sales Invoice")
	require.NoError(t, err)
	assert.Equal(t, "tabSalesInvoice", table)

	table, err = TableNameFor("Order_Line2")
	require.NoError(t, err)
	assert.Equal(t, "tabOrder_Line2", table)
}

func TestTableNameForRejectsUnsafeNames(t *testing.T) {
	bad := []string{
		"",
		"   ",
		"Invoice;DROP TABLE users",
		`Invoice"`,
		"Invoice--",
		"Invoice'OR'1'='1",
		"Invoice$",
		"Invoice.Line",
		"Invoice\x00",
	}
	for _, name := range bad {
		_, err := TableNameFor(name)
		assert.ErrorIs(t, err, ErrBadIdentifier, "name %q", name)
	}
}

func TestTableNameForLengthLimit(t *testing.T) {
	// 60 chars + "tab" prefix = 63, exactly at the Postgres limit.
	ok := strings.Repeat("a", 60)
	table, err := TableNameFor(ok)
	require.NoError(t, err)
	assert.Len(t, table, 63)

	_, err = TableNameFor(strings.Repeat("a", 61))
	assert.ErrorIs(t, err, ErrBadIdentifier)
}

func TestTableNameForIsDeterministic(t *testing.T) {
	first, err := TableNameFor("Sales Invoice")
	require.NoError(t, err)
	second, err := TableNameFor("Sales Invoice")
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestSafeColumnName(t *testing.T) {
	name, err := SafeColumnName("amount")
	require.NoError(t, err)
	assert.Equal(t, "amount", name)

	name, err = SafeColumnName("tenantId")
	require.NoError(t, err)
	assert.Equal(t, "tenantId", name)

	bad := []string{"", "total amount", "amount;--", `amount"`, "amount'", strings.Repeat("c", 64)}
	for _, n := range bad {
		_, err := SafeColumnName(n)
		assert.ErrorIs(t, err, ErrBadIdentifier, "column %q", n)
	}
}

func TestQuoteIdent(t *testing.T) {
	assert.Equal(t, `"tabInvoice"`, QuoteIdent("tabInvoice"))
}
