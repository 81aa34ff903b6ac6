package meta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumnTypeMapping(t *testing.T) {
	cases := map[string]string{
		TypeData:      "VARCHAR(255)",
		TypeLink:      "VARCHAR(255)",
		TypeSelect:    "VARCHAR(255)",
		TypePassword:  "VARCHAR(255)",
		TypeInt:       "INTEGER",
		TypeFloat:     "DECIMAL(18,6)",
		TypeCurrency:  "DECIMAL(18,6)",
		TypeCheck:     "BOOLEAN",
		TypeDate:      "DATE",
		TypeDatetime:  "TIMESTAMP",
		TypeText:      "TEXT",
		TypeSmallText: "TEXT",
		TypeLongText:  "TEXT",
	}
	for fieldType, want := range cases {
		f := DocField{Type: fieldType}
		assert.Equal(t, want, f.ColumnType(), "type %s", fieldType)
	}

	// Table fields declare a relationship, never a column.
	assert.Empty(t, DocField{Type: TypeTable}.ColumnType())
}

func TestDocPermAllows(t *testing.T) {
	p := DocPerm{Role: "clerk", Read: true, Create: true}
	assert.True(t, p.Allows(ActionRead))
	assert.True(t, p.Allows(ActionCreate))
	assert.False(t, p.Allows(ActionWrite))
	assert.False(t, p.Allows(ActionDelete))
	assert.False(t, p.Allows(ActionSubmit))
	assert.False(t, p.Allows("made-up-action"))
}

func TestDocTypeFieldPartitions(t *testing.T) {
	dt := &DocType{
		Name: "Order",
		Fields: []DocField{
			{Name: "customer", Type: TypeData},
			{Name: "lines", Type: TypeTable, Options: "OrderLine"},
			{Name: "total", Type: TypeCurrency},
		},
	}

	assert.Len(t, dt.ScalarFields(), 2)
	assert.Len(t, dt.TableFields(), 1)
	assert.Equal(t, "OrderLine", dt.TableFields()[0].Options)
	assert.NotNil(t, dt.Field("customer"))
	assert.Nil(t, dt.Field("missing"))
}

func TestUserContextRoles(t *testing.T) {
	u := &UserContext{ID: "u1", TenantID: "t1", Roles: []string{"clerk", "admin"}}
	assert.True(t, u.HasRole("clerk"))
	assert.True(t, u.IsAdmin())

	limited := &UserContext{ID: "u2", TenantID: "t1", Roles: []string{"clerk"}}
	assert.False(t, limited.IsAdmin())
}
