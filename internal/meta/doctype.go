package meta

// Field types operators may declare. Table fields never produce a physical
// column on the parent; they declare a one-to-many link to the child DocType
// named in Options.
const (
	TypeData      = "Data"
	TypeInt       = "Int"
	TypeFloat     = "Float"
	TypeCurrency  = "Currency"
	TypeCheck     = "Check"
	TypeDate      = "Date"
	TypeDatetime  = "Datetime"
	TypeText      = "Text"
	TypeSmallText = "Small Text"
	TypeLongText  = "Long Text"
	TypeLink      = "Link"
	TypeSelect    = "Select"
	TypePassword  = "Password"
	TypeTable     = "Table"
)

// Document workflow states stored in the docstatus column.
const (
	StatusDraft     = 0
	StatusSubmitted = 1
	StatusCancelled = 2
)

type DocType struct {
	Name        string     `json:"name"`
	Module      string     `json:"module,omitempty"`
	IsSingle    bool       `json:"is_single,omitempty"`
	IsChild     bool       `json:"is_child,omitempty"`
	Description string     `json:"description,omitempty"`
	Fields      []DocField `json:"fields"`
	Permissions []DocPerm  `json:"permissions"`
}

type DocField struct {
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type"`
	Required bool   `json:"required,omitempty"`
	Unique   bool   `json:"unique,omitempty"`
	Hidden   bool   `json:"hidden,omitempty"`
	ReadOnly bool   `json:"readonly,omitempty"`
	// Options holds the Select choices (newline separated) or, for Table
	// fields, the child DocType name.
	Options string `json:"options,omitempty"`
	// Target is the referenced DocType for Link fields.
	Target string `json:"target,omitempty"`
	Idx    int    `json:"idx,omitempty"`
}

type DocPerm struct {
	Role   string `json:"role"`
	Read   bool   `json:"read,omitempty"`
	Write  bool   `json:"write,omitempty"`
	Create bool   `json:"create,omitempty"`
	Delete bool   `json:"delete,omitempty"`
	Submit bool   `json:"submit,omitempty"`
	Cancel bool   `json:"cancel,omitempty"`
	Amend  bool   `json:"amend,omitempty"`
	Report bool   `json:"report,omitempty"`
	Idx    int    `json:"idx,omitempty"`
}

// Actions a DocPerm can grant.
const (
	ActionRead   = "read"
	ActionWrite  = "write"
	ActionCreate = "create"
	ActionDelete = "delete"
	ActionSubmit = "submit"
	ActionCancel = "cancel"
	ActionAmend  = "amend"
	ActionReport = "report"
)

// Allows reports whether this grant covers the given action.
func (p DocPerm) Allows(action string) bool {
	switch action {
	case ActionRead:
		return p.Read
	case ActionWrite:
		return p.Write
	case ActionCreate:
		return p.Create
	case ActionDelete:
		return p.Delete
	case ActionSubmit:
		return p.Submit
	case ActionCancel:
		return p.Cancel
	case ActionAmend:
		return p.Amend
	case ActionReport:
		return p.Report
	default:
		return false
	}
}

// IsTable reports whether the field declares a child table rather than a column.
func (f DocField) IsTable() bool {
	return f.Type == TypeTable
}

// ColumnType maps a declared field type to its Postgres DDL type.
// Table fields have no column and return "".
func (f DocField) ColumnType() string {
	switch f.Type {
	case TypeData, TypeLink, TypeSelect, TypePassword:
		return "VARCHAR(255)"
	case TypeInt:
		return "INTEGER"
	case TypeFloat, TypeCurrency:
		return "DECIMAL(18,6)"
	case TypeCheck:
		return "BOOLEAN"
	case TypeDate:
		return "DATE"
	case TypeDatetime:
		return "TIMESTAMP"
	case TypeText, TypeSmallText, TypeLongText:
		return "TEXT"
	case TypeTable:
		return ""
	default:
		return "TEXT"
	}
}

// Field returns the declared field with the given name, or nil.
func (d *DocType) Field(name string) *DocField {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// ScalarFields returns the declared fields that map to physical columns.
func (d *DocType) ScalarFields() []DocField {
	var fields []DocField
	for _, f := range d.Fields {
		if !f.IsTable() {
			fields = append(fields, f)
		}
	}
	return fields
}

// TableFields returns the declared child-table fields.
func (d *DocType) TableFields() []DocField {
	var fields []DocField
	for _, f := range d.Fields {
		if f.IsTable() {
			fields = append(fields, f)
		}
	}
	return fields
}

// Standard columns present on every non-Single document table, and the extra
// linkage columns child tables carry.
var (
	StandardColumns  = []string{"id", "tenantId", "name", "creation", "modified", "owner", "docstatus", "idx"}
	ChildLinkColumns = []string{"parent", "parenttype", "parentfield", "parentId"}
)
