package types

// Schema defines the output table structure of a view.
type Schema struct {
	// Columns defines the columns in transform output order.
	Columns []ColumnDef `json:"columns"`
}

// ColumnDef defines a single column in a view's output schema.
type ColumnDef struct {
	// Name is the column name.
	Name string `json:"name"`

	// Type is the SQLite storage type: TEXT, INTEGER, REAL, BLOB.
	Type string `json:"type"`

	// Nullable indicates whether the column can contain NULL values.
	Nullable bool `json:"nullable"`
}

// ColumnNames returns the column names in schema order.
func (s Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, col := range s.Columns {
		names[i] = col.Name
	}
	return names
}

// Equal reports structural equality with other.
func (s Schema) Equal(other Schema) bool {
	if len(s.Columns) != len(other.Columns) {
		return false
	}
	for i := range s.Columns {
		if s.Columns[i] != other.Columns[i] {
			return false
		}
	}
	return true
}
