package common

// ColumnInfo describes one column of a monitored table, as reported by the
// source metadata lookup.
type ColumnInfo struct {
	Name      string
	Type      FieldType
	Precision int // decimal columns
	Scale     int // decimal columns
	Nullable  bool
	IsKey     bool
}

// TableSchema holds column metadata for a monitored table.
type TableSchema struct {
	Table   string
	Columns []ColumnInfo
}

// KeyColumns returns the names of the row-key columns in declaration order.
func (s TableSchema) KeyColumns() []string {
	var keys []string
	for _, col := range s.Columns {
		if col.IsKey {
			keys = append(keys, col.Name)
		}
	}
	return keys
}

// Column looks up a column by name.
func (s TableSchema) Column(name string) (ColumnInfo, bool) {
	for _, col := range s.Columns {
		if col.Name == name {
			return col, true
		}
	}
	return ColumnInfo{}, false
}
