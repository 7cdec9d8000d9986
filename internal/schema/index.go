// Package schema turns catalog metadata into the schema tree and the
// table-to-columns index used for autocompletion.
package schema

import (
	"fmt"

	"github.com/rebeliceyang/dataops/internal/models"
)

// Index maps table names to their ordered column names.
// It is immutable once built.
type Index struct {
	tables  []string
	columns map[string][]string
}

// EmptyIndex returns an index with no tables
func EmptyIndex() Index {
	return Index{columns: map[string][]string{}}
}

// NewIndex builds an index from an explicit table list, keeping table order
func NewIndex(tables []string, columns map[string][]string) Index {
	idx := EmptyIndex()
	for _, t := range tables {
		idx.add(t, columns[t])
	}
	return idx
}

func (i *Index) add(table string, columns []string) {
	if _, ok := i.columns[table]; !ok {
		i.tables = append(i.tables, table)
	}
	cols := make([]string, len(columns))
	copy(cols, columns)
	i.columns[table] = cols
}

// Tables returns the table names in insertion order
func (i Index) Tables() []string {
	out := make([]string, len(i.tables))
	copy(out, i.tables)
	return out
}

// Columns returns the column names of a table, nil when unknown
func (i Index) Columns(table string) []string {
	cols, ok := i.columns[table]
	if !ok {
		return nil
	}
	out := make([]string, len(cols))
	copy(out, cols)
	return out
}

// Has reports whether the table is known
func (i Index) Has(table string) bool {
	_, ok := i.columns[table]
	return ok
}

// Len returns the number of tables
func (i Index) Len() int {
	return len(i.tables)
}

// BuildIndex flattens table nodes into an Index.
// It never fails: malformed input yields an empty index.
func BuildIndex(tables []*models.TreeNode) Index {
	idx, err := TryBuildIndex(tables)
	if err != nil {
		return EmptyIndex()
	}
	return idx
}

// TryBuildIndex is BuildIndex with the structural error exposed for logging.
// On error the returned index is empty.
func TryBuildIndex(tables []*models.TreeNode) (Index, error) {
	idx := EmptyIndex()

	for i, table := range tables {
		if table == nil {
			return EmptyIndex(), fmt.Errorf("table %d is nil", i)
		}
		if table.Type != models.TreeNodeTypeTable {
			return EmptyIndex(), fmt.Errorf("node %q is a %s, not a table", table.ID, table.Type)
		}

		group := table.Child(models.TreeNodeTypeColumnGroup)
		if group == nil {
			return EmptyIndex(), fmt.Errorf("table %q has no column group", table.Label)
		}

		columns := make([]string, 0, len(group.Children))
		for _, col := range group.Children {
			if col == nil {
				return EmptyIndex(), fmt.Errorf("table %q has a nil column", table.Label)
			}
			columns = append(columns, col.Label)
		}

		idx.add(table.Label, columns)
	}

	return idx, nil
}
