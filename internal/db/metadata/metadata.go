// Package metadata reads catalog information (databases, tables, columns,
// indexes) from PostgreSQL.
package metadata

import (
	"context"
	"fmt"
)

// Querier runs a catalog query and returns its rows keyed by column name
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error)
}

// toString safely converts an interface{} to string
func toString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func toBool(v interface{}) bool {
	b, ok := v.(bool)
	return ok && b
}
