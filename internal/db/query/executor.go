// Package query runs ad-hoc SQL from editing tabs and renders the rows as text.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rebeliceyang/dataops/internal/models"
)

// NullText is how SQL NULL is rendered in result cells
const NullText = "NULL"

// Conn is the part of a pgx connection or pool the executor needs
type Conn interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Execute executes a SQL statement and returns its rows as strings.
// For statements without a result set RowsAffected comes from the command tag.
func Execute(ctx context.Context, conn Conn, sql string) (models.ResultSet, error) {
	start := time.Now()

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return models.ResultSet{Duration: time.Since(start)}, err
	}
	defer rows.Close()

	// Get column names
	fieldDescs := rows.FieldDescriptions()
	columns := make([]string, len(fieldDescs))
	for i, fd := range fieldDescs {
		columns[i] = fd.Name
	}

	result := make([][]string, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return models.ResultSet{Duration: time.Since(start)}, err
		}

		row := make([]string, len(values))
		for i, v := range values {
			row[i] = convertValueToString(v)
		}
		result = append(result, row)
	}

	// Check for errors from iteration
	if err := rows.Err(); err != nil {
		return models.ResultSet{Duration: time.Since(start)}, err
	}

	return models.ResultSet{
		Columns:      columns,
		Rows:         result,
		RowsAffected: rowsAffected(rows.CommandTag(), len(result)),
		Duration:     time.Since(start),
	}, nil
}

func rowsAffected(tag pgconn.CommandTag, returned int) int64 {
	if tag.Select() || tag.String() == "" {
		return int64(returned)
	}
	return tag.RowsAffected()
}

// convertValueToString converts a database value to string, handling JSONB properly
func convertValueToString(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return NullText
	case map[string]interface{}, []interface{}:
		jsonBytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(jsonBytes)
	case []byte:
		// Might be raw JSON bytes
		return string(v)
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}
