package metadata

import (
	"context"
	"fmt"

	"github.com/rebeliceyang/dataops/internal/models"
)

// ListDatabases returns the connectable databases of the server, by name
func ListDatabases(ctx context.Context, q Querier) ([]models.LogicalDatabase, error) {
	query := `
		SELECT datname AS name
		FROM pg_catalog.pg_database
		WHERE datistemplate = false AND datallowconn = true
		ORDER BY datname;
	`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list databases: %w", err)
	}

	databases := make([]models.LogicalDatabase, 0, len(rows))
	for i, row := range rows {
		databases = append(databases, models.LogicalDatabase{
			Name:     toString(row["name"]),
			Position: i,
		})
	}

	return databases, nil
}

// ServerVersion returns the server's version string
func ServerVersion(ctx context.Context, q Querier) (string, error) {
	rows, err := q.Query(ctx, `SHOW server_version;`)
	if err != nil {
		return "", fmt.Errorf("failed to read server version: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return toString(rows[0]["server_version"]), nil
}
