package metadata

import (
	"context"
	"fmt"

	"github.com/rebeliceyang/dataops/internal/models"
)

const defaultTablePageSize = 200

// ListTables returns one page of user tables with their columns and indexes.
// Columns and indexes are fetched for the whole page at once.
func ListTables(ctx context.Context, q Querier, page models.Page) ([]models.TableMetadata, error) {
	if page.Size <= 0 {
		page.Size = defaultTablePageSize
	}

	query := `
		SELECT schemaname AS schema, tablename AS name
		FROM pg_catalog.pg_tables
		WHERE schemaname NOT IN ('pg_catalog', 'information_schema')
		  AND schemaname NOT LIKE 'pg_toast%'
		ORDER BY schemaname, tablename
		LIMIT $1 OFFSET $2;
	`

	rows, err := q.Query(ctx, query, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	tables := make([]models.TableMetadata, 0, len(rows))
	position := make(map[string]int, len(rows))
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		t := models.TableMetadata{
			Schema: toString(row["schema"]),
			Name:   toString(row["name"]),
		}
		key := t.Schema + "." + t.Name
		position[key] = len(tables)
		keys = append(keys, key)
		tables = append(tables, t)
	}

	if len(tables) == 0 {
		return tables, nil
	}

	if err := attachColumns(ctx, q, tables, position, keys); err != nil {
		return nil, err
	}
	if err := attachIndexes(ctx, q, tables, position, keys); err != nil {
		return nil, err
	}

	return tables, nil
}

func attachColumns(ctx context.Context, q Querier, tables []models.TableMetadata, position map[string]int, keys []string) error {
	query := `
		SELECT
			table_schema,
			table_name,
			column_name,
			data_type,
			is_nullable = 'YES' AS nullable
		FROM information_schema.columns
		WHERE (table_schema || '.' || table_name) = ANY($1)
		ORDER BY table_schema, table_name, ordinal_position;
	`

	rows, err := q.Query(ctx, query, keys)
	if err != nil {
		return fmt.Errorf("failed to get columns: %w", err)
	}

	for _, row := range rows {
		i, ok := position[toString(row["table_schema"])+"."+toString(row["table_name"])]
		if !ok {
			continue
		}
		tables[i].Columns = append(tables[i].Columns, models.ColumnMetadata{
			Name:     toString(row["column_name"]),
			DataType: toString(row["data_type"]),
			Nullable: toBool(row["nullable"]),
		})
	}

	return nil
}

func attachIndexes(ctx context.Context, q Querier, tables []models.TableMetadata, position map[string]int, keys []string) error {
	query := `
		SELECT
			n.nspname AS schema,
			t.relname AS table_name,
			i.relname AS index_name,
			pg_catalog.pg_get_indexdef(ix.indexrelid) AS definition,
			ix.indisunique AS is_unique,
			ix.indisprimary AS is_primary
		FROM pg_catalog.pg_index ix
		JOIN pg_catalog.pg_class t ON t.oid = ix.indrelid
		JOIN pg_catalog.pg_class i ON i.oid = ix.indexrelid
		JOIN pg_catalog.pg_namespace n ON n.oid = t.relnamespace
		WHERE (n.nspname || '.' || t.relname) = ANY($1)
		ORDER BY n.nspname, t.relname, i.relname;
	`

	rows, err := q.Query(ctx, query, keys)
	if err != nil {
		return fmt.Errorf("failed to get indexes: %w", err)
	}

	for _, row := range rows {
		i, ok := position[toString(row["schema"])+"."+toString(row["table_name"])]
		if !ok {
			continue
		}
		tables[i].Indexes = append(tables[i].Indexes, models.IndexMetadata{
			Name:       toString(row["index_name"]),
			Definition: toString(row["definition"]),
			IsUnique:   toBool(row["is_unique"]),
			IsPrimary:  toBool(row["is_primary"]),
		})
	}

	return nil
}
