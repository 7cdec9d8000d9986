package connection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rebeliceyang/dataops/internal/models"
)

const defaultMaxConns = 5

// Pool wraps pgxpool with our configuration
type Pool struct {
	pool   *pgxpool.Pool
	config models.ConnectionConfig
}

// NewPool creates a new connection pool for one database of a data source
func NewPool(ctx context.Context, config models.ConnectionConfig, maxConns int32) (*Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(buildConnectionString(config))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}

	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}

	// Configure pool settings
	poolConfig.MaxConns = maxConns
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", config.Address(), err)
	}

	return &Pool{
		pool:   pool,
		config: config,
	}, nil
}

// Close closes the connection pool
func (p *Pool) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Ping tests the connection
func (p *Pool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// connectConsole dials a standalone connection for one console
func connectConsole(ctx context.Context, config models.ConnectionConfig) (ConsoleConn, error) {
	conn, err := pgx.Connect(ctx, buildConnectionString(config))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Address(), err)
	}
	return conn, nil
}

// Query executes a query and returns rows keyed by column name
func (p *Pool) Query(ctx context.Context, sql string, args ...interface{}) ([]map[string]interface{}, error) {
	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []map[string]interface{}
	fieldDescriptions := rows.FieldDescriptions()

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		row := make(map[string]interface{}, len(fieldDescriptions))
		for i, fd := range fieldDescriptions {
			row[fd.Name] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// buildConnectionString creates a PostgreSQL keyword/value connection string
func buildConnectionString(config models.ConnectionConfig) string {
	sslMode := config.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	parts := []string{
		"host=" + quoteValue(config.Host),
		fmt.Sprintf("port=%d", config.Port),
		"sslmode=" + quoteValue(sslMode),
	}

	// Empty settings fall back to the driver's libpq defaults, .pgpass included
	if config.User != "" {
		parts = append(parts, "user="+quoteValue(config.User))
	}
	if config.Database != "" {
		parts = append(parts, "dbname="+quoteValue(config.Database))
	}
	if config.Password != "" {
		parts = append(parts, "password="+quoteValue(config.Password))
	}

	return strings.Join(parts, " ")
}

// quoteValue single-quotes a value, escaping backslashes and quotes
func quoteValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
