// Package connection keeps one pgx pool per (data source, database) and the
// console connections that editing tabs execute on.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rebeliceyang/dataops/internal/db/metadata"
	"github.com/rebeliceyang/dataops/internal/db/query"
	"github.com/rebeliceyang/dataops/internal/models"
)

// ErrUnsupportedType is returned for data sources the pgx backend cannot open
var ErrUnsupportedType = errors.New("unsupported database type")

// Resolver looks up a data source together with its password
type Resolver interface {
	Resolve(id string) (models.ConnectionConfig, error)
}

// Options tunes pools and statement execution
type Options struct {
	MaxConns     int32
	QueryTimeout time.Duration
	Logger       *slog.Logger
}

type poolKey struct {
	dataSourceID string
	database     string
}

// ConsoleConn is the connection a console executes on
type ConsoleConn interface {
	query.Conn
	Close(ctx context.Context) error
}

// Console is a dedicated connection owned by one editing tab, so session
// state (search_path, temp tables, open transactions) survives between runs.
// It is dialed outside the metadata pools and never takes one of their slots.
type Console struct {
	ID           string
	DataSourceID string
	DatabaseName string
	OpenedAt     time.Time

	mu   sync.Mutex
	conn ConsoleConn
}

// Manager manages pools and consoles for every registered data source
type Manager struct {
	sources Resolver
	opts    Options
	logger  *slog.Logger
	dial    func(ctx context.Context, cfg models.ConnectionConfig, maxConns int32) (*Pool, error)
	connect func(ctx context.Context, cfg models.ConnectionConfig) (ConsoleConn, error)

	mu       sync.RWMutex
	pools    map[poolKey]*Pool
	consoles map[string]*Console
}

// NewManager creates a new connection manager
func NewManager(sources Resolver, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Manager{
		sources:  sources,
		opts:     opts,
		logger:   opts.Logger.With("component", "connection"),
		dial:     NewPool,
		connect:  connectConsole,
		pools:    make(map[poolKey]*Pool),
		consoles: make(map[string]*Console),
	}
}

// Pool returns the pool for a database, connecting on first use.
// An empty database name means the data source's default database.
func (m *Manager) Pool(ctx context.Context, dataSourceID, database string) (*Pool, error) {
	cfg, err := m.resolve(dataSourceID, database)
	if err != nil {
		return nil, err
	}

	key := poolKey{dataSourceID: dataSourceID, database: cfg.Database}

	m.mu.RLock()
	pool, ok := m.pools[key]
	m.mu.RUnlock()
	if ok {
		return pool, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if pool, ok := m.pools[key]; ok {
		return pool, nil
	}

	pool, err = m.dial(ctx, cfg, m.opts.MaxConns)
	if err != nil {
		return nil, err
	}
	m.pools[key] = pool
	m.logger.Info("connected", "datasource", dataSourceID, "database", cfg.Database)

	return pool, nil
}

func (m *Manager) resolve(dataSourceID, database string) (models.ConnectionConfig, error) {
	cfg, err := m.sources.Resolve(dataSourceID)
	if err != nil {
		return models.ConnectionConfig{}, err
	}
	if cfg.Type != "" && cfg.Type != models.DatabaseTypePostgreSQL {
		return models.ConnectionConfig{}, fmt.Errorf("%s is %s: %w", dataSourceID, cfg.Type, ErrUnsupportedType)
	}
	if database != "" {
		cfg.Database = database
	}
	return cfg, nil
}

// ConnectionDetail returns the data source description and server version
func (m *Manager) ConnectionDetail(ctx context.Context, dataSourceID string) (models.ConnectionInfo, error) {
	cfg, err := m.sources.Resolve(dataSourceID)
	if err != nil {
		return models.ConnectionInfo{}, err
	}

	info := models.ConnectionInfo{DataSource: cfg.DataSource}

	pool, err := m.Pool(ctx, dataSourceID, "")
	if err != nil {
		return info, err
	}

	version, err := metadata.ServerVersion(ctx, pool)
	if err != nil {
		return info, err
	}
	info.ServerVersion = version

	return info, nil
}

// ListDatabases lists the databases reachable through a data source
func (m *Manager) ListDatabases(ctx context.Context, dataSourceID string) ([]models.LogicalDatabase, error) {
	pool, err := m.Pool(ctx, dataSourceID, "")
	if err != nil {
		return nil, err
	}
	return metadata.ListDatabases(ctx, pool)
}

// ListTables lists one page of tables of a database
func (m *Manager) ListTables(ctx context.Context, dataSourceID, database string, page models.Page) ([]models.TableMetadata, error) {
	pool, err := m.Pool(ctx, dataSourceID, database)
	if err != nil {
		return nil, err
	}
	return metadata.ListTables(ctx, pool, page)
}

// OpenConsole dials a dedicated connection for consoleID. Reopening a
// console on the same database keeps the existing connection.
func (m *Manager) OpenConsole(ctx context.Context, consoleID, dataSourceID, database string) error {
	m.mu.RLock()
	existing, ok := m.consoles[consoleID]
	m.mu.RUnlock()

	if ok && existing.DataSourceID == dataSourceID && existing.DatabaseName == database {
		return nil
	}
	if ok {
		m.CloseConsole(consoleID)
	}

	cfg, err := m.resolve(dataSourceID, database)
	if err != nil {
		return err
	}

	conn, err := m.connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open console %s: %w", consoleID, err)
	}

	console := &Console{
		ID:           consoleID,
		DataSourceID: dataSourceID,
		DatabaseName: database,
		OpenedAt:     time.Now(),
		conn:         conn,
	}

	m.mu.Lock()
	if prev, ok := m.consoles[consoleID]; ok {
		// lost a race with a concurrent open
		m.mu.Unlock()
		closeConn(conn)
		if prev.DataSourceID == dataSourceID && prev.DatabaseName == database {
			return nil
		}
		return m.OpenConsole(ctx, consoleID, dataSourceID, database)
	}
	m.consoles[consoleID] = console
	m.mu.Unlock()

	m.logger.Debug("console opened", "console", consoleID, "database", database)
	return nil
}

// CloseConsole releases a console's connection. Unknown ids are ignored.
func (m *Manager) CloseConsole(consoleID string) {
	m.mu.Lock()
	console, ok := m.consoles[consoleID]
	delete(m.consoles, consoleID)
	m.mu.Unlock()

	if !ok {
		return
	}

	console.mu.Lock()
	defer console.mu.Unlock()
	if console.conn != nil {
		closeConn(console.conn)
		console.conn = nil
	}
}

func closeConn(conn ConsoleConn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = conn.Close(ctx)
}

// Execute runs sql on a console, opening it first when needed. Statements
// on one console run one at a time.
func (m *Manager) Execute(ctx context.Context, consoleID, dataSourceID, database, sql string) (models.ResultSet, error) {
	if err := m.OpenConsole(ctx, consoleID, dataSourceID, database); err != nil {
		return models.ResultSet{}, err
	}

	m.mu.RLock()
	console, ok := m.consoles[consoleID]
	m.mu.RUnlock()
	if !ok {
		return models.ResultSet{}, fmt.Errorf("console %s closed during execute", consoleID)
	}

	if m.opts.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.QueryTimeout)
		defer cancel()
	}

	console.mu.Lock()
	defer console.mu.Unlock()

	if console.conn == nil {
		return models.ResultSet{}, fmt.Errorf("console %s closed during execute", consoleID)
	}

	return query.Execute(ctx, console.conn, sql)
}

// Consoles returns the number of open consoles
func (m *Manager) Consoles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.consoles)
}

// Disconnect closes every pool and console of a data source, used when its
// registry entry changes or disappears
func (m *Manager) Disconnect(dataSourceID string) {
	m.mu.RLock()
	var consoleIDs []string
	for id, c := range m.consoles {
		if c.DataSourceID == dataSourceID {
			consoleIDs = append(consoleIDs, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range consoleIDs {
		m.CloseConsole(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, pool := range m.pools {
		if key.dataSourceID == dataSourceID {
			pool.Close()
			delete(m.pools, key)
		}
	}
}

// Close releases every console and pool
func (m *Manager) Close() {
	m.mu.RLock()
	consoleIDs := make([]string, 0, len(m.consoles))
	for id := range m.consoles {
		consoleIDs = append(consoleIDs, id)
	}
	m.mu.RUnlock()

	for _, id := range consoleIDs {
		m.CloseConsole(id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for key, pool := range m.pools {
		pool.Close()
		delete(m.pools, key)
	}
}
