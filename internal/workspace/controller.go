// Package workspace ties a data source's database list, schema tree,
// completion engine and session tabs together behind one controller.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/rebeliceyang/dataops/internal/filter"
	"github.com/rebeliceyang/dataops/internal/models"
	"github.com/rebeliceyang/dataops/internal/schema"
)

// FragmentDatabaseKey is the deep-link fragment parameter naming the initial database
const FragmentDatabaseKey = "databaseName"

const defaultSchemaPageSize = 200

var (
	// ErrNoDatabases is returned by Open when the data source lists no databases
	ErrNoDatabases = errors.New("data source has no databases")
	// ErrUnknownDatabase is returned when switching to a database not in the list
	ErrUnknownDatabase = errors.New("unknown database")
)

var (
	schemaReloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dataops_schema_reload_duration_seconds",
		Help:    "Time to fetch a schema and rebuild the tree and completion index",
		Buckets: prometheus.DefBuckets,
	})

	schemaReloadsDiscarded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataops_schema_reloads_discarded_total",
		Help: "Schema reloads dropped because a newer database switch superseded them",
	})
)

// ConnectionService describes a data source and lists its databases
type ConnectionService interface {
	ConnectionDetail(ctx context.Context, dataSourceID string) (models.ConnectionInfo, error)
	ListDatabases(ctx context.Context, dataSourceID string) ([]models.LogicalDatabase, error)
}

// SchemaService lists the tables of one database with their columns and indexes
type SchemaService interface {
	ListTables(ctx context.Context, dataSourceID, databaseName string, page models.Page) ([]models.TableMetadata, error)
}

// Sessions is the tab list kept in step with the current database. Loads
// carrying an older generation than one already applied are dropped.
type Sessions interface {
	LoadGeneration(ctx context.Context, databaseName string, generation uint64) ([]models.Session, error)
	Sessions() []models.Session
	Active() (models.Session, bool)
}

// Completer receives each rebuilt index
type Completer interface {
	Reload(idx schema.Index)
	TriggerCharacters() []string
}

// Config holds the controller's fixed settings
type Config struct {
	DataSourceID   string
	SchemaPageSize int
	Search         filter.Options
	Logger         *slog.Logger
}

// Snapshot is a read-only view of the workspace
type Snapshot struct {
	Connection        models.ConnectionInfo    `json:"connection"`
	Databases         []models.LogicalDatabase `json:"databases"`
	Current           string                   `json:"currentDatabase"`
	Query             string                   `json:"query"`
	Tree              []*models.TreeNode       `json:"tree"`
	Sessions          []models.Session         `json:"sessions"`
	ActiveSession     models.SessionID         `json:"activeSession,omitempty"`
	TriggerCharacters []string                 `json:"triggerCharacters"`
}

// Controller resolves and switches the current database and keeps the
// schema tree, completion index and session list in step with it
type Controller struct {
	conns     ConnectionService
	schemas   SchemaService
	sessions  Sessions
	completer Completer
	cfg       Config
	logger    *slog.Logger

	mu sync.RWMutex
	// latest issued reload token, bumped together with current; results
	// carrying an older one are dropped
	token     uint64
	detail    models.ConnectionInfo
	databases []models.LogicalDatabase
	current   string
	canonical []*models.TreeNode
	displayed []*models.TreeNode
	query     string
}

// NewController creates a controller for one data source
func NewController(conns ConnectionService, schemas SchemaService, sessions Sessions, completer Completer, cfg Config) *Controller {
	if cfg.SchemaPageSize <= 0 {
		cfg.SchemaPageSize = defaultSchemaPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Controller{
		conns:     conns,
		schemas:   schemas,
		sessions:  sessions,
		completer: completer,
		cfg:       cfg,
		logger:    cfg.Logger.With("component", "workspace", "datasource", cfg.DataSourceID),
	}
}

// Open loads the connection detail and database list, then selects the
// database named in the deep-link fragment or, failing that, the first one
func (c *Controller) Open(ctx context.Context, fragment string) error {
	detail, err := c.conns.ConnectionDetail(ctx, c.cfg.DataSourceID)
	if err != nil {
		return fmt.Errorf("failed to get connection detail: %w", err)
	}

	databases, err := c.conns.ListDatabases(ctx, c.cfg.DataSourceID)
	if err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}

	name, err := ResolveDatabase(databases, ParseFragment(fragment))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.detail = detail
	c.databases = databases
	c.current = ""
	c.mu.Unlock()

	c.logger.Info("workspace opened", "database", name, "databases", len(databases))
	return c.switchTo(ctx, name)
}

// SwitchDatabase makes name the current database. Switching to the current
// database does nothing.
func (c *Controller) SwitchDatabase(ctx context.Context, name string) error {
	c.mu.RLock()
	current := c.current
	known := containsDatabase(c.databases, name)
	c.mu.RUnlock()

	if !known {
		return fmt.Errorf("%q: %w", name, ErrUnknownDatabase)
	}
	if name == current {
		return nil
	}

	return c.switchTo(ctx, name)
}

// Refresh reloads the schema of the current database
func (c *Controller) Refresh(ctx context.Context) error {
	c.mu.Lock()
	current := c.current
	c.token++
	token := c.token
	c.mu.Unlock()

	if current == "" {
		return ErrNoDatabases
	}
	return c.reloadSchema(ctx, current, token)
}

// switchTo runs one schema reload and one session load for name, concurrently
func (c *Controller) switchTo(ctx context.Context, name string) error {
	c.mu.Lock()
	c.current = name
	c.token++
	token := c.token
	c.mu.Unlock()

	var g errgroup.Group
	g.Go(func() error {
		return c.reloadSchema(ctx, name, token)
	})
	g.Go(func() error {
		_, err := c.sessions.LoadGeneration(ctx, name, token)
		return err
	})

	return g.Wait()
}

func (c *Controller) reloadSchema(ctx context.Context, name string, token uint64) error {
	start := time.Now()

	tables, err := c.schemas.ListTables(ctx, c.cfg.DataSourceID, name, models.Page{No: 1, Size: c.cfg.SchemaPageSize})
	if err != nil {
		if c.isStale(name, token) {
			schemaReloadsDiscarded.Inc()
			return nil
		}
		return fmt.Errorf("failed to load schema of %s: %w", name, err)
	}

	tree := schema.BuildTree(tables)
	if err := schema.Validate(tree); err != nil {
		c.logger.Debug("schema tree has unexpected node kinds", "database", name, "error", err)
	}
	idx, buildErr := schema.TryBuildIndex(tree)
	if buildErr != nil {
		c.logger.Debug("completion index left empty", "database", name, "error", buildErr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != token || c.current != name {
		schemaReloadsDiscarded.Inc()
		c.logger.Debug("stale schema reload discarded", "database", name, "token", token)
		return nil
	}

	c.completer.Reload(idx)
	c.canonical = tree
	c.displayed = filter.Tree(tree, c.query, c.cfg.Search)

	schemaReloadDuration.Observe(time.Since(start).Seconds())
	c.logger.Debug("schema reloaded", "database", name, "tables", len(tables))
	return nil
}

func (c *Controller) isStale(name string, token uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token != token || c.current != name
}

// Search filters the canonical tree and returns the displayed result
func (c *Controller) Search(query string) []*models.TreeNode {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.query = query
	c.displayed = filter.Tree(c.canonical, query, c.cfg.Search)
	return c.displayed
}

// Current returns the current database name, empty before Open
func (c *Controller) Current() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Tree returns the unfiltered schema tree
func (c *Controller) Tree() []*models.TreeNode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.canonical
}

// Snapshot returns the current state of the workspace
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	snap := Snapshot{
		Connection: c.detail,
		Databases:  append([]models.LogicalDatabase(nil), c.databases...),
		Current:    c.current,
		Query:      c.query,
		Tree:       c.displayed,
	}
	c.mu.RUnlock()

	snap.Sessions = c.sessions.Sessions()
	if active, ok := c.sessions.Active(); ok {
		snap.ActiveSession = active.ID
	}
	snap.TriggerCharacters = c.completer.TriggerCharacters()
	return snap
}

// ParseFragment extracts the database name from a deep-link fragment such
// as "#databaseName=shop&tab=2". A leading "#" is optional.
func ParseFragment(fragment string) string {
	// malformed pairs are skipped, the rest still parse
	values, _ := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	return values.Get(FragmentDatabaseKey)
}

// ResolveDatabase picks preferred when it names a listed database exactly,
// else the first database
func ResolveDatabase(databases []models.LogicalDatabase, preferred string) (string, error) {
	if len(databases) == 0 {
		return "", ErrNoDatabases
	}
	if preferred != "" && containsDatabase(databases, preferred) {
		return preferred, nil
	}
	return databases[0].Name, nil
}

func containsDatabase(databases []models.LogicalDatabase, name string) bool {
	for _, db := range databases {
		if db.Name == name {
			return true
		}
	}
	return false
}
