package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rebeliceyang/dataops/internal/completion"
	"github.com/rebeliceyang/dataops/internal/editor"
	"github.com/rebeliceyang/dataops/internal/filter"
	"github.com/rebeliceyang/dataops/internal/models"
	"github.com/rebeliceyang/dataops/internal/session"
	"github.com/rebeliceyang/dataops/internal/workspace"
)

var errWorkspaceNotFound = errors.New("workspace not found")

// Backend is the database side of every workspace
type Backend interface {
	workspace.ConnectionService
	workspace.SchemaService
	session.Executor
	Disconnect(dataSourceID string)
}

// DataSources lists the registered data sources
type DataSources interface {
	GetAll() []models.DataSource
	Get(id string) (models.DataSource, error)
}

// History persists tabs and serves the execution log
type History interface {
	session.Store
	GetRecent(ctx context.Context, limit int) ([]models.HistoryEntry, error)
	Search(ctx context.Context, query string, limit int) ([]models.HistoryEntry, error)
	Trim(ctx context.Context, maxEntries int) (int64, error)
}

// WorkspaceSettings are applied to every workspace the server opens
type WorkspaceSettings struct {
	LanguageID      string
	AutoComplete    bool
	ExtraKeywords   []string
	HistoryPageSize int
	SchemaPageSize  int
	Search          filter.Options
}

// Workspace is one browser page's view of a data source
type Workspace struct {
	ID           string
	DataSourceID string
	CreatedAt    time.Time

	Controller *workspace.Controller
	Sessions   *session.Manager
	Engine     *completion.Engine
	Editor     *editor.Registry

	// unix nanoseconds of the last lookup
	lastUsed atomic.Int64
}

func (w *Workspace) touch(now time.Time) {
	w.lastUsed.Store(now.UnixNano())
}

// LastUsed returns when the workspace was last looked up
func (w *Workspace) LastUsed() time.Time {
	return time.Unix(0, w.lastUsed.Load())
}

// Close drops the completion registration and releases the tab consoles
func (w *Workspace) Close() error {
	w.Engine.Dispose()
	return w.Sessions.Shutdown()
}

// workspaces holds the live workspaces by id
type workspaces struct {
	backend  Backend
	sources  DataSources
	history  History
	settings WorkspaceSettings
	logger   *slog.Logger

	mu   sync.RWMutex
	byID map[string]*Workspace
}

func newWorkspaces(backend Backend, sources DataSources, history History, settings WorkspaceSettings, logger *slog.Logger) *workspaces {
	return &workspaces{
		backend:  backend,
		sources:  sources,
		history:  history,
		settings: settings,
		logger:   logger,
		byID:     make(map[string]*Workspace),
	}
}

// open builds a workspace for a data source and resolves its initial database
func (ws *workspaces) open(ctx context.Context, dataSourceID, fragment string) (*Workspace, error) {
	ds, err := ws.sources.Get(dataSourceID)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	logger := ws.logger.With("workspace", id)

	registry := editor.NewRegistry()
	engine := completion.New(registry, completion.Config{
		LanguageID: ws.settings.LanguageID,
		Keywords:   ws.keywords(),
		Disabled:   !ws.settings.AutoComplete,
		Logger:     logger,
	})
	sessions := session.NewManager(ws.history, ws.backend, session.Config{
		DataSourceID:  ds.ID,
		Type:          ds.Type,
		PageSize:      ws.settings.HistoryPageSize,
		ConsolePrefix: id,
		Logger:        logger,
	})
	ctrl := workspace.NewController(ws.backend, ws.backend, sessions, engine, workspace.Config{
		DataSourceID:   ds.ID,
		SchemaPageSize: ws.settings.SchemaPageSize,
		Search:         ws.settings.Search,
		Logger:         logger,
	})

	w := &Workspace{
		ID:           id,
		DataSourceID: ds.ID,
		CreatedAt:    time.Now(),
		Controller:   ctrl,
		Sessions:     sessions,
		Engine:       engine,
		Editor:       registry,
	}
	w.touch(w.CreatedAt)

	if err := ctrl.Open(ctx, fragment); err != nil {
		if cerr := w.Close(); cerr != nil {
			logger.Warn("failed to clean up workspace", "error", cerr)
		}
		return nil, fmt.Errorf("failed to open workspace for %s: %w", ds.ID, err)
	}

	ws.mu.Lock()
	ws.byID[id] = w
	ws.mu.Unlock()

	return w, nil
}

func (ws *workspaces) keywords() []string {
	if len(ws.settings.ExtraKeywords) == 0 {
		return nil
	}
	out := make([]string, 0, len(editor.SQLKeywords)+len(ws.settings.ExtraKeywords))
	out = append(out, editor.SQLKeywords...)
	return append(out, ws.settings.ExtraKeywords...)
}

func (ws *workspaces) get(id string) (*Workspace, error) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	w, ok := ws.byID[id]
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, errWorkspaceNotFound)
	}
	w.touch(time.Now())
	return w, nil
}

func (ws *workspaces) remove(id string) error {
	ws.mu.Lock()
	w, ok := ws.byID[id]
	delete(ws.byID, id)
	ws.mu.Unlock()

	if !ok {
		return fmt.Errorf("%q: %w", id, errWorkspaceNotFound)
	}
	return w.Close()
}

// expire closes every workspace not looked up since cutoff and returns how
// many were closed
func (ws *workspaces) expire(cutoff time.Time) int {
	ws.mu.Lock()
	var idle []*Workspace
	for id, w := range ws.byID {
		if w.LastUsed().Before(cutoff) {
			idle = append(idle, w)
			delete(ws.byID, id)
		}
	}
	ws.mu.Unlock()

	for _, w := range idle {
		if err := w.Close(); err != nil {
			ws.logger.Warn("failed to close idle workspace", "workspace", w.ID, "error", err)
		}
		ws.logger.Info("idle workspace closed", "workspace", w.ID, "datasource", w.DataSourceID)
	}
	return len(idle)
}

func (ws *workspaces) closeAll() error {
	ws.mu.Lock()
	all := ws.byID
	ws.byID = make(map[string]*Workspace)
	ws.mu.Unlock()

	var errs []error
	for _, w := range all {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (ws *workspaces) count() int {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return len(ws.byID)
}
