// Package session manages the SQL editing tabs open on one database.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/rebeliceyang/dataops/internal/models"
)

const (
	// DefaultName prefixes generated tab names: "Default Tab1", "Default Tab2", ...
	DefaultName = "Default Tab"
	// DefaultSQL seeds the tab created for an empty database
	DefaultSQL = "SELECT * FROM"

	defaultPageSize = 20
)

var (
	// ErrEmptySQL is returned by Execute when there is nothing to run
	ErrEmptySQL = errors.New("no SQL to execute")
	// ErrSessionNotFound is returned for ids that are not in the current list
	ErrSessionNotFound = errors.New("session not found")
)

var (
	sessionOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataops_session_operations_total",
		Help: "Session operations by kind and outcome",
	}, []string{"op", "outcome"})

	deleteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataops_session_delete_failures_total",
		Help: "Asynchronous session deletions that failed",
	})
)

// Store persists sessions and execution history
type Store interface {
	ListSessions(ctx context.Context, dataSourceID, databaseName string, page models.Page) ([]models.Session, error)
	SaveSession(ctx context.Context, sess models.Session) (models.SessionID, error)
	DeleteSession(ctx context.Context, id models.SessionID) error
	RecordExecution(ctx context.Context, entry models.HistoryEntry) error
}

// Executor runs statements over per-session console connections. Execute
// opens the console on first use.
type Executor interface {
	CloseConsole(consoleID string)
	Execute(ctx context.Context, consoleID, dataSourceID, databaseName, sql string) (models.ResultSet, error)
}

// Config holds the manager's fixed settings
type Config struct {
	DataSourceID string
	Type         models.DatabaseType
	PageSize     int
	// ConsolePrefix keeps console ids of different workspaces apart
	ConsolePrefix string
	Logger        *slog.Logger
}

// Manager owns the in-memory session list of the current database and its
// active selection
type Manager struct {
	store  Store
	exec   Executor
	cfg    Config
	logger *slog.Logger

	mu           sync.RWMutex
	generation   uint64
	databaseName string
	sessions     []models.Session
	active       models.SessionID
	results      map[models.SessionID]models.ResultSet

	pendingMu sync.Mutex
	pending   *errgroup.Group
}

// NewManager creates a manager for one data source
func NewManager(store Store, exec Executor, cfg Config) *Manager {
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Manager{
		store:   store,
		exec:    exec,
		cfg:     cfg,
		logger:  cfg.Logger.With("component", "session", "datasource", cfg.DataSourceID),
		results: make(map[models.SessionID]models.ResultSet),
		pending: new(errgroup.Group),
	}
}

// Load replaces the session list with the saved sessions of databaseName.
// An empty database gets one default session.
func (m *Manager) Load(ctx context.Context, databaseName string) ([]models.Session, error) {
	m.mu.RLock()
	gen := m.generation
	m.mu.RUnlock()

	return m.LoadGeneration(ctx, databaseName, gen)
}

// LoadGeneration is Load for callers that issue overlapping loads. A load
// whose generation is older than one already applied is dropped and the
// current list returned unchanged.
func (m *Manager) LoadGeneration(ctx context.Context, databaseName string, generation uint64) ([]models.Session, error) {
	saved, err := m.store.ListSessions(ctx, m.cfg.DataSourceID, databaseName, models.Page{No: 1, Size: m.cfg.PageSize})
	if err != nil {
		sessionOps.WithLabelValues("load", "error").Inc()
		return nil, fmt.Errorf("failed to load sessions for %s: %w", databaseName, err)
	}

	m.mu.Lock()

	if generation < m.generation {
		snap := m.snapshotLocked()
		m.mu.Unlock()
		sessionOps.WithLabelValues("load", "stale").Inc()
		m.logger.Debug("stale session load dropped", "database", databaseName, "generation", generation)
		return snap, nil
	}

	stale := m.consoleIDsLocked()

	m.generation = generation
	m.databaseName = databaseName
	m.sessions = nil
	m.active = 0
	m.results = make(map[models.SessionID]models.ResultSet)

	if len(saved) == 0 {
		_, err = m.createLocked(ctx, models.Session{SQL: DefaultSQL})
	} else {
		m.sessions = saved
		m.active = saved[0].ID
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.closeConsoles(stale)

	if err != nil {
		sessionOps.WithLabelValues("load", "error").Inc()
		return nil, err
	}

	sessionOps.WithLabelValues("load", "ok").Inc()
	m.logger.Debug("sessions loaded", "database", databaseName, "count", len(snap))

	return snap, nil
}

// Create persists a new draft session, appends it and makes it active
func (m *Manager) Create(ctx context.Context, template models.Session) (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createLocked(ctx, template)
}

func (m *Manager) createLocked(ctx context.Context, template models.Session) (models.Session, error) {
	sess := models.Session{
		Name:         template.Name,
		DataSourceID: m.cfg.DataSourceID,
		DatabaseName: m.databaseName,
		Type:         m.cfg.Type,
		Status:       models.SessionStatusDraft,
		SQL:          template.SQL,
	}
	if sess.Name == "" {
		sess.Name = DefaultName + strconv.Itoa(len(m.sessions)+1)
	}

	id, err := m.store.SaveSession(ctx, sess)
	if err != nil {
		sessionOps.WithLabelValues("create", "error").Inc()
		return models.Session{}, fmt.Errorf("failed to create session: %w", err)
	}

	now := time.Now()
	sess.ID = id
	sess.CreatedAt = now
	sess.UpdatedAt = now

	m.sessions = append(m.sessions, sess)
	m.active = id

	sessionOps.WithLabelValues("create", "ok").Inc()
	return sess, nil
}

// Close removes a session from the list and deletes it from the store in
// the background. When the closed session was active, the one before it
// becomes active, or the new first one when it was first.
func (m *Manager) Close(id models.SessionID) error {
	m.mu.Lock()

	idx := m.indexOf(id)
	if idx < 0 {
		m.mu.Unlock()
		return fmt.Errorf("close %d: %w", id, ErrSessionNotFound)
	}

	m.sessions = append(m.sessions[:idx:idx], m.sessions[idx+1:]...)
	delete(m.results, id)

	if m.active == id {
		switch {
		case len(m.sessions) == 0:
			m.active = 0
		case idx > 0:
			m.active = m.sessions[idx-1].ID
		default:
			m.active = m.sessions[0].ID
		}
	}
	m.mu.Unlock()

	// a running statement holds the console, so release it outside m.mu
	m.exec.CloseConsole(m.consoleID(id))

	m.pendingMu.Lock()
	g := m.pending
	m.pendingMu.Unlock()

	g.Go(func() error {
		if err := m.store.DeleteSession(context.Background(), id); err != nil {
			deleteFailures.Inc()
			m.logger.Warn("session delete failed", "id", id, "error", err)
			return fmt.Errorf("delete session %d: %w", id, err)
		}
		return nil
	})

	sessionOps.WithLabelValues("close", "ok").Inc()
	return nil
}

// Wait blocks until background deletions issued so far have finished and
// returns the first failure among them
func (m *Manager) Wait() error {
	m.pendingMu.Lock()
	g := m.pending
	m.pending = new(errgroup.Group)
	m.pendingMu.Unlock()

	return g.Wait()
}

// SwitchActive makes id the active session
func (m *Manager) SwitchActive(id models.SessionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.indexOf(id) < 0 {
		return fmt.Errorf("switch to %d: %w", id, ErrSessionNotFound)
	}
	m.active = id
	return nil
}

// Save stores sql as the draft text of a session
func (m *Manager) Save(ctx context.Context, id models.SessionID, sql string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := m.indexOf(id)
	if idx < 0 {
		return fmt.Errorf("save %d: %w", id, ErrSessionNotFound)
	}

	sess := m.sessions[idx]
	sess.SQL = sql
	sess.Status = models.SessionStatusDraft

	if _, err := m.store.SaveSession(ctx, sess); err != nil {
		sessionOps.WithLabelValues("save", "error").Inc()
		return fmt.Errorf("failed to save session %d: %w", id, err)
	}

	sess.UpdatedAt = time.Now()
	m.sessions[idx] = sess
	sessionOps.WithLabelValues("save", "ok").Inc()
	return nil
}

// Execute runs sql on the session's console and records it in history.
// Blank input returns ErrEmptySQL without touching the network.
func (m *Manager) Execute(ctx context.Context, id models.SessionID, sql string) (models.ResultSet, error) {
	if strings.TrimSpace(sql) == "" {
		sessionOps.WithLabelValues("execute", "empty").Inc()
		return models.ResultSet{}, ErrEmptySQL
	}

	m.mu.RLock()
	idx := m.indexOf(id)
	var sess models.Session
	if idx >= 0 {
		sess = m.sessions[idx]
	}
	m.mu.RUnlock()

	if idx < 0 {
		return models.ResultSet{}, fmt.Errorf("execute on %d: %w", id, ErrSessionNotFound)
	}

	start := time.Now()
	result, execErr := m.exec.Execute(ctx, m.consoleID(id), sess.DataSourceID, sess.DatabaseName, sql)

	entry := models.HistoryEntry{
		Name:         sess.Name,
		DataSourceID: sess.DataSourceID,
		DatabaseName: sess.DatabaseName,
		Type:         sess.Type,
		Query:        sql,
		ExecutedAt:   start,
		Duration:     time.Since(start),
		RowsAffected: result.RowsAffected,
		Success:      execErr == nil,
	}
	if execErr != nil {
		entry.ErrorMessage = execErr.Error()
	}
	if err := m.store.RecordExecution(ctx, entry); err != nil {
		m.logger.Warn("failed to record execution history", "id", id, "error", err)
	}

	if execErr != nil {
		sessionOps.WithLabelValues("execute", "error").Inc()
		return models.ResultSet{}, fmt.Errorf("execute on %d: %w", id, execErr)
	}

	m.mu.Lock()
	open := m.indexOf(id) >= 0
	if open {
		m.results[id] = result
	}
	m.mu.Unlock()

	if !open {
		// closed while running; drop the console Execute reopened
		m.exec.CloseConsole(m.consoleID(id))
	}

	sessionOps.WithLabelValues("execute", "ok").Inc()
	return result, nil
}

// Sessions returns a copy of the current list
func (m *Manager) Sessions() []models.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshotLocked()
}

// Active returns the active session, false when the list is empty
func (m *Manager) Active() (models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if idx := m.indexOf(m.active); idx >= 0 {
		return m.sessions[idx], true
	}
	return models.Session{}, false
}

// Get returns one session of the current list
func (m *Manager) Get(id models.SessionID) (models.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if idx := m.indexOf(id); idx >= 0 {
		return m.sessions[idx], true
	}
	return models.Session{}, false
}

// LastResult returns the most recent successful result of a session
func (m *Manager) LastResult(id models.SessionID) (models.ResultSet, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rs, ok := m.results[id]
	return rs, ok
}

// DatabaseName returns the database the list belongs to
func (m *Manager) DatabaseName() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.databaseName
}

// Shutdown closes every console and waits for pending deletions
func (m *Manager) Shutdown() error {
	m.mu.RLock()
	ids := m.consoleIDsLocked()
	m.mu.RUnlock()

	m.closeConsoles(ids)
	return m.Wait()
}

func (m *Manager) consoleIDsLocked() []string {
	ids := make([]string, 0, len(m.sessions))
	for _, s := range m.sessions {
		ids = append(ids, m.consoleID(s.ID))
	}
	return ids
}

func (m *Manager) closeConsoles(ids []string) {
	for _, id := range ids {
		m.exec.CloseConsole(id)
	}
}

func (m *Manager) consoleID(id models.SessionID) string {
	if m.cfg.ConsolePrefix == "" {
		return strconv.FormatInt(int64(id), 10)
	}
	return m.cfg.ConsolePrefix + ":" + strconv.FormatInt(int64(id), 10)
}

func (m *Manager) indexOf(id models.SessionID) int {
	if id == 0 {
		return -1
	}
	for i, s := range m.sessions {
		if s.ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) snapshotLocked() []models.Session {
	out := make([]models.Session, len(m.sessions))
	copy(out, m.sessions)
	return out
}
