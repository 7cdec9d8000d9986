// Package history persists editing sessions (window tabs) and the log of
// executed statements in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/rebeliceyang/dataops/internal/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// DefaultPageSize is used when a listing asks for a non-positive page size
const DefaultPageSize = 20

// ErrNotFound is returned when a session id does not exist
var ErrNotFound = errors.New("session not found")

// Store manages session and query history persistence
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens the SQLite database at path and applies migrations.
// Use ":memory:" for an in-memory database.
func NewStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	s := NewStoreWithDB(db)
	if err := s.Migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// NewStoreWithDB wraps an already opened database without migrating it
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Migrate runs all pending migrations
func (s *Store) Migrate() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// ListSessions returns the saved sessions of one database, oldest first
func (s *Store) ListSessions(ctx context.Context, dataSourceID, databaseName string, page models.Page) ([]models.Session, error) {
	if page.Size <= 0 {
		page.Size = DefaultPageSize
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, type, data_source_id, database_name, status, sql_text, created_at, updated_at
		FROM window_tabs
		WHERE data_source_id = ? AND database_name = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?`,
		dataSourceID, databaseName, page.Size, page.Offset())
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	sessions := make([]models.Session, 0)
	for rows.Next() {
		var sess models.Session
		var dbType, status string

		err := rows.Scan(
			&sess.ID,
			&sess.Name,
			&dbType,
			&sess.DataSourceID,
			&sess.DatabaseName,
			&status,
			&sess.SQL,
			&sess.CreatedAt,
			&sess.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}

		sess.Type = models.DatabaseType(dbType)
		sess.Status = models.SessionStatus(status)
		sessions = append(sessions, sess)
	}

	return sessions, rows.Err()
}

// SaveSession inserts a session when its ID is zero and updates it otherwise.
// It returns the store-assigned ID.
func (s *Store) SaveSession(ctx context.Context, sess models.Session) (models.SessionID, error) {
	now := s.now().UTC()
	if sess.Status == "" {
		sess.Status = models.SessionStatusDraft
	}

	if sess.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO window_tabs
			(name, type, data_source_id, database_name, status, sql_text, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			sess.Name,
			string(sess.Type),
			sess.DataSourceID,
			sess.DatabaseName,
			string(sess.Status),
			sess.SQL,
			now,
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to create session: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read session id: %w", err)
		}
		return models.SessionID(id), nil
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE window_tabs
		SET name = ?, status = ?, sql_text = ?, updated_at = ?
		WHERE id = ?`,
		sess.Name,
		string(sess.Status),
		sess.SQL,
		now,
		int64(sess.ID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return 0, fmt.Errorf("save session %d: %w", sess.ID, ErrNotFound)
	}

	return sess.ID, nil
}

// DeleteSession removes a saved session. Deleting a missing id is not an error.
func (s *Store) DeleteSession(ctx context.Context, id models.SessionID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM window_tabs WHERE id = ?`, int64(id)); err != nil {
		return fmt.Errorf("failed to delete session %d: %w", id, err)
	}
	return nil
}

// RecordExecution adds an executed statement to history
func (s *Store) RecordExecution(ctx context.Context, entry models.HistoryEntry) error {
	executedAt := entry.ExecutedAt
	if executedAt.IsZero() {
		executedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO query_history
		(name, data_source_id, database_name, type, query, executed_at, duration_ms, rows_affected, success, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Name,
		entry.DataSourceID,
		entry.DatabaseName,
		string(entry.Type),
		entry.Query,
		executedAt.UTC(),
		entry.Duration.Milliseconds(),
		entry.RowsAffected,
		entry.Success,
		entry.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// GetRecent retrieves the most recent query history entries
func (s *Store) GetRecent(ctx context.Context, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, data_source_id, database_name, type, query, executed_at,
		       duration_ms, rows_affected, success, error_message
		FROM query_history
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

// Search searches query history by query text
func (s *Store) Search(ctx context.Context, query string, limit int) ([]models.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, data_source_id, database_name, type, query, executed_at,
		       duration_ms, rows_affected, success, error_message
		FROM query_history
		WHERE query LIKE ? ESCAPE '\'
		ORDER BY executed_at DESC, id DESC
		LIMIT ?`, "%"+likeEscaper.Replace(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return scanEntries(rows)
}

// likeEscaper makes LIKE wildcards in a search term match literally
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// Trim keeps only the newest maxEntries history rows
func (s *Store) Trim(ctx context.Context, maxEntries int) (int64, error) {
	if maxEntries <= 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM query_history
		WHERE id NOT IN (
			SELECT id FROM query_history ORDER BY executed_at DESC, id DESC LIMIT ?
		)`, maxEntries)
	if err != nil {
		return 0, fmt.Errorf("failed to trim history: %w", err)
	}
	return res.RowsAffected()
}

func scanEntries(rows *sql.Rows) ([]models.HistoryEntry, error) {
	entries := make([]models.HistoryEntry, 0)
	for rows.Next() {
		var e models.HistoryEntry
		var dbType string
		var durationMs int64

		err := rows.Scan(
			&e.ID,
			&e.Name,
			&e.DataSourceID,
			&e.DatabaseName,
			&dbType,
			&e.Query,
			&e.ExecutedAt,
			&durationMs,
			&e.RowsAffected,
			&e.Success,
			&e.ErrorMessage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}

		e.Type = models.DatabaseType(dbType)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
