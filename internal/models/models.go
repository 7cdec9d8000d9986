package models

import (
	"time"
)

// SessionID identifies a persisted editing session.
// Zero means the session has not been saved yet.
type SessionID int64

// SessionStatus is the lifecycle status of an editing session
type SessionStatus string

const (
	SessionStatusDraft SessionStatus = "DRAFT"
)

// Session is one SQL editing tab bound to a database
type Session struct {
	ID           SessionID     `json:"id"`
	Name         string        `json:"name"`
	DataSourceID string        `json:"dataSourceId"`
	DatabaseName string        `json:"databaseName"`
	Type         DatabaseType  `json:"type"`
	Status       SessionStatus `json:"status"`
	SQL          string        `json:"sql"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Page selects a window of a listing, pages start at 1
type Page struct {
	No   int
	Size int
}

// Offset returns the row offset of the page
func (p Page) Offset() int {
	if p.No <= 1 {
		return 0
	}
	return (p.No - 1) * p.Size
}

// HistoryEntry represents a single executed statement
type HistoryEntry struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	DataSourceID string        `json:"dataSourceId"`
	DatabaseName string        `json:"databaseName"`
	Type         DatabaseType  `json:"type"`
	Query        string        `json:"query"`
	ExecutedAt   time.Time     `json:"executedAt"`
	Duration     time.Duration `json:"duration"`
	RowsAffected int64         `json:"rowsAffected"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"errorMessage,omitempty"`
}

// ResultSet represents the outcome of one executed statement
type ResultSet struct {
	Columns      []string      `json:"columns"`
	Rows         [][]string    `json:"rows"`
	RowsAffected int64         `json:"rowsAffected"`
	Duration     time.Duration `json:"duration"`
}
