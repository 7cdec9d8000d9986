// Package editor is the host-editor integration: completion provider
// registration and the text models the providers read from.
package editor

import (
	"errors"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/rebeliceyang/dataops/internal/models"
)

// LanguageSQL is the language id SQL tabs are registered under
const LanguageSQL = "sql"

// ErrNoProvider is returned when no provider is registered for a language
var ErrNoProvider = errors.New("no completion provider registered")

// Position is a 1-based cursor location, as the browser editor reports it.
// Columns count UTF-16 code units, so a character outside the BMP takes two.
type Position struct {
	Line   int `json:"lineNumber"`
	Column int `json:"column"`
}

// TextModel is the read side of an editor buffer
type TextModel interface {
	Value() string
	// TextBefore returns the text on the cursor's line from column 1 up to the cursor
	TextBefore(pos Position) string
}

// Provider produces completion items for a cursor position
type Provider interface {
	TriggerCharacters() []string
	ProvideCompletionItems(model TextModel, pos Position) []models.CompletionItem
}

// Disposable releases a registration
type Disposable interface {
	Dispose()
}

// Host is the editor a provider registers with
type Host interface {
	RegisterCompletionProvider(languageID string, p Provider) Disposable
}

// Document is an in-memory TextModel with a settable value
type Document struct {
	mu    sync.RWMutex
	value string
}

// NewDocument creates a document holding value
func NewDocument(value string) *Document {
	return &Document{value: value}
}

// Value returns the whole buffer
func (d *Document) Value() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.value
}

// SetValue replaces the whole buffer
func (d *Document) SetValue(value string) {
	d.mu.Lock()
	d.value = value
	d.mu.Unlock()
}

// TextBefore returns the cursor line's text left of the cursor.
// Out-of-range positions are clamped.
func (d *Document) TextBefore(pos Position) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	lines := strings.Split(d.value, "\n")
	if pos.Line < 1 || pos.Line > len(lines) {
		return ""
	}
	line := strings.TrimSuffix(lines[pos.Line-1], "\r")

	want := pos.Column - 1
	units := 0
	for i, r := range line {
		n := utf16.RuneLen(r)
		if n < 0 {
			n = 1
		}
		if units+n > want {
			// a cursor between the halves of a surrogate pair stays before it
			return line[:i]
		}
		units += n
	}
	return line
}
