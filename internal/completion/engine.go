// Package completion suggests keywords, table names and column names while a
// SQL tab is being typed in. It is a schema-membership lookup, not a parser.
package completion

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/rebeliceyang/dataops/internal/editor"
	"github.com/rebeliceyang/dataops/internal/models"
	"github.com/rebeliceyang/dataops/internal/schema"
)

var (
	completionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataops_completion_requests_total",
		Help: "Completion requests by resolved context",
	}, []string{"context"})

	providerRegistrations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dataops_completion_provider_registrations_total",
		Help: "Completion provider registrations with the editor host",
	})
)

// Completion contexts, as reported in metrics
const (
	contextColumns = "columns"
	contextNone    = "none"
	contextAll     = "all"
)

// Config holds the engine's fixed settings
type Config struct {
	LanguageID string   // defaults to editor.LanguageSQL
	Keywords   []string // defaults to editor.SQLKeywords
	Disabled   bool     // keep the index current but never register
	Logger     *slog.Logger
}

// Engine owns the completion index and its single registration with the
// editor host
type Engine struct {
	host       editor.Host
	languageID string
	keywords   []string
	triggers   []string
	disabled   bool
	logger     *slog.Logger

	mu     sync.RWMutex
	index  schema.Index
	handle editor.Disposable
}

// New creates an engine bound to host. Nothing is registered until Reload.
func New(host editor.Host, cfg Config) *Engine {
	if cfg.LanguageID == "" {
		cfg.LanguageID = editor.LanguageSQL
	}
	if cfg.Keywords == nil {
		cfg.Keywords = editor.SQLKeywords
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	keywords := make([]string, len(cfg.Keywords))
	copy(keywords, cfg.Keywords)

	return &Engine{
		host:       host,
		languageID: cfg.LanguageID,
		keywords:   keywords,
		triggers:   TriggerCharacters(keywords),
		disabled:   cfg.Disabled,
		logger:     cfg.Logger,
		index:      schema.EmptyIndex(),
	}
}

// Reload swaps in a new index and re-registers with the host. The previous
// registration is disposed first so only one provider is ever live.
func (e *Engine) Reload(idx schema.Index) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.index = idx

	if e.handle != nil {
		e.handle.Dispose()
		e.handle = nil
	}
	if e.disabled {
		return
	}

	e.handle = e.host.RegisterCompletionProvider(e.languageID, e)
	providerRegistrations.Inc()
	e.logger.Debug("completion provider registered", "language", e.languageID, "tables", idx.Len())
}

// Dispose drops the live registration, if any
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.handle != nil {
		e.handle.Dispose()
		e.handle = nil
	}
}

// Index returns the current index
func (e *Engine) Index() schema.Index {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.index
}

// LanguageID returns the language the engine registers under
func (e *Engine) LanguageID() string {
	return e.languageID
}

// TriggerCharacters implements editor.Provider
func (e *Engine) TriggerCharacters() []string {
	out := make([]string, len(e.triggers))
	copy(out, e.triggers)
	return out
}

// ProvideCompletionItems implements editor.Provider
func (e *Engine) ProvideCompletionItems(model editor.TextModel, pos editor.Position) []models.CompletionItem {
	return e.Complete(model.TextBefore(pos))
}

// Complete returns suggestions for the text left of the cursor on its line
func (e *Engine) Complete(textBeforeCursor string) []models.CompletionItem {
	e.mu.RLock()
	idx := e.index
	e.mu.RUnlock()

	return Suggest(idx, e.keywords, textBeforeCursor)
}

// Suggest classifies the last token of textBeforeCursor:
//   - "name." with a known table yields that table's columns
//   - "name." with an unknown table, or a bare ".", yields nothing
//   - anything else yields every table name followed by every keyword
func Suggest(idx schema.Index, keywords []string, textBeforeCursor string) []models.CompletionItem {
	token := lastToken(textBeforeCursor)

	switch {
	case len(token) > 1 && strings.HasSuffix(token, "."):
		completionRequests.WithLabelValues(contextColumns).Inc()
		return columnItems(idx, strings.TrimSuffix(token, "."))
	case token == ".":
		completionRequests.WithLabelValues(contextNone).Inc()
		return []models.CompletionItem{}
	default:
		completionRequests.WithLabelValues(contextAll).Inc()
		return append(tableItems(idx), keywordItems(keywords)...)
	}
}

// TriggerCharacters returns "." followed by the distinct first characters of keywords
func TriggerCharacters(keywords []string) []string {
	seen := map[string]bool{".": true}
	out := []string{"."}
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		first := string([]rune(kw)[0])
		if !seen[first] {
			seen[first] = true
			out = append(out, first)
		}
	}
	return out
}

func lastToken(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

func columnItems(idx schema.Index, table string) []models.CompletionItem {
	cols := idx.Columns(table)
	items := make([]models.CompletionItem, 0, len(cols))
	for _, c := range cols {
		items = append(items, models.CompletionItem{Kind: models.SuggestionColumnName, Label: c, InsertText: c})
	}
	return items
}

func tableItems(idx schema.Index) []models.CompletionItem {
	tables := idx.Tables()
	items := make([]models.CompletionItem, 0, len(tables))
	for _, t := range tables {
		items = append(items, models.CompletionItem{Kind: models.SuggestionTableName, Label: t, InsertText: t})
	}
	return items
}

func keywordItems(keywords []string) []models.CompletionItem {
	items := make([]models.CompletionItem, 0, len(keywords))
	for _, kw := range keywords {
		items = append(items, models.CompletionItem{Kind: models.SuggestionKeyword, Label: kw, InsertText: kw})
	}
	return items
}
