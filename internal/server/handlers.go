package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/sessions"

	"github.com/rebeliceyang/dataops/internal/datasource"
	"github.com/rebeliceyang/dataops/internal/editor"
	"github.com/rebeliceyang/dataops/internal/export"
	"github.com/rebeliceyang/dataops/internal/history"
	"github.com/rebeliceyang/dataops/internal/models"
	"github.com/rebeliceyang/dataops/internal/session"
	"github.com/rebeliceyang/dataops/internal/workspace"
)

const (
	cookieName          = "dataops"
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

var (
	errNoResult   = errors.New("tab has no result to export")
	errBadRequest = errors.New("bad request")
)

// Handlers provides the JSON API
type Handlers struct {
	workspaces   *workspaces
	sources      DataSources
	history      History
	sessionStore sessions.Store
	logger       *slog.Logger
}

// NewHandlers creates a new Handlers instance
func newHandlers(ws *workspaces, sources DataSources, hist History, sessionStore sessions.Store, logger *slog.Logger) *Handlers {
	return &Handlers{
		workspaces:   ws,
		sources:      sources,
		history:      hist,
		sessionStore: sessionStore,
		logger:       logger,
	}
}

type openRequest struct {
	Fragment string `json:"fragment"`
}

type workspaceResponse struct {
	ID string `json:"id"`
	workspace.Snapshot
}

type databaseRequest struct {
	Name string `json:"name"`
}

type completeRequest struct {
	Value    string          `json:"value"`
	Position editor.Position `json:"position"`
}

type completionItem struct {
	Label      string                    `json:"label"`
	Kind       models.CompletionItemKind `json:"kind"`
	InsertText string                    `json:"insertText"`
	Detail     models.SuggestionKind     `json:"detail"`
}

type tabRequest struct {
	Name string `json:"name"`
	SQL  string `json:"sql"`
}

type sqlRequest struct {
	SQL string `json:"sql"`
}

// ListDataSources returns the registry
func (h *Handlers) ListDataSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sources.GetAll())
}

// OpenWorkspace resumes the browser's workspace for a data source, or opens
// a new one resolved from the deep-link fragment
func (h *Handlers) OpenWorkspace(w http.ResponseWriter, r *http.Request) {
	dsID := chi.URLParam(r, "id")

	var req openRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	cookie, _ := h.sessionStore.Get(r, cookieName)
	key := "ws:" + dsID

	if wid, ok := cookie.Values[key].(string); ok {
		if ws, err := h.workspaces.get(wid); err == nil {
			if name := workspace.ParseFragment(req.Fragment); name != "" {
				if err := ws.Controller.SwitchDatabase(r.Context(), name); err != nil && !errors.Is(err, workspace.ErrUnknownDatabase) {
					h.writeError(w, err)
					return
				}
			}
			writeJSON(w, http.StatusOK, workspaceResponse{ID: ws.ID, Snapshot: ws.Controller.Snapshot()})
			return
		}
	}

	ws, err := h.workspaces.open(r.Context(), dsID, req.Fragment)
	if err != nil {
		h.writeError(w, err)
		return
	}

	cookie.Values[key] = ws.ID
	if err := cookie.Save(r, w); err != nil {
		h.logger.Warn("failed to save cookie", "error", err)
	}

	writeJSON(w, http.StatusCreated, workspaceResponse{ID: ws.ID, Snapshot: ws.Controller.Snapshot()})
}

// GetWorkspace returns a workspace snapshot
func (h *Handlers) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, workspaceResponse{ID: ws.ID, Snapshot: ws.Controller.Snapshot()})
}

// CloseWorkspace drops a workspace and its consoles
func (h *Handlers) CloseWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := h.workspaces.remove(chi.URLParam(r, "wid")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SwitchDatabase changes the current database
func (h *Handlers) SwitchDatabase(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req databaseRequest
	if !decode(w, r, &req) {
		return
	}

	if err := ws.Controller.SwitchDatabase(r.Context(), req.Name); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, workspaceResponse{ID: ws.ID, Snapshot: ws.Controller.Snapshot()})
}

// Refresh reloads the current schema
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	if err := ws.Controller.Refresh(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ws.Controller.Snapshot().Tree)
}

// Tree filters the schema tree by the q parameter
func (h *Handlers) Tree(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Controller.Search(r.URL.Query().Get("q")))
}

// Complete dispatches a completion request through the workspace's editor host
func (h *Handlers) Complete(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req completeRequest
	if !decode(w, r, &req) {
		return
	}

	items, err := ws.Editor.Complete(ws.Engine.LanguageID(), editor.NewDocument(req.Value), req.Position)
	if err != nil && !errors.Is(err, editor.ErrNoProvider) {
		h.writeError(w, err)
		return
	}

	out := make([]completionItem, 0, len(items))
	for _, it := range items {
		out = append(out, completionItem{
			Label:      it.Label,
			Kind:       it.EditorKind(),
			InsertText: it.InsertText,
			Detail:     it.Kind,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// ListTabs returns the tabs of the current database
func (h *Handlers) ListTabs(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ws.Sessions.Sessions())
}

// CreateTab opens a new tab
func (h *Handlers) CreateTab(w http.ResponseWriter, r *http.Request) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return
	}

	var req tabRequest
	if !decodeOptional(w, r, &req) {
		return
	}

	sess, err := ws.Sessions.Create(r.Context(), models.Session{Name: req.Name, SQL: req.SQL})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

// CloseTab closes a tab; the stored copy is deleted in the background
func (h *Handlers) CloseTab(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := h.tab(w, r)
	if !ok {
		return
	}

	if err := ws.Sessions.Close(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ActivateTab makes a tab the active one
func (h *Handlers) ActivateTab(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := h.tab(w, r)
	if !ok {
		return
	}

	if err := ws.Sessions.SwitchActive(id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SaveTab stores the tab's SQL as a draft
func (h *Handlers) SaveTab(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := h.tab(w, r)
	if !ok {
		return
	}

	var req sqlRequest
	if !decode(w, r, &req) {
		return
	}

	if err := ws.Sessions.Save(r.Context(), id, req.SQL); err != nil {
		h.writeError(w, err)
		return
	}

	sess, _ := ws.Sessions.Get(id)
	writeJSON(w, http.StatusOK, sess)
}

// ExecuteTab runs SQL on the tab's console
func (h *Handlers) ExecuteTab(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := h.tab(w, r)
	if !ok {
		return
	}

	var req sqlRequest
	if !decode(w, r, &req) {
		return
	}

	rs, err := ws.Sessions.Execute(r.Context(), id, req.SQL)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rs)
}

// ExportTab downloads the tab's last result as CSV or JSON
func (h *Handlers) ExportTab(w http.ResponseWriter, r *http.Request) {
	ws, id, ok := h.tab(w, r)
	if !ok {
		return
	}

	format := export.FormatCSV
	if f := r.URL.Query().Get("format"); f != "" {
		parsed, err := export.ParseFormat(f)
		if err != nil {
			h.writeError(w, err)
			return
		}
		format = parsed
	}

	rs, ok := ws.Sessions.LastResult(id)
	if !ok {
		h.writeError(w, fmt.Errorf("tab %d: %w", id, errNoResult))
		return
	}

	w.Header().Set("Content-Type", format.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="result-%d.%s"`, id, format))
	if err := export.Write(w, rs, format); err != nil {
		h.logger.Error("export failed", "tab", id, "error", err)
	}
}

// History lists recent executions, or searches them when q is set
func (h *Handlers) History(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			h.writeError(w, fmt.Errorf("limit %q: %w", s, errBadRequest))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	var (
		entries []models.HistoryEntry
		err     error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		entries, err = h.history.Search(r.Context(), q, limit)
	} else {
		entries, err = h.history.GetRecent(r.Context(), limit)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handlers) workspace(w http.ResponseWriter, r *http.Request) (*Workspace, bool) {
	ws, err := h.workspaces.get(chi.URLParam(r, "wid"))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return ws, true
}

func (h *Handlers) tab(w http.ResponseWriter, r *http.Request) (*Workspace, models.SessionID, bool) {
	ws, ok := h.workspace(w, r)
	if !ok {
		return nil, 0, false
	}

	raw := chi.URLParam(r, "tid")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		h.writeError(w, fmt.Errorf("tab id %q: %w", raw, errBadRequest))
		return nil, 0, false
	}
	return ws, models.SessionID(id), true
}

// writeError maps domain errors to status codes
func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "status", status, "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrEmptySQL),
		errors.Is(err, export.ErrUnknownFormat),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, errWorkspaceNotFound),
		errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, workspace.ErrUnknownDatabase),
		errors.Is(err, workspace.ErrNoDatabases),
		errors.Is(err, datasource.ErrNotFound),
		errors.Is(err, history.ErrNotFound),
		errors.Is(err, errNoResult):
		return http.StatusNotFound
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body: " + err.Error()})
		return false
	}
	return true
}

// decodeOptional accepts an empty body
func decodeOptional(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	return decode(w, r, v)
}
