package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebeliceyang/dataops/internal/datasource"
	"github.com/rebeliceyang/dataops/internal/export"
	"github.com/rebeliceyang/dataops/internal/history"
	"github.com/rebeliceyang/dataops/internal/models"
	"github.com/rebeliceyang/dataops/internal/session"
	"github.com/rebeliceyang/dataops/internal/workspace"
)

type fakeBackend struct {
	mu           sync.Mutex
	consoles     map[string]bool
	disconnected []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{consoles: make(map[string]bool)}
}

func (f *fakeBackend) ConnectionDetail(_ context.Context, id string) (models.ConnectionInfo, error) {
	return models.ConnectionInfo{
		DataSource:    models.DataSource{ID: id, Type: models.DatabaseTypePostgreSQL},
		ServerVersion: "16.2",
	}, nil
}

func (f *fakeBackend) ListDatabases(context.Context, string) ([]models.LogicalDatabase, error) {
	return []models.LogicalDatabase{{Name: "postgres", Position: 0}, {Name: "shop", Position: 1}}, nil
}

func (f *fakeBackend) ListTables(_ context.Context, _, db string, _ models.Page) ([]models.TableMetadata, error) {
	if db != "shop" {
		return nil, nil
	}
	return []models.TableMetadata{{
		Schema:  "public",
		Name:    "orders",
		Columns: []models.ColumnMetadata{{Name: "id", DataType: "integer"}, {Name: "total", DataType: "numeric"}},
		Indexes: []models.IndexMetadata{{Name: "orders_pkey", IsPrimary: true, IsUnique: true}},
	}}, nil
}

func (f *fakeBackend) CloseConsole(consoleID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.consoles, consoleID)
}

func (f *fakeBackend) Execute(_ context.Context, consoleID, _, _, sql string) (models.ResultSet, error) {
	f.mu.Lock()
	f.consoles[consoleID] = true
	f.mu.Unlock()

	if strings.Contains(sql, "boom") {
		return models.ResultSet{}, errors.New("syntax error at or near \"boom\"")
	}
	return models.ResultSet{
		Columns:      []string{"id", "total"},
		Rows:         [][]string{{"1", "9.50"}, {"2", "NULL"}},
		RowsAffected: 2,
	}, nil
}

func (f *fakeBackend) Disconnect(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnected = append(f.disconnected, id)
}

func (f *fakeBackend) openConsoles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.consoles)
}

type fakeSources struct {
	sources []models.DataSource
}

func (f *fakeSources) GetAll() []models.DataSource { return f.sources }

func (f *fakeSources) Get(id string) (models.DataSource, error) {
	for _, ds := range f.sources {
		if ds.ID == id {
			return ds, nil
		}
	}
	return models.DataSource{}, fmt.Errorf("%q: %w", id, datasource.ErrNotFound)
}

type testServer struct {
	*httptest.Server
	srv     *Server
	backend *fakeBackend
	history *history.Store
	client  *http.Client
	cookies []*http.Cookie
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := history.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	backend := newFakeBackend()
	srv := NewServer(Config{
		SessionSecret: "test-secret-test-secret-test-sec",
		Workspace: WorkspaceSettings{
			AutoComplete:    true,
			HistoryPageSize: 20,
			SchemaPageSize:  200,
		},
	}, Deps{
		Backend: backend,
		Sources: &fakeSources{sources: []models.DataSource{
			{ID: "pg", Name: "local", Type: models.DatabaseTypePostgreSQL, Host: "localhost", Port: 5432},
		}},
		History: store,
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	t.Cleanup(func() { _ = srv.workspaces.closeAll() })

	return &testServer{Server: ts, srv: srv, backend: backend, history: store, client: ts.Client()}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, ts.URL+path, r)
	require.NoError(t, err)
	for _, c := range ts.cookies {
		req.AddCookie(c)
	}

	resp, err := ts.client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	if cs := resp.Cookies(); len(cs) > 0 {
		ts.cookies = cs
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func (ts *testServer) open(t *testing.T, fragment string) workspaceResponse {
	t.Helper()
	resp := ts.do(t, http.MethodPost, "/api/datasources/pg/workspace", openRequest{Fragment: fragment})
	require.Contains(t, []int{http.StatusOK, http.StatusCreated}, resp.StatusCode)

	var ws workspaceResponse
	decodeBody(t, resp, &ws)
	return ws
}

func TestListDataSources(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/datasources", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []models.DataSource
	decodeBody(t, resp, &got)
	require.Len(t, got, 1)
	assert.Equal(t, "pg", got[0].ID)
}

func TestOpenWorkspace_DeepLinkAndResume(t *testing.T) {
	ts := newTestServer(t)

	first := ts.open(t, "databaseName=shop")
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, "shop", first.Current)
	assert.Equal(t, "16.2", first.Connection.ServerVersion)
	require.Len(t, first.Sessions, 1)
	assert.Equal(t, session.DefaultName+"1", first.Sessions[0].Name)
	require.Len(t, first.Tree, 1)
	assert.Equal(t, "orders", first.Tree[0].Label)

	// the cookie brings the browser back to the same workspace
	again := ts.open(t, "")
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "shop", again.Current)

	switched := ts.open(t, "databaseName=postgres")
	assert.Equal(t, first.ID, switched.ID)
	assert.Equal(t, "postgres", switched.Current)
	assert.Empty(t, switched.Tree)
}

func TestOpenWorkspace_FallsBackToFirstDatabase(t *testing.T) {
	ts := newTestServer(t)

	ws := ts.open(t, "databaseName=missing")
	assert.Equal(t, "postgres", ws.Current)
}

func TestOpenWorkspace_UnknownDataSource(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodPost, "/api/datasources/nope/workspace", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkspace_NotFound(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.do(t, http.MethodGet, "/api/workspaces/nope/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSwitchDatabase(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.open(t, "")

	resp := ts.do(t, http.MethodPut, "/api/workspaces/"+ws.ID+"/database", databaseRequest{Name: "shop"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got workspaceResponse
	decodeBody(t, resp, &got)
	assert.Equal(t, "shop", got.Current)

	resp = ts.do(t, http.MethodPut, "/api/workspaces/"+ws.ID+"/database", databaseRequest{Name: "nope"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTreeSearch(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.open(t, "databaseName=shop")

	resp := ts.do(t, http.MethodGet, "/api/workspaces/"+ws.ID+"/tree?q=col:total", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var tree []*models.TreeNode
	decodeBody(t, resp, &tree)
	require.Len(t, tree, 1)
	assert.Equal(t, "orders", tree[0].Label)

	resp = ts.do(t, http.MethodGet, "/api/workspaces/"+ws.ID+"/tree?q=zzz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tree = nil
	decodeBody(t, resp, &tree)
	assert.Empty(t, tree)
}

func TestComplete(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.open(t, "databaseName=shop")

	value := "SELECT * FROM orders."
	resp := ts.do(t, http.MethodPost, "/api/workspaces/"+ws.ID+"/complete", map[string]interface{}{
		"value":    value,
		"position": map[string]int{"lineNumber": 1, "column": len(value) + 1},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var items []completionItem
	decodeBody(t, resp, &items)
	require.Len(t, items, 2)
	assert.Equal(t, "id", items[0].Label)
	assert.Equal(t, models.CompletionItemKindConstant, items[0].Kind)
	assert.Equal(t, models.SuggestionColumnName, items[0].Detail)

	resp = ts.do(t, http.MethodPost, "/api/workspaces/"+ws.ID+"/complete", map[string]interface{}{
		"value":    "SEL",
		"position": map[string]int{"lineNumber": 1, "column": 4},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items = nil
	decodeBody(t, resp, &items)
	require.NotEmpty(t, items)
	assert.Equal(t, "orders", items[0].Label)
	assert.Equal(t, models.CompletionItemKindEnum, items[len(items)-1].Kind)
}

func TestTabs_ExecuteExportHistory(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.open(t, "databaseName=shop")
	base := "/api/workspaces/" + ws.ID

	resp := ts.do(t, http.MethodPost, base+"/tabs", tabRequest{Name: "report"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var tab models.Session
	decodeBody(t, resp, &tab)
	assert.Equal(t, "report", tab.Name)
	tabPath := fmt.Sprintf("%s/tabs/%d", base, tab.ID)

	resp = ts.do(t, http.MethodGet, tabPath+"/export", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, tabPath+"/execute", sqlRequest{SQL: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, tabPath+"/execute", sqlRequest{SQL: "SELECT id, total FROM orders"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rs models.ResultSet
	decodeBody(t, resp, &rs)
	assert.Equal(t, []string{"id", "total"}, rs.Columns)

	resp = ts.do(t, http.MethodGet, tabPath+"/export?format=csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, export.FormatCSV.ContentType(), resp.Header.Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "id,total\n1,9.50\n2,NULL\n", string(body))

	resp = ts.do(t, http.MethodGet, tabPath+"/export?format=xml", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPost, tabPath+"/execute", sqlRequest{SQL: "SELECT boom"})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, "/api/history?q=orders", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var entries []models.HistoryEntry
	decodeBody(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, "shop", entries[0].DatabaseName)

	resp = ts.do(t, http.MethodGet, "/api/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	entries = nil
	decodeBody(t, resp, &entries)
	assert.Len(t, entries, 2)

	resp = ts.do(t, http.MethodGet, "/api/history?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTabs_SaveActivateClose(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.open(t, "databaseName=shop")
	base := "/api/workspaces/" + ws.ID
	first := ws.Sessions[0]

	resp := ts.do(t, http.MethodPost, base+"/tabs", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var second models.Session
	decodeBody(t, resp, &second)

	resp = ts.do(t, http.MethodPut, fmt.Sprintf("%s/tabs/%d", base, first.ID), sqlRequest{SQL: "SELECT 1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var saved models.Session
	decodeBody(t, resp, &saved)
	assert.Equal(t, "SELECT 1", saved.SQL)

	resp = ts.do(t, http.MethodPut, fmt.Sprintf("%s/tabs/%d/active", base, first.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodDelete, fmt.Sprintf("%s/tabs/%d", base, first.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = ts.do(t, http.MethodGet, base+"/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var snap workspaceResponse
	decodeBody(t, resp, &snap)
	require.Len(t, snap.Sessions, 1)
	assert.Equal(t, second.ID, snap.ActiveSession)

	resp = ts.do(t, http.MethodPut, base+"/tabs/abc/active", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.do(t, http.MethodPut, base+"/tabs/999/active", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCloseWorkspace_ReleasesConsoles(t *testing.T) {
	ts := newTestServer(t)
	ws := ts.open(t, "databaseName=shop")

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/workspaces/%s/tabs/%d/execute", ws.ID, ws.Sessions[0].ID), sqlRequest{SQL: "SELECT 1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Positive(t, ts.backend.openConsoles())

	resp = ts.do(t, http.MethodDelete, "/api/workspaces/"+ws.ID+"/", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Zero(t, ts.backend.openConsoles())

	resp = ts.do(t, http.MethodDelete, "/api/workspaces/"+ws.ID+"/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetrics(t *testing.T) {
	ts := newTestServer(t)
	ts.open(t, "databaseName=shop")

	resp := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "dataops_schema_reload_duration_seconds")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{session.ErrEmptySQL, http.StatusBadRequest},
		{export.ErrUnknownFormat, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", session.ErrSessionNotFound), http.StatusNotFound},
		{workspace.ErrNoDatabases, http.StatusNotFound},
		{datasource.ErrNotFound, http.StatusNotFound},
		{history.ErrNotFound, http.StatusNotFound},
		{errors.New("connection refused"), http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestExpireIdleWorkspaces(t *testing.T) {
	ts := newTestServer(t)
	idle := ts.open(t, "databaseName=shop")
	ts.cookies = nil
	busy := ts.open(t, "databaseName=shop")
	require.NotEqual(t, idle.ID, busy.ID)

	resp := ts.do(t, http.MethodPost, fmt.Sprintf("/api/workspaces/%s/tabs/%d/execute", idle.ID, idle.Sessions[0].ID), sqlRequest{SQL: "SELECT 1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, ts.backend.openConsoles())

	w, err := ts.srv.workspaces.get(idle.ID)
	require.NoError(t, err)
	w.touch(time.Now().Add(-time.Hour))

	assert.Equal(t, 1, ts.srv.workspaces.expire(time.Now().Add(-30*time.Minute)))
	assert.Zero(t, ts.backend.openConsoles(), "expired workspace keeps its console")

	resp = ts.do(t, http.MethodGet, "/api/workspaces/"+idle.ID+"/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = ts.do(t, http.MethodGet, "/api/workspaces/"+busy.ID+"/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, ts.srv.workspaces.count())
}

func TestServe_SweepsIdleWorkspaces(t *testing.T) {
	store, err := history.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv := NewServer(Config{
		Addr:                 "127.0.0.1:0",
		SessionSecret:        "test-secret-test-secret-test-sec",
		WorkspaceIdleTimeout: time.Second,
	}, Deps{
		Backend: newFakeBackend(),
		Sources: &fakeSources{sources: []models.DataSource{{ID: "pg", Type: models.DatabaseTypePostgreSQL}}},
		History: store,
	})

	w, err := srv.workspaces.open(context.Background(), "pg", "")
	require.NoError(t, err)
	w.touch(time.Now().Add(-time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	assert.Eventually(t, func() bool { return srv.workspaces.count() == 0 }, 5*time.Second, 50*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
