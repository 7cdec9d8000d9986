package workspace

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebeliceyang/dataops/internal/completion"
	"github.com/rebeliceyang/dataops/internal/editor"
	"github.com/rebeliceyang/dataops/internal/models"
	"github.com/rebeliceyang/dataops/internal/session"
)

type fakeConns struct {
	databases []string
	err       error
}

func (f *fakeConns) ConnectionDetail(_ context.Context, id string) (models.ConnectionInfo, error) {
	return models.ConnectionInfo{DataSource: models.DataSource{ID: id, Type: models.DatabaseTypePostgreSQL}}, nil
}

func (f *fakeConns) ListDatabases(context.Context, string) ([]models.LogicalDatabase, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]models.LogicalDatabase, len(f.databases))
	for i, name := range f.databases {
		out[i] = models.LogicalDatabase{Name: name, Position: i}
	}
	return out, nil
}

// fakeSchemas serves one table per database, named after it. Calls for a
// database listed in block wait until its channel is closed.
type fakeSchemas struct {
	mu      sync.Mutex
	calls   []string
	block   map[string]chan struct{}
	started chan string
	err     error
}

func (f *fakeSchemas) ListTables(_ context.Context, _, db string, _ models.Page) ([]models.TableMetadata, error) {
	f.mu.Lock()
	f.calls = append(f.calls, db)
	wait := f.block[db]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- db
	}
	if wait != nil {
		<-wait
	}
	if f.err != nil {
		return nil, f.err
	}

	return []models.TableMetadata{{
		Schema:  "public",
		Name:    db + "_table",
		Columns: []models.ColumnMetadata{{Name: "id"}, {Name: db + "_col"}},
	}}, nil
}

func (f *fakeSchemas) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeSessions struct {
	mu          sync.Mutex
	loads       []string
	generations []uint64
}

func (f *fakeSessions) LoadGeneration(_ context.Context, db string, gen uint64) ([]models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads = append(f.loads, db)
	f.generations = append(f.generations, gen)
	return nil, nil
}

func (f *fakeSessions) Sessions() []models.Session { return nil }

func (f *fakeSessions) Active() (models.Session, bool) { return models.Session{}, false }

// countingHost tracks live registrations on top of a real registry
type countingHost struct {
	mu         sync.Mutex
	registry   *editor.Registry
	registered int
}

func (h *countingHost) RegisterCompletionProvider(lang string, p editor.Provider) editor.Disposable {
	h.mu.Lock()
	h.registered++
	h.mu.Unlock()
	return h.registry.RegisterCompletionProvider(lang, p)
}

type fixture struct {
	ctrl     *Controller
	schemas  *fakeSchemas
	sessions *fakeSessions
	host     *countingHost
	engine   *completion.Engine
}

func newFixture(databases ...string) *fixture {
	host := &countingHost{registry: editor.NewRegistry()}
	engine := completion.New(host, completion.Config{Keywords: []string{"SELECT"}})
	f := &fixture{
		schemas:  &fakeSchemas{block: map[string]chan struct{}{}},
		sessions: &fakeSessions{},
		host:     host,
		engine:   engine,
	}
	f.ctrl = NewController(&fakeConns{databases: databases}, f.schemas, f.sessions, engine, Config{DataSourceID: "ds1"})
	return f
}

func TestParseFragment(t *testing.T) {
	tests := []struct {
		fragment string
		want     string
	}{
		{"#databaseName=shop", "shop"},
		{"databaseName=shop&tab=2", "shop"},
		{"#tab=2&databaseName=a%20b", "a b"},
		{"#other=1", ""},
		{"", ""},
		{"#%zz&databaseName=shop", "shop"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseFragment(tt.fragment), tt.fragment)
	}
}

func TestResolveDatabase(t *testing.T) {
	dbs := []models.LogicalDatabase{{Name: "alpha"}, {Name: "beta"}}

	got, err := ResolveDatabase(dbs, "beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", got)

	got, err = ResolveDatabase(dbs, "Beta")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got, "match is exact")

	got, err = ResolveDatabase(dbs, "")
	require.NoError(t, err)
	assert.Equal(t, "alpha", got)

	_, err = ResolveDatabase(nil, "beta")
	assert.ErrorIs(t, err, ErrNoDatabases)
}

func TestOpen_DeepLink(t *testing.T) {
	f := newFixture("alpha", "beta")

	require.NoError(t, f.ctrl.Open(context.Background(), "#databaseName=beta"))

	assert.Equal(t, "beta", f.ctrl.Current())
	assert.Equal(t, []string{"beta"}, f.schemas.calls)
	assert.Equal(t, []string{"beta"}, f.sessions.loads)
	assert.True(t, f.engine.Index().Has("beta_table"))
}

func TestOpen_FallsBackToFirst(t *testing.T) {
	f := newFixture("alpha", "beta")

	require.NoError(t, f.ctrl.Open(context.Background(), "#databaseName=gamma"))
	assert.Equal(t, "alpha", f.ctrl.Current())
}

func TestOpen_NoDatabases(t *testing.T) {
	f := newFixture()

	err := f.ctrl.Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoDatabases)
	assert.Zero(t, f.schemas.callCount())
}

func TestOpen_ListFailure(t *testing.T) {
	f := newFixture("alpha")
	boom := errors.New("connection refused")
	f.ctrl.conns = &fakeConns{err: boom}

	assert.ErrorIs(t, f.ctrl.Open(context.Background(), ""), boom)
}

func TestSwitchDatabase_OneReloadOneRegistrationEach(t *testing.T) {
	f := newFixture("alpha", "beta", "gamma")
	ctx := context.Background()
	require.NoError(t, f.ctrl.Open(ctx, ""))

	for _, db := range []string{"beta", "gamma", "alpha"} {
		before := f.schemas.callCount()
		registeredBefore := f.host.registered

		require.NoError(t, f.ctrl.SwitchDatabase(ctx, db))

		assert.Equal(t, before+1, f.schemas.callCount(), db)
		assert.Equal(t, registeredBefore+1, f.host.registered, db)
		assert.Equal(t, 1, f.host.registry.Live(editor.LanguageSQL), db)
	}

	assert.Equal(t, []string{"alpha", "beta", "gamma", "alpha"}, f.sessions.loads)
}

func TestSwitchDatabase_SameIsNoop(t *testing.T) {
	f := newFixture("alpha", "beta")
	ctx := context.Background()
	require.NoError(t, f.ctrl.Open(ctx, ""))

	require.NoError(t, f.ctrl.SwitchDatabase(ctx, "alpha"))

	assert.Equal(t, 1, f.schemas.callCount())
	assert.Equal(t, 1, f.host.registered)
}

func TestSwitchDatabase_Unknown(t *testing.T) {
	f := newFixture("alpha")
	ctx := context.Background()
	require.NoError(t, f.ctrl.Open(ctx, ""))

	err := f.ctrl.SwitchDatabase(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownDatabase)
	assert.Equal(t, "alpha", f.ctrl.Current())
}

func TestSwitchDatabase_SchemaFailure(t *testing.T) {
	f := newFixture("alpha", "beta")
	ctx := context.Background()
	require.NoError(t, f.ctrl.Open(ctx, ""))

	f.schemas.err = errors.New("permission denied for schema public")
	err := f.ctrl.SwitchDatabase(ctx, "beta")
	assert.ErrorIs(t, err, f.schemas.err)
}

func TestSwitchDatabase_StaleReloadDiscarded(t *testing.T) {
	f := newFixture("alpha", "beta", "gamma")
	ctx := context.Background()
	require.NoError(t, f.ctrl.Open(ctx, ""))

	release := make(chan struct{})
	f.schemas.mu.Lock()
	f.schemas.block["beta"] = release
	f.schemas.mu.Unlock()
	f.schemas.started = make(chan string, 4)

	done := make(chan error, 1)
	go func() { done <- f.ctrl.SwitchDatabase(ctx, "beta") }()

	select {
	case db := <-f.schemas.started:
		require.Equal(t, "beta", db)
	case <-time.After(2 * time.Second):
		t.Fatal("beta reload never started")
	}

	require.NoError(t, f.ctrl.SwitchDatabase(ctx, "gamma"))
	<-f.schemas.started

	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, "gamma", f.ctrl.Current())
	assert.True(t, f.engine.Index().Has("gamma_table"))
	assert.False(t, f.engine.Index().Has("beta_table"))
	require.Len(t, f.ctrl.Tree(), 1)
	assert.Equal(t, "gamma_table", f.ctrl.Tree()[0].Label)
	assert.Equal(t, 1, f.host.registry.Live(editor.LanguageSQL))
}

func TestSearch_ReappliedAfterReload(t *testing.T) {
	f := newFixture("alpha", "beta")
	ctx := context.Background()
	require.NoError(t, f.ctrl.Open(ctx, ""))

	shown := f.ctrl.Search("_col")
	require.Len(t, shown, 1)
	assert.Equal(t, "alpha_table", shown[0].Label)

	require.NoError(t, f.ctrl.SwitchDatabase(ctx, "beta"))

	snap := f.ctrl.Snapshot()
	assert.Equal(t, "_col", snap.Query)
	require.Len(t, snap.Tree, 1)
	assert.Equal(t, "beta_table", snap.Tree[0].Label)

	cols := snap.Tree[0].Child(models.TreeNodeTypeColumnGroup)
	require.NotNil(t, cols)
	require.Len(t, cols.Children, 1)
	assert.Equal(t, "beta_col", cols.Children[0].Label)
}

func TestSearch_EmptyQueryShowsCanonical(t *testing.T) {
	f := newFixture("alpha")
	require.NoError(t, f.ctrl.Open(context.Background(), ""))

	f.ctrl.Search("zzz")
	assert.Empty(t, f.ctrl.Snapshot().Tree)

	shown := f.ctrl.Search("")
	assert.Equal(t, f.ctrl.Tree(), shown)
}

func TestSnapshot(t *testing.T) {
	f := newFixture("alpha", "beta")
	require.NoError(t, f.ctrl.Open(context.Background(), ""))

	snap := f.ctrl.Snapshot()
	assert.Equal(t, "ds1", snap.Connection.ID)
	assert.Len(t, snap.Databases, 2)
	assert.Equal(t, "alpha", snap.Current)
	assert.Equal(t, completion.TriggerCharacters([]string{"SELECT"}), snap.TriggerCharacters)
}

func TestRefresh(t *testing.T) {
	f := newFixture("alpha")
	ctx := context.Background()

	assert.ErrorIs(t, f.ctrl.Refresh(ctx), ErrNoDatabases)

	require.NoError(t, f.ctrl.Open(ctx, ""))
	require.NoError(t, f.ctrl.Refresh(ctx))
	assert.Equal(t, 2, f.schemas.callCount())
	assert.Equal(t, 1, f.host.registry.Live(editor.LanguageSQL))
}

var _ Completer = (*completion.Engine)(nil)

func TestReloadSchema_DroppedWhenDatabaseNoLongerCurrent(t *testing.T) {
	f := newFixture("alpha", "beta", "gamma")
	ctx := context.Background()
	require.NoError(t, f.ctrl.Open(ctx, ""))

	// gamma became current with the newest token while a beta reload was in flight
	f.ctrl.mu.Lock()
	f.ctrl.current = "gamma"
	f.ctrl.token++
	token := f.ctrl.token
	f.ctrl.mu.Unlock()

	require.NoError(t, f.ctrl.reloadSchema(ctx, "beta", token))

	assert.False(t, f.engine.Index().Has("beta_table"))
	require.Len(t, f.ctrl.Tree(), 1)
	assert.Equal(t, "alpha_table", f.ctrl.Tree()[0].Label)
}

func TestSwitchDatabase_SessionLoadsCarryTokens(t *testing.T) {
	f := newFixture("alpha", "beta", "gamma")
	ctx := context.Background()
	require.NoError(t, f.ctrl.Open(ctx, ""))
	require.NoError(t, f.ctrl.SwitchDatabase(ctx, "beta"))
	require.NoError(t, f.ctrl.Refresh(ctx))
	require.NoError(t, f.ctrl.SwitchDatabase(ctx, "gamma"))

	f.sessions.mu.Lock()
	defer f.sessions.mu.Unlock()
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, f.sessions.loads)
	assert.Equal(t, []uint64{1, 2, 4}, f.sessions.generations)
}

// blockingStore lists no saved sessions and holds ListSessions for databases in block
type blockingStore struct {
	mu      sync.Mutex
	nextID  models.SessionID
	block   map[string]chan struct{}
	started chan string
}

func (s *blockingStore) ListSessions(_ context.Context, _, db string, _ models.Page) ([]models.Session, error) {
	s.mu.Lock()
	wait := s.block[db]
	s.mu.Unlock()
	if wait != nil {
		s.started <- db
		<-wait
	}
	return nil, nil
}

func (s *blockingStore) SaveSession(_ context.Context, sess models.Session) (models.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.ID == 0 {
		s.nextID++
		return s.nextID, nil
	}
	return sess.ID, nil
}

func (s *blockingStore) DeleteSession(context.Context, models.SessionID) error { return nil }

func (s *blockingStore) RecordExecution(context.Context, models.HistoryEntry) error { return nil }

type noopExecutor struct{}

func (noopExecutor) CloseConsole(string) {}

func (noopExecutor) Execute(context.Context, string, string, string, string) (models.ResultSet, error) {
	return models.ResultSet{}, nil
}

func TestSwitchDatabase_SlowSessionLoadForOlderDatabaseDropped(t *testing.T) {
	store := &blockingStore{block: map[string]chan struct{}{}, started: make(chan string, 1)}
	sessions := session.NewManager(store, noopExecutor{}, session.Config{DataSourceID: "ds1"})
	engine := completion.New(editor.NewRegistry(), completion.Config{})
	ctrl := NewController(&fakeConns{databases: []string{"alpha", "beta", "gamma"}}, &fakeSchemas{}, sessions, engine, Config{DataSourceID: "ds1"})

	ctx := context.Background()
	require.NoError(t, ctrl.Open(ctx, ""))

	release := make(chan struct{})
	store.mu.Lock()
	store.block["beta"] = release
	store.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- ctrl.SwitchDatabase(ctx, "beta") }()

	select {
	case <-store.started:
	case <-time.After(2 * time.Second):
		t.Fatal("beta session load never started")
	}

	require.NoError(t, ctrl.SwitchDatabase(ctx, "gamma"))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, "gamma", ctrl.Current())
	assert.Equal(t, "gamma", sessions.DatabaseName())

	created, err := sessions.Create(ctx, models.Session{})
	require.NoError(t, err)
	assert.Equal(t, "gamma", created.DatabaseName)
}
