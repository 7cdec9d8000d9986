package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rebeliceyang/dataops/internal/config"
	"github.com/rebeliceyang/dataops/internal/datasource"
	"github.com/rebeliceyang/dataops/internal/db/connection"
	"github.com/rebeliceyang/dataops/internal/filter"
	"github.com/rebeliceyang/dataops/internal/history"
	"github.com/rebeliceyang/dataops/internal/server"
)

type serveOptions struct {
	Addr    string
	NoWatch bool
}

func newServeCommand() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the workspace API server",
		Example: `  # Serve on the configured address
  dataops serve

  # Serve on a custom address without watching the data source file
  dataops serve --addr :9000 --no-watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&opts.NoWatch, "no-watch", false, "don't reload the data source file on change")

	return cmd
}

func runServe(cmd *cobra.Command, opts *serveOptions) error {
	cfg := getConfig(cmd.Context())
	logger := getLogger(cmd.Context())

	addr := cfg.Server.Addr
	if opts.Addr != "" {
		addr = opts.Addr
	}

	registry, err := openRegistry(cfg)
	if err != nil {
		return err
	}

	store, err := openHistory(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	conns := connection.NewManager(registry, connection.Options{
		MaxConns:     cfg.Performance.MaxConns,
		QueryTimeout: cfg.Performance.QueryTimeout,
		Logger:       logger,
	})
	defer conns.Close()

	deps := server.Deps{
		Backend: conns,
		Sources: registry,
		History: store,
	}
	if cfg.DataSources.Watch && !opts.NoWatch {
		deps.Watcher = registry
	}

	srv := server.NewServer(server.Config{
		Addr:                 addr,
		SessionSecret:        cfg.Server.SessionSecret,
		ShutdownTimeout:      cfg.Server.ShutdownTimeout,
		WorkspaceIdleTimeout: cfg.Server.WorkspaceIdleTimeout,
		HistoryMaxEntries:    cfg.History.MaxEntries,
		Workspace: server.WorkspaceSettings{
			LanguageID:      cfg.Editor.LanguageID,
			AutoComplete:    cfg.Editor.AutoComplete,
			ExtraKeywords:   cfg.Editor.ExtraKeywords,
			HistoryPageSize: cfg.History.PageSize,
			SchemaPageSize:  cfg.Schema.PageSize,
			Search:          filter.Options{CaseInsensitive: cfg.Search.CaseInsensitive},
		},
		Logger: logger,
	}, deps)

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %d data source(s) on http://%s\n", len(registry.GetAll()), addr)
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")

	return srv.Serve(cmd.Context())
}

// openRegistry opens the data source file, creating its directory so it can be watched
func openRegistry(cfg *config.Config) (*datasource.Registry, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DataSources.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create data source directory: %w", err)
	}
	return datasource.NewRegistry(cfg.DataSources.Path, nil)
}

func openHistory(cfg *config.Config) (*history.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return history.NewStore(cfg.History.Path)
}
