package cli

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/rebeliceyang/dataops/internal/db/discovery"
	"github.com/rebeliceyang/dataops/internal/models"
)

// passwordEnv supplies the password to "datasource add" without putting it in shell history
const passwordEnv = "DATAOPS_PASSWORD"

func newDataSourceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "datasource",
		Aliases: []string{"ds"},
		Short:   "Manage registered data sources",
	}

	cmd.AddCommand(newDataSourceAddCommand())
	cmd.AddCommand(newDataSourceListCommand())
	cmd.AddCommand(newDataSourceRemoveCommand())
	cmd.AddCommand(newDataSourceDiscoverCommand())

	return cmd
}

func newDataSourceAddCommand() *cobra.Command {
	var (
		ds       models.DataSource
		dsType   string
		password string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a data source, or update one with the same id",
		Example: `  DATAOPS_PASSWORD=secret dataops datasource add --host db.internal --database shop --user app`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := openRegistry(getConfig(cmd.Context()))
			if err != nil {
				return err
			}

			if password == "" {
				password = os.Getenv(passwordEnv)
			}
			ds.Type = models.DatabaseType(dsType)

			added, err := registry.Add(models.ConnectionConfig{DataSource: ds, Password: password})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", added.ID, added.Address())
			return nil
		},
	}

	cmd.Flags().StringVar(&ds.ID, "id", "", "data source id (generated when empty)")
	cmd.Flags().StringVar(&ds.Name, "name", "", "display name (defaults to the address)")
	cmd.Flags().StringVar(&dsType, "type", string(models.DatabaseTypePostgreSQL), "database type")
	cmd.Flags().StringVar(&ds.Host, "host", "localhost", "server host")
	cmd.Flags().IntVar(&ds.Port, "port", 0, "server port (default per type)")
	cmd.Flags().StringVar(&ds.Database, "database", "postgres", "database to connect to")
	cmd.Flags().StringVar(&ds.User, "user", "", "user name")
	cmd.Flags().StringVar(&ds.SSLMode, "ssl-mode", "", "libpq sslmode")
	cmd.Flags().StringVar(&password, "password", "", "password, stored in the OS keyring (or set "+passwordEnv+")")

	return cmd
}

func newDataSourceListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List registered data sources",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := openRegistry(getConfig(cmd.Context()))
			if err != nil {
				return err
			}

			sources := registry.GetAll()
			if len(sources) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No data sources")
				return nil
			}

			rows := make([][]string, 0, len(sources))
			for _, ds := range sources {
				rows = append(rows, []string{ds.ID, ds.Name, string(ds.Type), ds.Address()})
			}

			tbl := table.New().
				Border(lipgloss.NormalBorder()).
				BorderStyle(mutedStyle).
				Headers("ID", "NAME", "TYPE", "ADDRESS").
				StyleFunc(func(row, _ int) lipgloss.Style {
					if row == table.HeaderRow {
						return headerStyle.PaddingRight(1)
					}
					return lipgloss.NewStyle().PaddingRight(1)
				}).
				Rows(rows...)

			fmt.Fprintln(cmd.OutOrStdout(), tbl.Render())
			return nil
		},
	}
}

func newDataSourceRemoveCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a data source and its stored password",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			registry, err := openRegistry(getConfig(cmd.Context()))
			if err != nil {
				return err
			}

			if err := registry.Delete(args[0]); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
			return nil
		},
	}
}

func newDataSourceDiscoverCommand() *cobra.Command {
	var add bool

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find PostgreSQL servers from PG* variables, .pgpass and local ports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			registry, err := openRegistry(getConfig(cmd.Context()))
			if err != nil {
				return err
			}

			registered := make(map[string]bool)
			for _, ds := range registry.GetAll() {
				registered[ds.Host+":"+strconv.Itoa(ds.Port)] = true
			}

			candidates := discovery.NewDiscoverer(getLogger(cmd.Context())).Discover(cmd.Context())
			if len(candidates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Nothing found")
				return nil
			}

			for _, c := range candidates {
				state := "new"
				if registered[c.Host+":"+strconv.Itoa(c.Port)] {
					state = "registered"
				} else if add {
					// passwords are left to .pgpass, which the driver reads itself
					added, err := registry.Add(models.ConnectionConfig{DataSource: c.DataSource})
					if err != nil {
						return err
					}
					state = "added as " + added.ID
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-12s %s\n", c.Host+":"+strconv.Itoa(c.Port), c.Source, state)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&add, "add", false, "register every server not yet registered")

	return cmd
}
