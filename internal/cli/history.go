package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/rebeliceyang/dataops/internal/models"
)

const queryColumnWidth = 60

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func newHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [query]",
		Short: "Show recently executed statements",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # Last 20 statements
  dataops history

  # Statements mentioning orders
  dataops history orders --limit 50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(getConfig(cmd.Context()))
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			var entries []models.HistoryEntry
			if len(args) == 1 {
				entries, err = store.Search(cmd.Context(), args[0], limit)
			} else {
				entries, err = store.GetRecent(cmd.Context(), limit)
			}
			if err != nil {
				return err
			}

			renderHistory(cmd.OutOrStdout(), entries)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of entries")

	return cmd
}

func renderHistory(w io.Writer, entries []models.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No history")
		return
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		status := "ok"
		if !e.Success {
			status = "error"
		}
		rows = append(rows, []string{
			e.ExecutedAt.Local().Format(time.DateTime),
			e.DataSourceID + "/" + e.DatabaseName,
			e.Duration.Round(time.Millisecond).String(),
			status,
			truncateQuery(e.Query, queryColumnWidth),
		})
	}

	tbl := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(mutedStyle).
		Headers("EXECUTED", "DATABASE", "DURATION", "STATUS", "QUERY").
		StyleFunc(func(row, col int) lipgloss.Style {
			style := lipgloss.NewStyle().PaddingRight(1)
			switch {
			case row == table.HeaderRow:
				return headerStyle.PaddingRight(1)
			case col == 3 && rows[row][3] == "error":
				return failStyle.PaddingRight(1)
			}
			return style
		}).
		Rows(rows...)

	fmt.Fprintln(w, tbl.Render())
}

// truncateQuery flattens a statement onto one line and cuts it to width cells
func truncateQuery(q string, width int) string {
	q = strings.Join(strings.Fields(q), " ")
	return runewidth.Truncate(q, width, "…")
}
