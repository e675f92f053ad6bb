package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/bizkut/callsignscrapper/store"
)

var statusSessions int

func init() {
	statusCmd.Flags().IntVarP(&statusSessions, "sessions", "n", 10, "Number of recent scrape sessions to list (0 lists all).")
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Prints the stored record count, the checkpoint and recent scrape sessions.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := setup(cmd, true)
		if err != nil {
			return err
		}
		defer a.Close()

		meta, err := a.store.Records.Metadata()
		if err != nil {
			return err
		}
		count, err := a.store.Records.Count()
		if err != nil {
			return err
		}
		cp, state, err := a.store.Checkpoint.Peek()
		if err != nil {
			return err
		}
		sessions, err := a.store.Ledger.Sessions()
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		t := table.NewWriter()
		t.SetOutputMirror(out)
		t.SetTitle("Store")
		rows := []table.Row{
			{"Data directory", a.cfg.DataDir},
			{"Backend", a.cfg.Storage.Backend},
			{"Records", count},
			{"Created", formatTime(meta.CreatedAt.Time)},
			{"Last updated", formatTimePtr(meta.LastUpdated)},
		}
		switch state {
		case store.LoadOK:
			rows = append(rows,
				table.Row{"Checkpoint", fmt.Sprintf("session %d, page %d", cp.SessionID, cp.LastPage)},
				table.Row{"Checkpoint saved", formatTime(cp.UpdatedAt.Time)},
			)
		case store.LoadRecovered:
			rows = append(rows, table.Row{"Checkpoint", "unreadable, discarded on the next scrape"})
		default:
			rows = append(rows, table.Row{"Checkpoint", "none"})
		}
		t.AppendRows(rows)
		t.SetStyle(table.StyleRounded)
		t.Render()

		printSessions(out, recentSessions(sessions, statusSessions))
		return nil
	},
}

// recentSessions returns the last n sessions, newest first.
func recentSessions(all []store.Session, n int) []store.Session {
	out := make([]store.Session, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if n > 0 && len(out) == n {
			break
		}
		out = append(out, all[i])
	}
	return out
}

func printSessions(w io.Writer, sessions []store.Session) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No scrape sessions recorded.")
		return
	}
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Scrape sessions")
	t.AppendHeader(table.Row{"ID", "Status", "Started", "Completed", "Last page", "Found", "Added", "Updated"})
	for _, s := range sessions {
		t.AppendRow(table.Row{
			s.ID,
			s.Status,
			formatTime(s.StartedAt.Time),
			formatTimePtr(s.CompletedAt),
			s.LastPage,
			s.RecordsFound,
			s.RecordsAdded,
			s.RecordsUpdated,
		})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func formatTimePtr(t *store.Timestamp) string {
	if t == nil {
		return "-"
	}
	return formatTime(t.Time)
}
