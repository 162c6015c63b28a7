package commands

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/openfroyo/diffconf/pkg/stores"
	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded configs",
		Long: `Inspect the configs recorded with resolve --record or load --record.

Snapshots are identified by their ID or any unambiguous prefix of it.`,
	}

	cmd.PersistentFlags().StringVar(&dbPath, "db", "", "history database path (overrides settings)")

	cmd.AddCommand(newHistoryListCommand(&dbPath))
	cmd.AddCommand(newHistoryShowCommand(&dbPath))
	cmd.AddCommand(newHistoryDeleteCommand(&dbPath))

	return cmd
}

// openHistory opens the history database named by --db or the settings.
func (a *app) openHistory(cmd *cobra.Command, dbPath string) (*stores.SQLiteStore, error) {
	if dbPath == "" {
		dbPath = a.settings.History.Path
	}
	return stores.Open(cmd.Context(), dbPath)
}

func newHistoryListCommand(dbPath *string) *cobra.Command {
	var filter stores.SnapshotFilter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded configs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			store, err := a.openHistory(cmd, *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			snaps, err := store.ListSnapshots(cmd.Context(), filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return render(a.out, snaps)
			}

			rows := make([][]string, 0, len(snaps))
			for _, s := range snaps {
				rows = append(rows, []string{
					shortID(s.ID),
					s.Kind,
					strings.Join(s.Sources, ","),
					s.Digest[:12],
					humanize.Time(s.CreatedAt),
				})
			}
			printTable(a.out, []string{"ID", "KIND", "SOURCES", "DIGEST", "CREATED"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVar(&filter.Kind, "kind", "", "only list this kind (train, generate or loaded)")
	cmd.Flags().IntVar(&filter.Limit, "limit", 20, "maximum number of snapshots (0 for all)")
	cmd.Flags().IntVar(&filter.Offset, "offset", 0, "skip this many snapshots")

	return cmd
}

// snapshotDetail is the JSON form of history show.
type snapshotDetail struct {
	*stores.Snapshot
	Findings []stores.PolicyFinding `json:"findings"`
}

func newHistoryShowCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a recorded config and its policy findings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			store, err := a.openHistory(cmd, *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.GetSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			findings, err := store.ListFindings(cmd.Context(), snap.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				return render(a.out, snapshotDetail{Snapshot: snap, Findings: findings})
			}

			fmt.Fprintf(a.out, "# id:      %s\n", snap.ID)
			fmt.Fprintf(a.out, "# kind:    %s\n", snap.Kind)
			fmt.Fprintf(a.out, "# sources: %s\n", strings.Join(snap.Sources, ", "))
			fmt.Fprintf(a.out, "# created: %s\n", snap.CreatedAt.Format("2006-01-02 15:04:05 MST"))
			for _, f := range findings {
				fmt.Fprintf(a.out, "# %s [%s] %s %s\n", strings.ToUpper(f.Severity), f.Policy, f.Path, f.Message)
			}
			_, err = fmt.Fprint(a.out, snap.Document)
			return err
		},
	}
}

func newHistoryDeleteCommand(dbPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a recorded config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := appFrom(cmd)
			if err != nil {
				return err
			}
			store, err := a.openHistory(cmd, *dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			snap, err := store.GetSnapshot(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := store.DeleteSnapshot(cmd.Context(), snap.ID); err != nil {
				return err
			}

			a.tel.Logger.NewComponentLogger("history").WithSnapshotID(snap.ID).Info("Snapshot deleted")
			fmt.Fprintf(a.out, "deleted %s\n", snap.ID)
			return nil
		},
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
