package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/monoforge/monoforge/pkg/stores"
)

func newListCommand() *cobra.Command {
	var runs int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects in dependency order",
		Long: `List every workspace project in topological order, together with its
version, folder and review category. With --runs, list recent build runs
from the history store instead.`,
		Example: `  # List projects
  monoforge list

  # List projects as JSON
  monoforge list --json

  # Show the ten most recent build runs
  monoforge list --runs 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace()
			if err != nil {
				return err
			}

			if runs > 0 {
				return listRuns(cmd, ws.HistoryDBPath(), runs)
			}

			graph, err := buildGraph(ws)
			if err != nil {
				return err
			}

			if jsonOutput {
				type row struct {
					Name           string `json:"name"`
					Version        string `json:"version"`
					Folder         string `json:"folder"`
					ReviewCategory string `json:"reviewCategory,omitempty"`
				}
				rows := make([]row, 0, len(graph.Order))
				for _, name := range graph.Order {
					p := graph.Projects[name]
					rows = append(rows, row{p.Name, p.Version, p.Folder, p.ReviewCategory})
				}
				return printJSON(rows)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PROJECT\tVERSION\tFOLDER\tCATEGORY")
			for _, name := range graph.Order {
				p := graph.Projects[name]
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, p.Version, p.Folder, p.ReviewCategory)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&runs, "runs", 0, "list the N most recent build runs instead of projects")

	return cmd
}

func listRuns(cmd *cobra.Command, dbPath string, limit int) error {
	store, err := stores.NewHistoryStore(dbPath)
	if err != nil {
		return err
	}
	if err := store.Init(cmd.Context()); err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(records)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tSTARTED\tDURATION\tOK\tSUCCEEDED\tCACHED\tFAILED\tSKIPPED")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Duration.Round(time.Millisecond),
			r.OK, r.Succeeded, r.Cached, r.Failed, r.Skipped)
	}
	return w.Flush()
}
