package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/irisguide/internal/utils"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all recorded capture sessions",
	Run: func(cmd *cobra.Command, args []string) {
		runList(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}

func runList(ctx context.Context) {
	if err := connectDB(ctx); err != nil {
		utils.Die("Database unavailable", err, nil)
	}
	sessions, err := DB.ListSessions(ctx)
	if err != nil {
		utils.Die("Failed to list sessions", err, nil)
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found in database.")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tSOURCE\tFRAMES\tANALYZED\tWINDOWS\tCREATED")
	fmt.Fprintln(w, "--\t-----\t------\t------\t--------\t-------\t-------")

	for _, s := range sessions {
		label := s.Label
		if label == "" {
			label = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			s.ID, label, s.Path, s.Frames, s.Analyzed, s.Windows, s.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()
}
