package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/andresmejia3/irisguide/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var windowsCmd = &cobra.Command{
	Use:   "windows <session_id>",
	Short: "Show the ready-to-capture windows found in a session",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			utils.Die("Invalid session ID", err, nil)
		}
		runWindows(cmd.Context(), id)
	},
}

func init() {
	rootCmd.AddCommand(windowsCmd)
}

func runWindows(ctx context.Context, id uuid.UUID) {
	if err := connectDB(ctx); err != nil {
		utils.Die("Database unavailable", err, nil)
	}
	windows, err := DB.SessionWindows(ctx, id)
	if err != nil {
		utils.Die("Failed to load windows", err, nil)
	}

	if len(windows) == 0 {
		fmt.Printf("No ready windows recorded for session %s.\n", id)
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "#\tSTART\tEND\tDURATION\tFRAMES\tPEAK SHARPNESS")
	for i, win := range windows {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2fs\t%d\t%.1f\n",
			i+1, utils.FmtTime(win.Start), utils.FmtTime(win.End), win.End-win.Start, win.Frames, win.PeakSharpness)
	}
	w.Flush()
}
