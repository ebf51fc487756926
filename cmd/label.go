package cmd

import (
	"context"
	"fmt"

	"github.com/andresmejia3/irisguide/internal/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var labelCmd = &cobra.Command{
	Use:   "label <session_id> <name>",
	Short: "Assign a name to a recorded capture session",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := uuid.Parse(args[0])
		if err != nil {
			utils.Die("Invalid session ID", err, nil)
		}
		runLabel(cmd.Context(), id, args[1])
	},
}

func init() {
	rootCmd.AddCommand(labelCmd)
}

func runLabel(ctx context.Context, id uuid.UUID, name string) {
	if err := connectDB(ctx); err != nil {
		utils.Die("Database unavailable", err, nil)
	}
	if err := DB.LabelSession(ctx, id, name); err != nil {
		utils.Die("Failed to label session", err, nil)
	}

	fmt.Printf("✅ Session %s labeled as '%s'\n", id, name)
}
