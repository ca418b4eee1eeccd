package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <branch>",
	Short: "Replay primary changes into a branch",
	Long: `Bring a branch up to date by replaying the changes made to the primary
dataset since the branch was provisioned or last synced. Changes replay
one at a time in the order they happened.`,
	Args: cobra.ExactArgs(1),
	Run:  runSync,
}

var syncDryRun bool

func init() {
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Validate the sync, then roll it back")
}

func runSync(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if err := c.Service.Sync(context.Background(), args[0], syncDryRun); err != nil {
		exitError("%v", err)
	}
	if syncDryRun {
		fmt.Printf("Dry run: branch '%s' would sync cleanly\n", args[0])
		return
	}
	fmt.Printf("Synced branch '%s'\n", args[0])
}
