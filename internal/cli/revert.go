package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var revertCmd = &cobra.Command{
	Use:   "revert <branch>",
	Short: "Undo a merged branch on the primary dataset",
	Long: `Undo every change a merged branch applied to the primary dataset, in
reverse order. The branch returns to ready so it can be corrected and
merged again.`,
	Args: cobra.ExactArgs(1),
	Run:  runRevert,
}

var revertDryRun bool

func init() {
	revertCmd.Flags().BoolVar(&revertDryRun, "dry-run", false, "Validate the revert, then roll it back")
}

func runRevert(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if err := c.Service.Revert(context.Background(), args[0], currentActor(), revertDryRun); err != nil {
		exitError("%v", err)
	}
	if revertDryRun {
		fmt.Printf("Dry run: branch '%s' would revert cleanly\n", args[0])
		return
	}
	fmt.Printf("Reverted branch '%s'\n", args[0])
}
