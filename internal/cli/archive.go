package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var archiveCmd = &cobra.Command{
	Use:   "archive <branch>",
	Short: "Archive a merged branch",
	Long: `Retire a merged branch. Its isolated store and change history are
dropped; the branch row, its diffs, and its merge provenance remain for
audit.`,
	Args: cobra.ExactArgs(1),
	Run:  runArchive,
}

func runArchive(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	if err := c.Service.Archive(context.Background(), args[0], currentActor()); err != nil {
		exitError("%v", err)
	}
	fmt.Printf("Archived branch '%s'\n", args[0])
}
