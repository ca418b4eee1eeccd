package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/relbranch/internal/branch"
)

var mergeCmd = &cobra.Command{
	Use:   "merge <branch>",
	Short: "Merge a branch into the primary dataset",
	Long: `Replay a branch's changes onto the primary dataset using the branch's
merge strategy. A squash merge applies one net operation per entity in
dependency order; an iterative merge replays the full history.

Unresolved conflicts on the branch's diffs are advisory: they are logged
and the branch's values win. Pass --strict to fail the merge instead.`,
	Args: cobra.ExactArgs(1),
	Run:  runMerge,
}

var (
	mergeDryRun bool
	mergeStrict bool
)

func init() {
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "Validate the merge, then roll it back")
	mergeCmd.Flags().BoolVar(&mergeStrict, "strict", false, "Fail the merge on unresolved conflicts")
}

func runMerge(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	opts := branch.MergeOptions{DryRun: mergeDryRun, Strict: mergeStrict}
	if err := c.Service.Merge(context.Background(), args[0], currentActor(), opts); err != nil {
		exitError("%v", err)
	}
	if mergeDryRun {
		fmt.Printf("Dry run: branch '%s' would merge cleanly\n", args[0])
		return
	}
	fmt.Printf("Merged branch '%s'\n", args[0])
}
