package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <branch>",
	Short: "Show a branch's changes against the primary dataset",
	Long: `Show the three-way diff for every entity a branch has touched: the
state when the branch first changed it, the branch's latest state, and
the primary dataset's current state. Attributes changed to different
values on both sides are flagged as conflicts.`,
	Args: cobra.ExactArgs(1),
	Run:  runDiff,
}

var diffConflictsOnly bool

func init() {
	diffCmd.Flags().BoolVar(&diffConflictsOnly, "conflicts", false, "Show only conflicting entities")
}

func runDiff(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	diffs, err := c.Primary.ListDiffsForBranch(context.Background(), args[0])
	if err != nil {
		exitError("%v", err)
	}
	if len(diffs) == 0 {
		fmt.Printf("Branch '%s' has no changes\n", args[0])
		return
	}

	cyan := color.New(color.FgCyan)
	red := color.New(color.FgRed)
	yellow := color.New(color.FgYellow)

	shown := 0
	for _, d := range diffs {
		if diffConflictsOnly && len(d.Conflicts) == 0 {
			continue
		}
		shown++

		cyan.Printf("%s %s/%s\n", d.Action, d.EntityType, d.EntityID)
		conflicted := make(map[string]bool, len(d.Conflicts))
		for _, k := range d.Conflicts {
			conflicted[k] = true
		}

		original, modified, current := d.OriginalDiff(), d.ModifiedDiff(), d.CurrentDiff()
		for _, field := range d.AlteredFields() {
			line := fmt.Sprintf("    %-16s %v -> %v (primary: %v)",
				field, original[field], modified[field], current[field])
			if conflicted[field] {
				red.Println(line + "  CONFLICT")
			} else {
				fmt.Println(line)
			}
		}
		if len(d.AlteredFields()) == 0 && d.Action != "" {
			yellow.Println("    (no field-level changes)")
		}
	}

	if diffConflictsOnly && shown == 0 {
		fmt.Printf("Branch '%s' has no conflicts\n", args[0])
	}
}
