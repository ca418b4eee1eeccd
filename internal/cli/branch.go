package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/relbranch/internal/models"
)

var branchCmd = &cobra.Command{
	Use:   "branch [name]",
	Short: "List, create, or delete branches",
	Long: `Manage branches of the primary dataset.

Without arguments, lists all branches.
With a name argument, creates and provisions a new branch.

Examples:
  relbranch branch                       # List all branches
  relbranch branch feature               # Create 'feature' branch
  relbranch branch feature --strategy iterative
  relbranch branch -d feature            # Delete 'feature' branch`,
	Run: runBranch,
}

var (
	branchDelete   bool
	branchStrategy string
)

func init() {
	branchCmd.Flags().BoolVarP(&branchDelete, "delete", "d", false, "Delete a branch")
	branchCmd.Flags().StringVar(&branchStrategy, "strategy", "", "Merge strategy: iterative or squash")
}

func runBranch(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	ctx := context.Background()

	// Delete branch
	if branchDelete {
		if len(args) == 0 {
			exitError("branch name required for deletion")
		}
		if err := c.Service.Remove(ctx, args[0]); err != nil {
			exitError("%v", err)
		}
		fmt.Printf("Deleted branch '%s'\n", args[0])
		return
	}

	// Create and provision branch
	if len(args) > 0 {
		name := args[0]
		b, err := c.Service.Create(ctx, name, currentActor(), models.MergeStrategyName(branchStrategy))
		if err != nil {
			exitError("%v", err)
		}
		if err := c.Service.Provision(ctx, name); err != nil {
			exitError("provisioning failed: %v", err)
		}
		fmt.Printf("Created branch '%s' (store %s, %s merge)\n", name, b.StoreID, b.Strategy)
		return
	}

	// List branches
	branches, err := c.Primary.ListBranches(ctx)
	if err != nil {
		exitError("failed to list branches: %v", err)
	}
	if len(branches) == 0 {
		fmt.Println("No branches")
		return
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	for _, b := range branches {
		fmt.Printf("  %-24s ", b.Name)
		switch {
		case b.Ready():
			green.Printf("%-20s", b.Status)
		case b.Status == models.StatusFailed:
			red.Printf("%-20s", b.Status)
		default:
			yellow.Printf("%-20s", b.Status)
		}
		fmt.Printf(" %s", b.Strategy)
		if b.Owner != "" {
			fmt.Printf("  (%s)", b.Owner)
		}
		fmt.Println()
	}
}
