package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/relbranch/internal/models"
)

var logCmd = &cobra.Command{
	Use:   "log [branch]",
	Short: "Show mutation history",
	Long: `Display the mutation log of the primary dataset, or of a branch's
isolated store when a branch name is given.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runLog,
}

var logLimit int

func init() {
	logCmd.Flags().IntVarP(&logLimit, "n", "n", 0, "Limit the number of records to show")
}

func runLog(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	scope := models.ScopePrimary
	if len(args) > 0 {
		b, err := c.Primary.GetBranch(cmd.Context(), args[0])
		if err != nil {
			exitError("%v", err)
		}
		scope = b.StoreID
	}

	records, err := c.Changelog.RecordsFor(scope, time.Time{})
	if err != nil {
		exitError("failed to read changelog: %v", err)
	}
	if len(records) == 0 {
		fmt.Println("No changes yet")
		return
	}

	// Newest first
	if logLimit > 0 && len(records) > logLimit {
		records = records[len(records)-logLimit:]
	}

	yellow := color.New(color.FgYellow)
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		yellow.Printf("%s ", shortID(rec.ID))
		fmt.Printf("%-7s %s/%s", rec.Action, rec.EntityType, rec.EntityID)
		if rec.Actor != "" {
			fmt.Printf("  %s", rec.Actor)
		}
		fmt.Printf("  %s\n", rec.Time.Local().Format("2006-01-02 15:04:05"))
	}
}
