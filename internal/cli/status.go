package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/relbranch/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status <branch>",
	Short: "Show a branch's state and history",
	Args:  cobra.ExactArgs(1),
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, args []string) {
	c := initContext()
	defer c.Close()

	ctx := context.Background()
	b, err := c.Primary.GetBranch(ctx, args[0])
	if err != nil {
		exitError("%v", err)
	}

	fmt.Printf("Branch:    %s\n", b.Name)
	fmt.Print("Status:    ")
	switch {
	case b.Ready():
		color.Green("%s", b.Status)
	case b.Status == models.StatusFailed:
		color.Red("%s", b.Status)
	default:
		color.Yellow("%s", b.Status)
	}
	fmt.Printf("Store:     %s\n", b.StoreID)
	fmt.Printf("Strategy:  %s\n", b.Strategy)
	if b.Owner != "" {
		fmt.Printf("Owner:     %s\n", b.Owner)
	}
	fmt.Printf("Created:   %s\n", b.CreatedAt.Local().Format(time.RFC1123))
	if !b.LastSync.IsZero() {
		fmt.Printf("Last sync: %s\n", b.LastSync.Local().Format(time.RFC1123))
	}
	if !b.MergedTime.IsZero() {
		fmt.Printf("Merged:    %s by %s\n", b.MergedTime.Local().Format(time.RFC1123), b.MergedBy)
	}
	if b.Error != "" {
		color.Red("Error:     %s", b.Error)
	}

	events, err := c.Primary.Events(ctx, b.Name)
	if err != nil {
		exitError("failed to load events: %v", err)
	}
	if len(events) > 0 {
		fmt.Println("\nHistory:")
		for _, e := range events {
			fmt.Printf("  %s  %-12s", e.Time.Local().Format("2006-01-02 15:04:05"), e.Type)
			if e.Actor != "" {
				fmt.Printf("  %s", e.Actor)
			}
			fmt.Println()
		}
	}
}
