package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilupskalvis/relbranch/internal/changelog"
	"github.com/kilupskalvis/relbranch/internal/config"
	"github.com/kilupskalvis/relbranch/internal/schema"
	"github.com/kilupskalvis/relbranch/internal/store"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new relbranch repository",
	Long: `Create a .relbranch directory in the current directory with a fresh
primary store, changelog, and configuration. Edit .relbranch/schema to
declare the entity types before adding data.`,
	Run: runInit,
}

func runInit(cmd *cobra.Command, args []string) {
	cfg, err := config.Initialize()
	if err != nil {
		exitError("%v", err)
	}

	sch, err := schema.LoadFile(cfg.SchemaPath())
	if err != nil {
		exitError("failed to load schema: %v", err)
	}

	primary, err := store.New(cfg.PrimaryDBPath(), sch)
	if err != nil {
		exitError("failed to create primary store: %v", err)
	}
	defer primary.Close()
	if err := primary.Initialize(); err != nil {
		exitError("failed to initialize primary store: %v", err)
	}

	cl, err := changelog.Open(cfg.ChangelogPath())
	if err != nil {
		exitError("failed to create changelog: %v", err)
	}
	defer cl.Close()

	fmt.Printf("Initialized relbranch repository in %s\n", cfg.Path())
	fmt.Println("Declare entity types in .relbranch/schema to start tracking data")
}
