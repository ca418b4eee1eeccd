// Package cli implements the command-line interface for relbranch.
package cli

import (
	"fmt"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/kilupskalvis/relbranch/internal/branch"
	"github.com/kilupskalvis/relbranch/internal/changelog"
	"github.com/kilupskalvis/relbranch/internal/config"
	"github.com/kilupskalvis/relbranch/internal/schema"
	"github.com/kilupskalvis/relbranch/internal/store"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config    *config.Config
	Schema    *schema.Schema
	Primary   *store.Store
	Changelog *changelog.Log
	Service   *branch.Service
	Logger    *charmlog.Logger
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Changelog != nil {
		c.Changelog.Close()
	}
	if c.Primary != nil {
		c.Primary.Close()
	}
}

// initContext loads config and schema and opens the primary store, the
// changelog, and the branch service
func initContext() *cmdContext {
	cfg, err := config.Load()
	if err != nil {
		exitError("%v", err)
	}

	sch, err := schema.LoadFile(cfg.SchemaPath())
	if err != nil {
		exitError("failed to load schema: %v", err)
	}

	primary, err := store.New(cfg.PrimaryDBPath(), sch)
	if err != nil {
		exitError("failed to open primary store: %v", err)
	}
	if err := primary.Initialize(); err != nil {
		primary.Close()
		exitError("failed to initialize primary store: %v", err)
	}

	cl, err := changelog.Open(cfg.ChangelogPath())
	if err != nil {
		primary.Close()
		exitError("failed to open changelog: %v", err)
	}

	logger := newLogger()
	prov := &store.Provisioner{
		Dir:    cfg.BranchStoresPath(),
		Prefix: cfg.StorePrefix,
		Schema: sch,
	}
	svc := branch.NewService(primary, cl, prov, sch, cfg, logger)

	return &cmdContext{
		Config:    cfg,
		Schema:    sch,
		Primary:   primary,
		Changelog: cl,
		Service:   svc,
		Logger:    logger,
	}
}

func newLogger() *charmlog.Logger {
	logger := charmlog.New(os.Stderr)
	if rootVerbose {
		logger.SetLevel(charmlog.DebugLevel)
	}
	return logger
}

var rootVerbose bool

var rootCmd = &cobra.Command{
	Use:   "relbranch",
	Short: "Branching for a live relational data store",
	Long: `relbranch brings git-like branching to a live relational data store.
Create an isolated copy of the dataset, change it freely, review the
three-way diff against the primary data, and merge the branch back with
either a chronological or a collapsed replay.`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&rootVerbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(branchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(mergeCmd)
	rootCmd.AddCommand(revertCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(logCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

// currentActor is recorded on mutations and lifecycle events
func currentActor() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}

// shortID returns the first 8 characters of an ID
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
