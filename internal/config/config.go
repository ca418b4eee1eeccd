// Package config manages relbranch configuration and the .relbranch
// directory structure. It handles loading, saving, and initializing the
// repository configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/kilupskalvis/relbranch/internal/models"
)

const (
	RelbranchDir  = ".relbranch"
	ConfigFile    = "config"
	SchemaFile    = "schema"
	PrimaryDBFile = "primary.db"
	ChangelogFile = "changelog.db"
	BranchesDir   = "branches"
)

// Config represents the relbranch repository configuration
type Config struct {
	// MaxBranches caps non-archived branches; zero means unlimited.
	MaxBranches int `toml:"max_branches"`

	// MaxWorkingBranches caps branches in a working state; zero means
	// unlimited.
	MaxWorkingBranches int `toml:"max_working_branches"`

	// StorePrefix is prepended to isolated store file names.
	StorePrefix string `toml:"store_prefix"`

	// ChangelogRetentionDays bounds how old a branch's last sync may be
	// before merging requires a fresh sync. Zero disables the check.
	ChangelogRetentionDays int `toml:"changelog_retention_days"`

	// DefaultStrategy is used when a branch is created without one.
	DefaultStrategy string `toml:"default_strategy"`

	path string // path to .relbranch directory
}

// FindRoot finds the .relbranch directory by walking up from the current
// directory
func FindRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		rbPath := filepath.Join(dir, RelbranchDir)
		if info, err := os.Stat(rbPath); err == nil && info.IsDir() {
			return rbPath, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a relbranch repository (or any parent up to root)")
		}
		dir = parent
	}
}

// Load loads the configuration from the .relbranch directory
func Load() (*Config, error) {
	rbPath, err := FindRoot()
	if err != nil {
		return nil, err
	}
	return LoadFrom(rbPath)
}

// LoadFrom loads the configuration from an explicit .relbranch directory
func LoadFrom(rbPath string) (*Config, error) {
	configPath := filepath.Join(rbPath, ConfigFile)
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.path = rbPath
	return &cfg, nil
}

// Save saves the configuration to disk
func (c *Config) Save() error {
	configPath := filepath.Join(c.path, ConfigFile)
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	return os.WriteFile(configPath, data, 0644)
}

// Path returns the path to the .relbranch directory
func (c *Config) Path() string {
	return c.path
}

// PrimaryDBPath returns the path to the primary dataset's database
func (c *Config) PrimaryDBPath() string {
	return filepath.Join(c.path, PrimaryDBFile)
}

// ChangelogPath returns the path to the mutation log database
func (c *Config) ChangelogPath() string {
	return filepath.Join(c.path, ChangelogFile)
}

// SchemaPath returns the path to the entity type schema file
func (c *Config) SchemaPath() string {
	return filepath.Join(c.path, SchemaFile)
}

// BranchStoresPath returns the directory holding per-branch isolated stores
func (c *Config) BranchStoresPath() string {
	return filepath.Join(c.path, BranchesDir)
}

// Strategy returns the configured default merge strategy.
func (c *Config) Strategy() models.MergeStrategyName {
	if c.DefaultStrategy == "" {
		return models.StrategySquash
	}
	return models.MergeStrategyName(c.DefaultStrategy)
}

// Initialize creates a new .relbranch directory with initial configuration
func Initialize() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	rbPath := filepath.Join(cwd, RelbranchDir)

	// Check if already initialized
	if _, err := os.Stat(rbPath); err == nil {
		return nil, fmt.Errorf("relbranch repository already exists")
	}

	// Create directories
	if err := os.MkdirAll(rbPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create .relbranch directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(rbPath, BranchesDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create branches directory: %w", err)
	}

	cfg := &Config{
		StorePrefix:     "branch_",
		DefaultStrategy: string(models.StrategySquash),
		path:            rbPath,
	}

	if err := cfg.Save(); err != nil {
		// Cleanup on failure
		os.RemoveAll(rbPath)
		return nil, err
	}

	if err := os.WriteFile(cfg.SchemaPath(), []byte(starterSchema), 0644); err != nil {
		os.RemoveAll(rbPath)
		return nil, fmt.Errorf("failed to write schema file: %w", err)
	}

	return cfg, nil
}

const starterSchema = `# Entity type declarations. Each [[types]] block describes one entity type
# the store tracks. Example:
#
# [[types]]
# name = "site"
# unique = ["slug"]
# required = ["name", "slug"]
#
# [[types]]
# name = "device"
# required = ["name"]
#
#   [[types.references]]
#   name = "site"
#   target = "site"
#   nullable = false
`
