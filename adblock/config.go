package adblock

import (
	"context"
	"fmt"

	"github.com/hazyhaar/adsweep/adblock/internal/config"
	"github.com/hazyhaar/adsweep/dbopen"
)

// Config is the top-level adsweep configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome.
type BrowserConfig = config.BrowserConfig

// SweepConfig holds sweep defaults.
type SweepConfig = config.SweepConfig

// PageConfig defines a page to sweep.
type PageConfig = config.PageConfig

// SinkConfig defines a report output.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig returns a configuration with defaults and no pages.
func DefaultConfig() *Config {
	return config.Default()
}

// MergeConfigDB overlays the active rows of the sweep_pages table in the
// SQLite database at path onto cfg. The table is created if missing.
func MergeConfigDB(ctx context.Context, cfg *Config, path string) error {
	db, err := dbopen.Open(path, dbopen.WithSchema(config.Schema))
	if err != nil {
		return fmt.Errorf("adblock: open config db: %w", err)
	}
	defer db.Close()

	pages, err := config.LoadPages(ctx, db)
	if err != nil {
		return err
	}
	return cfg.MergePages(pages)
}
