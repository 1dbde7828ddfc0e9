// Package config handles adsweep configuration from YAML files or SQLite.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level adsweep configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser"`
	Sweep   SweepConfig   `yaml:"sweep"`
	Pages   []PageConfig  `yaml:"pages"`
	Sinks   []SinkConfig  `yaml:"sinks"`
	// HTTP is the listen address of the status endpoint. Empty = disabled.
	HTTP string `yaml:"http"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote          string        `yaml:"remote"`
	Mode            string        `yaml:"mode"` // headless | headful
	Stealth         bool          `yaml:"stealth"`
	BlockURLs       []string      `yaml:"block_urls"`
	RecycleInterval time.Duration `yaml:"recycle_interval"`
	MemoryLimit     int64         `yaml:"memory_limit"`
	XvfbDisplay     string        `yaml:"xvfb_display"`
}

// SweepConfig holds the defaults every page inherits.
type SweepConfig struct {
	Policy           string        `yaml:"policy"` // hide | remove
	ExtraSelectors   []string      `yaml:"extra_selectors"`
	ResweepDelay     time.Duration `yaml:"resweep_delay"`
	FallbackInterval time.Duration `yaml:"fallback_interval"`
	// Immediate resweeps inside the mutation callback instead of waiting
	// ResweepDelay.
	Immediate bool `yaml:"immediate"`
}

// PageConfig defines a page to sweep.
type PageConfig struct {
	ID             string   `yaml:"id"`
	URL            string   `yaml:"url"`
	Policy         string   `yaml:"policy"`          // overrides sweep.policy
	ExtraSelectors []string `yaml:"extra_selectors"` // appended to sweep.extra_selectors
}

// SinkConfig defines a report output.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | sqlite
	URL  string `yaml:"url"`  // for webhook
	Path string `yaml:"path"` // for sqlite
	// Retention is how long a sqlite sink keeps reports. Zero keeps them
	// forever.
	Retention time.Duration `yaml:"retention"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no pages.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Sweep.Policy == "" {
		c.Sweep.Policy = "hide"
	}
	if c.Sweep.ResweepDelay <= 0 {
		c.Sweep.ResweepDelay = 100 * time.Millisecond
	}
	if c.Sweep.FallbackInterval <= 0 {
		c.Sweep.FallbackInterval = 5 * time.Second
	}
	for i := range c.Pages {
		if c.Pages[i].Policy == "" {
			c.Pages[i].Policy = c.Sweep.Policy
		}
	}
}

// Validate checks values that defaults cannot fix.
func (c *Config) Validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	if err := validPolicy(c.Sweep.Policy); err != nil {
		return fmt.Errorf("config: sweep.policy: %w", err)
	}
	seen := make(map[string]bool, len(c.Pages))
	anonymous := make(map[string]bool)
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: pages[%d]: url is required", i)
		}
		if err := validPolicy(p.Policy); err != nil {
			return fmt.Errorf("config: pages[%d].policy: %w", i, err)
		}
		if p.ID != "" {
			if seen[p.ID] {
				return fmt.Errorf("config: pages[%d]: duplicate id %q", i, p.ID)
			}
			seen[p.ID] = true
		} else {
			// Pages without an id are told apart by URL alone.
			if anonymous[p.URL] {
				return fmt.Errorf("config: pages[%d]: duplicate url %q without id", i, p.URL)
			}
			anonymous[p.URL] = true
		}
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: sinks[%d]: webhook needs url", i)
			}
		case "sqlite":
			if s.Path == "" {
				return fmt.Errorf("config: sinks[%d]: sqlite needs path", i)
			}
			if s.Retention < 0 {
				return fmt.Errorf("config: sinks[%d]: negative retention %v", i, s.Retention)
			}
		default:
			return fmt.Errorf("config: sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}

func validPolicy(p string) error {
	switch p {
	case "", "hide", "remove":
		return nil
	}
	return fmt.Errorf("unknown policy %q", p)
}
