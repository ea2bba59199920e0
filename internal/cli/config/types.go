// Package config provides configuration management for the yaradedupe CLI.
package config

import (
	"time"

	"github.com/leapstack-labs/yaradedupe/internal/aggregate"
	"github.com/leapstack-labs/yaradedupe/internal/extract"
)

// Config holds all CLI configuration options.
type Config struct {
	Path         string         `koanf:"path"`
	Out          string         `koanf:"out"`
	Workers      int            `koanf:"workers"`
	Threaded     bool           `koanf:"threaded"`
	Verbose      bool           `koanf:"verbose"`
	OutputFormat string         `koanf:"output"`
	Encodings    []string       `koanf:"encodings"`
	Extensions   []string       `koanf:"extensions"`
	StatePath    string         `koanf:"state_path"`
	ReportPath   string         `koanf:"report_path"`
	Validation   ValidateConfig `koanf:"validate"`
	Watch        WatchConfig    `koanf:"watch"`
}

// ValidateConfig configures compile checks of the generated rules.
type ValidateConfig struct {
	Enabled   bool   `koanf:"enabled"`
	YaracPath string `koanf:"yarac_path"`
}

// WatchConfig configures the watch command.
type WatchConfig struct {
	Debounce time.Duration `koanf:"debounce"`
}

// Default configuration values.
const (
	DefaultOut      = "./yara_new"
	DefaultWorkers  = 10
	DefaultOutput   = "auto" // Auto-detect: TTY=text, non-TTY=plain text
	DefaultDebounce = 500 * time.Millisecond
)

// DefaultEncodings is the decode order for rule files.
var DefaultEncodings = extract.DefaultEncodings

// DefaultExtensions are the rule file extensions picked up by discovery.
var DefaultExtensions = aggregate.DefaultExtensions

// EffectiveWorkers returns the worker count for a run: 1 unless threaded.
func (c *Config) EffectiveWorkers() int {
	if !c.Threaded || c.Workers < 1 {
		return 1
	}
	return c.Workers
}
