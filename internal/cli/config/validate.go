package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/leapstack-labs/yaradedupe/internal/extract"
)

var validOutputs = map[string]bool{"": true, "auto": true, "text": true, "json": true}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if !validOutputs[c.OutputFormat] {
		return fmt.Errorf("invalid output format %q (want auto, text or json)", c.OutputFormat)
	}
	for _, enc := range c.Encodings {
		if !extract.KnownEncoding(enc) {
			return fmt.Errorf("unknown encoding %q", enc)
		}
	}
	for _, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("extension %q must start with a dot", ext)
		}
	}
	if c.Watch.Debounce < 0 {
		return fmt.Errorf("watch.debounce must not be negative")
	}
	return nil
}

// ValidatePath checks that the rules path is set and exists.
func (c *Config) ValidatePath() error {
	if c.Path == "" {
		return fmt.Errorf("a rules path is required\nHint: pass --path or set path in yaradedupe.yaml")
	}
	if _, err := os.Stat(c.Path); os.IsNotExist(err) {
		return fmt.Errorf("rules path does not exist: %s", c.Path)
	}
	return nil
}
