package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/yaradedupe/internal/aggregate"
	"github.com/leapstack-labs/yaradedupe/internal/registry"
)

// Report is the exported duplicate report.
type Report struct {
	RunID      string                      `yaml:"run_id,omitempty"`
	Generated  time.Time                   `yaml:"generated"`
	Stats      registry.Stats              `yaml:"stats"`
	Files      ReportFiles                 `yaml:"files"`
	Duplicates []registry.Duplicate        `yaml:"duplicates"`
	Imports    []string                    `yaml:"imports,omitempty"`
	Validation *aggregate.ValidationReport `yaml:"validation,omitempty"`
}

// ReportFiles holds the file counters of a report.
type ReportFiles struct {
	Total     int `yaml:"total"`
	Processed int `yaml:"processed"`
	Skipped   int `yaml:"skipped"`
}

// NewReport builds the exported report for a result.
func NewReport(r *Result) Report {
	dups := r.Duplicates
	if dups == nil {
		dups = []registry.Duplicate{}
	}
	return Report{
		RunID:      r.RunID,
		Generated:  r.StartedAt.UTC().Truncate(time.Second),
		Stats:      r.Stats,
		Files:      ReportFiles{Total: r.FilesTotal, Processed: r.FilesProcessed, Skipped: r.FilesSkipped},
		Duplicates: dups,
		Imports:    r.Imports,
		Validation: r.Validation,
	}
}

// WriteReport writes the YAML duplicate report for r to path.
func WriteReport(path string, r *Result) error {
	data, err := yaml.Marshal(NewReport(r))
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
