// Package state records dedup runs in SQLite: per-run counters, every rule
// declaration with its provenance, and the discovered imports.
package state

import (
	"errors"
	"time"

	"github.com/leapstack-labs/yaradedupe/internal/registry"
)

// ErrNoRuns is returned when the store holds no recorded run.
var ErrNoRuns = errors.New("no runs recorded")

// Store persists run provenance.
type Store interface {
	RecordRun(run *Run) error
	LatestRun() (*Run, error)
	Declarations(runID string) ([]Declaration, error)
	DuplicatesForRun(runID string) ([]registry.Duplicate, error)
	Imports(runID string) ([]string, error)
	Close() error
}

// Run is one recorded dedup pass.
type Run struct {
	ID           string
	StartedAt    time.Time
	FinishedAt   time.Time
	SourcePath   string
	OutputDir    string
	Workers      int
	FilesTotal   int
	FilesSkipped int
	Stats        registry.Stats

	// Declarations and Imports are written by RecordRun; LatestRun leaves
	// them empty.
	Declarations []Declaration
	Imports      []string
}

// Duration returns how long the run took.
func (r *Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Declaration is one file declaring one rule name. Ordinal is the position
// in the name's discovery order; ordinal 0 is the kept copy.
type Declaration struct {
	Name    string
	Ordinal int
	File    string
	Kept    bool
}

// DeclarationsFrom flattens the registry's provenance table.
func DeclarationsFrom(reg *registry.Registry) []Declaration {
	var out []Declaration
	for _, name := range reg.Names() {
		for i, file := range reg.DeclaredBy(name) {
			out = append(out, Declaration{Name: name, Ordinal: i, File: file, Kept: i == 0})
		}
	}
	return out
}
