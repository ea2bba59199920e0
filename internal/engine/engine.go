// Package engine runs a complete dedup pass: it shards the input files across
// workers, registers every rule name, writes the per-file and run-wide
// artifacts, and records the run's provenance.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/yaradedupe/internal/aggregate"
	"github.com/leapstack-labs/yaradedupe/internal/artifact"
	"github.com/leapstack-labs/yaradedupe/internal/extract"
	"github.com/leapstack-labs/yaradedupe/internal/state"
	"github.com/leapstack-labs/yaradedupe/internal/validate"
)

// ToolName is written into every generated header.
const ToolName = "yaradedupe"

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 10

var (
	// ErrNoInputFiles is returned when a run is started without files.
	ErrNoInputFiles = errors.New("no input files found")
	// ErrOutputRoot is returned when the output root cannot be created.
	ErrOutputRoot = errors.New("cannot create output directory")
)

// Engine runs dedup passes. A single Engine may run several passes one after
// another; each pass starts from an empty registry.
type Engine struct {
	logger *slog.Logger

	sourcePath string
	outputDir  string
	workers    int
	encodings  []string
	extensions []string
	reportPath string
	validator  validate.Validator
	writer     artifact.Writer
	now        func() time.Time

	store state.Store
}

// Config holds engine configuration.
type Config struct {
	// SourcePath is the directory the input files were discovered in.
	SourcePath string
	// OutputDir is the output root (deduped_rules/ and commented_rules/ go below it)
	OutputDir string
	// Workers is the worker count; values <= 1 run sequentially
	Workers int
	// Encodings are tried in order when decoding input files
	Encodings []string
	// Extensions are the rule file extensions used for discovery and indexes
	Extensions []string
	// StatePath is the SQLite provenance database (optional)
	StatePath string
	// ReportPath is where the YAML duplicate report is written (optional)
	ReportPath string
	// Validator compile-checks generated files and imports (optional)
	Validator validate.Validator
	// Version is written into generated headers
	Version string
	// Now overrides the clock (optional)
	Now func() time.Time
	// Logger is the structured logger (optional, uses discard if nil)
	Logger *slog.Logger
}

// New creates an engine and opens the state store when StatePath is set.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	encodings := cfg.Encodings
	if len(encodings) == 0 {
		encodings = extract.DefaultEncodings
	}
	extensions := cfg.Extensions
	if len(extensions) == 0 {
		extensions = aggregate.DefaultExtensions
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	logger.Debug("initializing engine",
		"output_dir", cfg.OutputDir,
		"workers", cfg.Workers,
		"state_path", cfg.StatePath)

	e := &Engine{
		logger:     logger,
		sourcePath: cfg.SourcePath,
		outputDir:  cfg.OutputDir,
		workers:    cfg.Workers,
		encodings:  encodings,
		extensions: extensions,
		reportPath: cfg.ReportPath,
		validator:  cfg.Validator,
		writer:     artifact.Writer{Tool: ToolName, Version: cfg.Version, Now: now},
		now:        now,
	}

	if cfg.StatePath != "" {
		store := state.NewSQLiteStore(logger)
		if err := store.Open(cfg.StatePath); err != nil {
			return nil, fmt.Errorf("failed to open state store: %w", err)
		}
		e.store = store
	}

	return e, nil
}

// Close releases the state store.
func (e *Engine) Close() error {
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// Store returns the state store, or nil when provenance recording is off.
func (e *Engine) Store() state.Store {
	return e.store
}

// Extensions returns the rule file extensions the engine works with.
func (e *Engine) Extensions() []string {
	return e.extensions
}
