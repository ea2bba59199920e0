package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/leapstack-labs/yaradedupe/internal/aggregate"
	"github.com/leapstack-labs/yaradedupe/internal/artifact"
	"github.com/leapstack-labs/yaradedupe/internal/dedupe"
	"github.com/leapstack-labs/yaradedupe/internal/registry"
	"github.com/leapstack-labs/yaradedupe/internal/scheduler"
	"github.com/leapstack-labs/yaradedupe/internal/state"
)

// Result summarises one dedup pass.
type Result struct {
	RunID     string
	StartedAt time.Time
	Duration  time.Duration
	Plan      scheduler.Plan

	Stats      registry.Stats
	Duplicates []registry.Duplicate
	Imports    []string

	FilesTotal     int
	FilesProcessed int
	FilesSkipped   int
	FilesWritten   int

	MergedPath string
	Indexes    *aggregate.Indexes
	Validation *aggregate.ValidationReport
	ReportPath string

	// Errors are the non-fatal per-file and per-artifact problems.
	Errors []*dedupe.FileError
}

// HasErrors returns true if any non-fatal error occurred.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Summary returns a human-readable summary.
func (r *Result) Summary() string {
	return fmt.Sprintf(
		"Rules: %d total, %d after dedupe, %d duplicates | Files: %d processed, %d skipped | Duration: %s",
		r.Stats.Seen, r.Stats.Kept, r.Stats.Duplicates,
		r.FilesProcessed, r.FilesSkipped,
		r.Duration.Round(time.Millisecond),
	)
}

// Run performs one dedup pass over files. No input files and an output root
// that cannot be created are fatal and reported before any processing. A
// cancelled context stops dispatching files; the partial result is returned
// together with ctx.Err() and the run-wide artifacts are not written.
func (e *Engine) Run(ctx context.Context, files []string) (*Result, error) {
	if len(files) == 0 {
		return nil, ErrNoInputFiles
	}
	if err := artifact.EnsureRoot(e.outputDir); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutputRoot, err)
	}

	start := e.now()
	reg := registry.New()
	d := dedupe.New(dedupe.Config{
		OutputDir: e.outputDir,
		Encodings: e.encodings,
		Registry:  reg,
		Writer:    e.writer,
		Logger:    e.logger,
	})

	result := &Result{
		StartedAt:  start,
		FilesTotal: len(files),
		Plan:       scheduler.NewPlan(len(files), e.workers),
	}

	e.logger.Info("starting dedup pass",
		slog.Int("files", len(files)),
		slog.Int("workers", result.Plan.Workers),
		slog.Int("files_per_shard", result.Plan.FilesPerShard),
		slog.Int("extra_files", result.Plan.Extra),
		slog.Bool("sequential", result.Plan.Sequential))

	var mu sync.Mutex
	runErr := scheduler.Run(ctx, files, e.workers, func(path string) {
		fr := d.ProcessFile(path)
		mu.Lock()
		defer mu.Unlock()
		result.FilesProcessed++
		if fr.Skipped {
			result.FilesSkipped++
		}
		if fr.WroteOutput {
			result.FilesWritten++
		}
		result.Errors = append(result.Errors, fr.Errors...)
	})

	result.Stats = reg.Stats()
	result.Duplicates = reg.Duplicates()
	result.Imports = reg.Imports()

	if runErr != nil {
		result.Duration = e.now().Sub(start)
		e.logger.Warn("dedup pass interrupted",
			slog.Int("processed", result.FilesProcessed),
			slog.Int("total", result.FilesTotal))
		return result, runErr
	}

	e.aggregate(ctx, reg, result)
	result.Duration = e.now().Sub(start)

	if e.store != nil {
		if err := e.record(reg, result); err != nil {
			e.logger.Warn("failed to record run", "error", err.Error())
		}
	}

	if e.reportPath != "" {
		if err := WriteReport(e.reportPath, result); err != nil {
			e.logger.Warn("failed to write report", "path", e.reportPath, "error", err.Error())
			result.Errors = append(result.Errors, &dedupe.FileError{Path: e.reportPath, Kind: dedupe.KindWrite, Err: err})
		} else {
			result.ReportPath = e.reportPath
		}
	}

	e.logger.Info("dedup pass complete",
		slog.Int("rules_seen", result.Stats.Seen),
		slog.Int("rules_kept", result.Stats.Kept),
		slog.Int("duplicates", result.Stats.Duplicates),
		slog.Int("files_skipped", result.FilesSkipped),
		slog.Duration("duration", result.Duration))

	return result, nil
}

func (e *Engine) aggregate(ctx context.Context, reg *registry.Registry, result *Result) {
	merged, err := aggregate.WriteMerged(e.outputDir, e.writer, result.Imports, reg.Kept())
	if err != nil {
		e.logger.Warn("failed to write merged rules", "error", err.Error())
		result.Errors = append(result.Errors, &dedupe.FileError{Path: e.outputDir, Kind: dedupe.KindWrite, Err: err})
	} else {
		result.MergedPath = merged
	}

	indexes, err := aggregate.WriteIndexes(e.outputDir, e.writer, e.extensions)
	if err != nil {
		e.logger.Warn("failed to build indexes", "error", err.Error())
		result.Errors = append(result.Errors, &dedupe.FileError{Path: e.outputDir, Kind: dedupe.KindWrite, Err: err})
		return
	}
	for _, ierr := range indexes.Errors {
		result.Errors = append(result.Errors, &dedupe.FileError{Path: indexes.Index, Kind: dedupe.KindWrite, Err: ierr})
	}
	result.Indexes = indexes

	if e.validator != nil {
		result.Validation = aggregate.Validate(ctx, e.validator, result.Imports, indexes.Files)
		for _, imp := range result.Validation.FailedImports() {
			e.logger.Warn("import does not resolve", "import", imp)
		}
		for _, issue := range result.Validation.Issues {
			e.logger.Warn("generated file does not compile", "path", issue.Path, "error", issue.Message)
		}
	}
}

func (e *Engine) record(reg *registry.Registry, result *Result) error {
	run := &state.Run{
		StartedAt:    result.StartedAt,
		FinishedAt:   result.StartedAt.Add(result.Duration),
		SourcePath:   e.sourcePath,
		OutputDir:    e.outputDir,
		Workers:      result.Plan.Workers,
		FilesTotal:   result.FilesTotal,
		FilesSkipped: result.FilesSkipped,
		Stats:        result.Stats,
		Declarations: state.DeclarationsFrom(reg),
		Imports:      result.Imports,
	}
	if err := e.store.RecordRun(run); err != nil {
		return err
	}
	result.RunID = run.ID
	return nil
}

// IsFatal reports whether err stopped a run before any file was processed.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNoInputFiles) || errors.Is(err, ErrOutputRoot)
}
