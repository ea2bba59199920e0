package state

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/yaradedupe/internal/registry"
)

// RecordRun stores the run, its declarations and its imports in one
// transaction. An empty run.ID is filled with a new UUID.
func (s *SQLiteStore) RecordRun(run *Run) (err error) {
	if s.db == nil {
		return fmt.Errorf("database not opened")
	}
	if run.ID == "" {
		run.ID = generateID()
	}

	s.logger.Debug("recording run",
		slog.String("id", run.ID),
		slog.Int("declarations", len(run.Declarations)),
		slog.Int("imports", len(run.Imports)))

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		`INSERT INTO runs (id, started_at, finished_at, source_path, output_dir, workers,
			files_total, files_skipped, rules_seen, rules_kept, duplicates)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.SourcePath, run.OutputDir, run.Workers,
		run.FilesTotal, run.FilesSkipped, run.Stats.Seen, run.Stats.Kept, run.Stats.Duplicates,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, d := range run.Declarations {
		if _, err = tx.Exec(
			`INSERT INTO declarations (run_id, name, ordinal, file, kept) VALUES (?, ?, ?, ?, ?)`,
			run.ID, d.Name, d.Ordinal, d.File, d.Kept,
		); err != nil {
			return fmt.Errorf("failed to insert declaration %s: %w", d.Name, err)
		}
	}

	for _, imp := range run.Imports {
		if _, err = tx.Exec(
			`INSERT OR IGNORE INTO run_imports (run_id, import) VALUES (?, ?)`,
			run.ID, imp,
		); err != nil {
			return fmt.Errorf("failed to insert import: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *SQLiteStore) LatestRun() (*Run, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	run := &Run{}
	var started, finished int64
	err := s.db.QueryRow(
		`SELECT id, started_at, finished_at, source_path, output_dir, workers,
			files_total, files_skipped, rules_seen, rules_kept, duplicates
		FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`,
	).Scan(&run.ID, &started, &finished, &run.SourcePath, &run.OutputDir, &run.Workers,
		&run.FilesTotal, &run.FilesSkipped, &run.Stats.Seen, &run.Stats.Kept, &run.Stats.Duplicates)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	run.StartedAt = time.UnixMilli(started).UTC()
	run.FinishedAt = time.UnixMilli(finished).UTC()
	return run, nil
}

// Declarations returns every declaration of a run ordered by name then ordinal.
func (s *SQLiteStore) Declarations(runID string) ([]Declaration, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT name, ordinal, file, kept FROM declarations WHERE run_id = ? ORDER BY name, ordinal`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query declarations: %w", err)
	}
	defer rows.Close()

	var out []Declaration
	for rows.Next() {
		var d Declaration
		if err := rows.Scan(&d.Name, &d.Ordinal, &d.File, &d.Kept); err != nil {
			return nil, fmt.Errorf("failed to scan declaration: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DuplicatesForRun returns the names a run saw in more than one declaration,
// sorted by name, each with its files in discovery order.
func (s *SQLiteStore) DuplicatesForRun(runID string) ([]registry.Duplicate, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(
		`SELECT d.name, d.file FROM declarations d
		WHERE d.run_id = ? AND d.name IN (
			SELECT name FROM declarations WHERE run_id = ? GROUP BY name HAVING COUNT(*) > 1
		)
		ORDER BY d.name, d.ordinal`,
		runID, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicates: %w", err)
	}
	defer rows.Close()

	var out []registry.Duplicate
	for rows.Next() {
		var name, file string
		if err := rows.Scan(&name, &file); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate: %w", err)
		}
		if n := len(out); n > 0 && out[n-1].Name == name {
			out[n-1].Files = append(out[n-1].Files, file)
			continue
		}
		out = append(out, registry.Duplicate{Name: name, Files: []string{file}})
	}
	return out, rows.Err()
}

// Imports returns the sorted imports recorded for a run.
func (s *SQLiteStore) Imports(runID string) ([]string, error) {
	if s.db == nil {
		return nil, fmt.Errorf("database not opened")
	}

	rows, err := s.db.Query(`SELECT import FROM run_imports WHERE run_id = ? ORDER BY import`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query imports: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var imp string
		if err := rows.Scan(&imp); err != nil {
			return nil, fmt.Errorf("failed to scan import: %w", err)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}
