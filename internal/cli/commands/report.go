package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/yaradedupe/internal/cli/output"
	"github.com/leapstack-labs/yaradedupe/internal/registry"
	"github.com/leapstack-labs/yaradedupe/internal/state"
)

// NewReportCommand creates the report command.
func NewReportCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the duplicate report of the last recorded run",
		Long: `Read the most recent run from the state database (--state) and print
its counters and the rules that were declared in more than one file.`,
		Example: `  yaradedupe report --state .yaradedupe/state.db`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runReport(cmd, version)
		},
	}
}

// reportOutput is the JSON shape of the report command.
type reportOutput struct {
	RunID      string               `json:"run_id"`
	StartedAt  string               `json:"started_at"`
	SourcePath string               `json:"source_path"`
	OutputDir  string               `json:"output_dir"`
	Stats      registry.Stats       `json:"stats"`
	Duplicates []registry.Duplicate `json:"duplicates"`
	Imports    []string             `json:"imports"`
}

func runReport(cmd *cobra.Command, version string) error {
	cc := NewCommandContext(cmd, version)
	if cc.Cfg.StatePath == "" {
		return fmt.Errorf("no state database configured\nHint: pass --state or set state_path")
	}

	store := state.NewSQLiteStore(cc.Logger)
	if err := store.Open(cc.Cfg.StatePath); err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	return renderReport(cc.Renderer, store)
}

func renderReport(r *output.Renderer, store state.Store) error {
	run, err := store.LatestRun()
	if errors.Is(err, state.ErrNoRuns) {
		r.Warning("no runs recorded yet")
		return nil
	}
	if err != nil {
		return err
	}

	dups, err := store.DuplicatesForRun(run.ID)
	if err != nil {
		return err
	}
	imports, err := store.Imports(run.ID)
	if err != nil {
		return err
	}

	if r.EffectiveMode() == output.ModeJSON {
		if dups == nil {
			dups = []registry.Duplicate{}
		}
		return r.JSON(reportOutput{
			RunID:      run.ID,
			StartedAt:  run.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
			SourcePath: run.SourcePath,
			OutputDir:  run.OutputDir,
			Stats:      run.Stats,
			Duplicates: dups,
			Imports:    imports,
		})
	}

	r.Header("last run")
	r.KeyValue("Run ID", run.ID)
	r.KeyValue("Started", run.StartedAt.Local().Format("Jan 02, 2006 03:04:05 PM MST"))
	r.KeyValue("Duration", run.Duration())
	r.KeyValue("Rules path", run.SourcePath)
	r.KeyValue("Output", run.OutputDir)
	r.KeyValue("Workers", run.Workers)
	r.KeyValue("Total rules", run.Stats.Seen)
	r.KeyValue("Rules after dedupe", run.Stats.Kept)
	r.KeyValue("Duplicate rules", run.Stats.Duplicates)
	r.KeyValue("Imports", len(imports))

	if len(dups) == 0 {
		r.Println()
		r.Success("no duplicate rules")
		return nil
	}
	r.Section("duplicate rules")
	renderDuplicates(r, dups)
	return nil
}
