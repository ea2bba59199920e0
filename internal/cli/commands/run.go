package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/yaradedupe/internal/aggregate"
	"github.com/leapstack-labs/yaradedupe/internal/cli/output"
	"github.com/leapstack-labs/yaradedupe/internal/engine"
	"github.com/leapstack-labs/yaradedupe/internal/registry"
)

// NewRunCommand creates the run command.
func NewRunCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Deduplicate rules by name",
		Long: `Scan the rules path for rule files, keep the first rule declared under
each name and write the deduplicated tree, the merged all_in_one.yar and the
include indexes below the output directory.`,
		Example: `  # Deduplicate sequentially
  yaradedupe run --path ./rules --out ./yara_new

  # Use 8 workers and export the duplicate report
  yaradedupe run -p ./rules -t -w 8 --report duplicates.yaml`,
		Aliases: []string{"dedupe"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, version)
		},
	}
}

func runRun(cmd *cobra.Command, version string) error {
	cc := NewCommandContext(cmd, version)
	if err := cc.Cfg.ValidatePath(); err != nil {
		return err
	}

	eng, err := cc.createEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	result, err := runPass(cmd.Context(), cc, eng)
	if err != nil {
		return err
	}
	return renderResult(cc.Renderer, result)
}

// runPass discovers the input files and runs one dedup pass.
func runPass(ctx context.Context, cc *CommandContext, eng *engine.Engine) (*engine.Result, error) {
	files, err := eng.Discover(cc.Cfg.Path)
	if err != nil {
		return nil, err
	}
	cc.Logger.Info("discovered rule files", "files", len(files), "dirs", countDirs(files), "path", cc.Cfg.Path)

	result, err := eng.Run(ctx, files)
	if err != nil {
		if engine.IsFatal(err) {
			return nil, fmt.Errorf("%w in %s", err, cc.Cfg.Path)
		}
		return result, err
	}
	return result, nil
}

func countDirs(files []string) int {
	dirs := make(map[string]struct{})
	for _, f := range files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	return len(dirs)
}

// runOutput is the JSON shape of a dedup pass.
type runOutput struct {
	RunID      string                      `json:"run_id,omitempty"`
	Stats      registry.Stats              `json:"stats"`
	Files      fileCounts                  `json:"files"`
	Duplicates []registry.Duplicate        `json:"duplicates"`
	Imports    []string                    `json:"imports"`
	Merged     string                      `json:"merged,omitempty"`
	Index      string                      `json:"index,omitempty"`
	Report     string                      `json:"report,omitempty"`
	Validation *aggregate.ValidationReport `json:"validation,omitempty"`
	Errors     []string                    `json:"errors,omitempty"`
	DurationMS int64                       `json:"duration_ms"`
}

type fileCounts struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Written   int `json:"written"`
}

func renderResult(r *output.Renderer, result *engine.Result) error {
	if r.EffectiveMode() == output.ModeJSON {
		out := runOutput{
			RunID:      result.RunID,
			Stats:      result.Stats,
			Files:      fileCounts{result.FilesTotal, result.FilesProcessed, result.FilesSkipped, result.FilesWritten},
			Duplicates: result.Duplicates,
			Imports:    result.Imports,
			Merged:     result.MergedPath,
			Report:     result.ReportPath,
			Validation: result.Validation,
			DurationMS: result.Duration.Milliseconds(),
		}
		if out.Duplicates == nil {
			out.Duplicates = []registry.Duplicate{}
		}
		if result.Indexes != nil {
			out.Index = result.Indexes.Index
		}
		for _, e := range result.Errors {
			out.Errors = append(out.Errors, e.Error())
		}
		return r.JSON(out)
	}

	styles := r.Styles()

	if len(result.Duplicates) > 0 {
		r.Section("duplicate rules")
		renderDuplicates(r, result.Duplicates)
	}

	if v := result.Validation; v != nil {
		r.Section("validation")
		for _, imp := range v.Imports {
			icon := styles.StatusSuccess.String()
			if !imp.OK {
				icon = styles.StatusFailed.String()
			}
			r.Printf("  %s %s\n", icon, imp.Import)
		}
		for _, issue := range v.Issues {
			r.Printf("  %s %s\n", styles.StatusFailed.String(), styles.Path.Render(issue.Path))
			r.Println(styles.Muted.Render("      " + issue.Message))
		}
		r.KeyValue("Files checked", v.Checked)
	}

	r.Section("summary")
	r.KeyValue("Total rules", result.Stats.Seen)
	r.KeyValue("Rules after dedupe", result.Stats.Kept)
	r.KeyValue("Duplicate rules", result.Stats.Duplicates)
	r.KeyValue("Files processed", result.FilesProcessed)
	r.KeyValue("Files skipped", result.FilesSkipped)
	if result.MergedPath != "" {
		r.KeyValue("Merged rules", result.MergedPath)
	}
	if result.Indexes != nil {
		r.KeyValue("Index", result.Indexes.Index)
	}
	if result.ReportPath != "" {
		r.KeyValue("Report", result.ReportPath)
	}
	if result.RunID != "" {
		r.KeyValue("Run ID", result.RunID)
	}
	r.KeyValue("Duration", result.Duration.Round(time.Millisecond))

	for _, e := range result.Errors {
		r.Warning(e.Error())
	}

	r.Println()
	r.Success(fmt.Sprintf("%d rules kept, %d duplicates removed", result.Stats.Kept, result.Stats.Duplicates))
	return nil
}

func renderDuplicates(r *output.Renderer, dups []registry.Duplicate) {
	sorted := append([]registry.Duplicate(nil), dups...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	rows := make([][]string, 0, len(sorted))
	for _, d := range sorted {
		rows = append(rows, []string{d.Name, fmt.Sprintf("%d", len(d.Files)), d.Files[0], strings.Join(d.Files[1:], "\n")})
	}
	r.Table([]string{"Rule", "Count", "Kept From", "Also Declared In"}, rows)
}
