// Package aggregate builds the run-wide artifacts once every shard has
// finished: the merged rule file, the include indexes and the optional
// validation report.
package aggregate

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/leapstack-labs/yaradedupe/internal/artifact"
	"github.com/leapstack-labs/yaradedupe/internal/registry"
	"github.com/leapstack-labs/yaradedupe/internal/validate"
)

// DefaultExtensions are the rule file extensions picked up by the index walk.
var DefaultExtensions = []string{".yar", ".yara"}

// MergedContent lays out the merged artifact: sorted imports, a blank line,
// then the provenance-annotated kept rules sorted by their annotated text.
func MergedContent(imports []string, kept []registry.KeptRule) string {
	imps := append([]string{}, imports...)
	sort.Strings(imps)

	rules := make([]string, len(kept))
	for i, k := range kept {
		rules[i] = k.Annotated()
	}
	sort.Strings(rules)

	return strings.Join(imps, "\n") + "\n\n" + strings.Join(rules, "\n\n")
}

// WriteMerged writes deduped_rules/all_in_one.yar and returns its path.
func WriteMerged(root string, w artifact.Writer, imports []string, kept []registry.KeptRule) (string, error) {
	path := filepath.Join(root, artifact.DedupedDir, artifact.MergedFile)
	if err := w.Write(path, MergedContent(imports, kept)); err != nil {
		return "", err
	}
	return path, nil
}

// Indexes describes the index files written by WriteIndexes.
type Indexes struct {
	// Files are the per-file artifacts listed in the global index, in walk order.
	Files []string
	// Index is the path of index.yar.
	Index string
	// Groups maps each <subdir>_index.yar path to the files it includes.
	Groups map[string][]string
	// Errors holds per-index write failures.
	Errors []error
}

// IndexEntries walks deduped_rules/ and returns every file below an
// immediate subdirectory whose extension is in exts, in walk order.
func IndexEntries(root string, exts []string) ([]string, error) {
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	tree := filepath.Join(root, artifact.DedupedDir)

	var files []string
	err := filepath.WalkDir(tree, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Files directly under the tree are generated artifacts, not per-file outputs.
		if filepath.Dir(path) == tree {
			return nil
		}
		if hasExtension(path, exts) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", tree, err)
	}
	return files, nil
}

// WriteIndexes writes index.yar and one <subdir>_index.yar per immediate
// subdirectory of deduped_rules/. A failed index write is recorded and the
// remaining indexes are still written.
func WriteIndexes(root string, w artifact.Writer, exts []string) (*Indexes, error) {
	files, err := IndexEntries(root, exts)
	if err != nil {
		return nil, err
	}

	tree := filepath.Join(root, artifact.DedupedDir)
	result := &Indexes{
		Files:  files,
		Index:  filepath.Join(tree, artifact.IndexFile),
		Groups: make(map[string][]string),
	}

	if err := w.Write(result.Index, includeLines(files)); err != nil {
		result.Errors = append(result.Errors, err)
	}

	var order []string
	for _, f := range files {
		sub := strings.SplitN(relOrSelf(tree, f), string(filepath.Separator), 2)[0]
		name := filepath.Join(tree, sub+artifact.IndexSuffix)
		if _, ok := result.Groups[name]; !ok {
			order = append(order, name)
		}
		result.Groups[name] = append(result.Groups[name], f)
	}
	for _, name := range order {
		if err := w.Write(name, includeLines(result.Groups[name])); err != nil {
			result.Errors = append(result.Errors, err)
		}
	}
	return result, nil
}

func includeLines(files []string) string {
	lines := make([]string, len(files))
	for i, f := range files {
		lines[i] = fmt.Sprintf("include %q", filepath.ToSlash(f))
	}
	return strings.Join(lines, "\n")
}

func relOrSelf(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}

func hasExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// ImportCheck is the outcome of resolving one import.
type ImportCheck struct {
	Import string `json:"import" yaml:"import"`
	OK     bool   `json:"ok" yaml:"ok"`
}

// ValidationIssue is a generated file that failed to compile.
type ValidationIssue struct {
	Path    string `json:"path" yaml:"path"`
	Message string `json:"message" yaml:"message"`
}

// ValidationReport collects import and compile results. It is never fatal.
type ValidationReport struct {
	Imports []ImportCheck     `json:"imports,omitempty" yaml:"imports,omitempty"`
	Issues  []ValidationIssue `json:"issues,omitempty" yaml:"issues,omitempty"`
	Checked int               `json:"checked" yaml:"checked"`
}

// FailedImports returns the imports that did not resolve.
func (r *ValidationReport) FailedImports() []string {
	var failed []string
	for _, c := range r.Imports {
		if !c.OK {
			failed = append(failed, c.Import)
		}
	}
	return failed
}

// Validate resolves each distinct import once and compile-checks each file.
// A nil validator skips validation and returns nil.
func Validate(ctx context.Context, v validate.Validator, imports, files []string) *ValidationReport {
	if v == nil {
		return nil
	}
	report := &ValidationReport{}

	seen := make(map[string]struct{}, len(imports))
	for _, imp := range imports {
		if _, dup := seen[imp]; dup {
			continue
		}
		seen[imp] = struct{}{}
		if ctx.Err() != nil {
			return report
		}
		report.Imports = append(report.Imports, ImportCheck{Import: imp, OK: v.ImportResolves(ctx, imp)})
	}

	for _, f := range files {
		if ctx.Err() != nil {
			return report
		}
		report.Checked++
		src, err := os.ReadFile(f)
		if err != nil {
			report.Issues = append(report.Issues, ValidationIssue{Path: f, Message: err.Error()})
			continue
		}
		if err := v.CompileCheck(ctx, string(src)); err != nil {
			report.Issues = append(report.Issues, ValidationIssue{Path: f, Message: err.Error()})
		}
	}
	return report
}
