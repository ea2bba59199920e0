package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/yaradedupe/internal/artifact"
	"github.com/leapstack-labs/yaradedupe/internal/registry"
	"github.com/leapstack-labs/yaradedupe/internal/testutil"
)

func fixedNow() time.Time {
	return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = testutil.NewTestLogger(t)
	}
	if cfg.Version == "" {
		cfg.Version = "test"
	}
	if cfg.Now == nil {
		cfg.Now = fixedNow
	}
	e, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNew_Defaults(t *testing.T) {
	e := newTestEngine(t, Config{OutputDir: t.TempDir()})
	assert.Equal(t, []string{".yar", ".yara"}, e.Extensions())
	assert.NotEmpty(t, e.encodings)
	assert.Nil(t, e.Store())
}

func TestNew_WithStateStore(t *testing.T) {
	e := newTestEngine(t, Config{
		OutputDir: t.TempDir(),
		StatePath: filepath.Join(t.TempDir(), "state.db"),
	})
	assert.NotNil(t, e.Store())
}

func TestRun_NoInputFiles(t *testing.T) {
	e := newTestEngine(t, Config{OutputDir: t.TempDir()})
	_, err := e.Run(context.Background(), nil)
	assert.ErrorIs(t, err, ErrNoInputFiles)
	assert.True(t, IsFatal(err))
}

func TestRun_OutputRootNotCreatable(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	e := newTestEngine(t, Config{OutputDir: filepath.Join(blocker, "out")})
	_, err := e.Run(context.Background(), []string{"a.yar"})
	assert.ErrorIs(t, err, ErrOutputRoot)
	assert.True(t, IsFatal(err))
}

func TestRun_Cancelled(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	files := testutil.WriteRuleFiles(t, src, map[string]string{
		"a/x.yar": "rule Foo { condition: true }",
	}, []string{"a/x.yar"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, Config{OutputDir: out})
	result, err := e.Run(ctx, files)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Zero(t, result.FilesProcessed)
	assert.NoFileExists(t, filepath.Join(out, artifact.DedupedDir, artifact.MergedFile))
}

func TestRun_WritesReportAndRecordsRun(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	files := testutil.WriteRuleFiles(t, src, map[string]string{
		"a/x.yar": "rule Foo { condition: true }",
		"b/y.yar": "rule Foo { condition: false }\nrule Bar { condition: true }",
	}, []string{"a/x.yar", "b/y.yar"})

	reportPath := filepath.Join(t.TempDir(), "report.yaml")
	e := newTestEngine(t, Config{
		SourcePath: src,
		OutputDir:  out,
		StatePath:  filepath.Join(t.TempDir(), "state.db"),
		ReportPath: reportPath,
	})

	result, err := e.Run(context.Background(), files)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RunID)
	assert.Equal(t, reportPath, result.ReportPath)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var report Report
	require.NoError(t, yaml.Unmarshal(data, &report))
	assert.Equal(t, result.RunID, report.RunID)
	assert.Equal(t, registry.Stats{Seen: 3, Kept: 2, Duplicates: 1}, report.Stats)
	assert.Equal(t, []registry.Duplicate{{Name: "Foo", Files: files}}, report.Duplicates)

	latest, err := e.Store().LatestRun()
	require.NoError(t, err)
	assert.Equal(t, result.RunID, latest.ID)
	assert.Equal(t, src, latest.SourcePath)

	dups, err := e.Store().DuplicatesForRun(latest.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Duplicates, dups)
}

type stubValidator struct{}

func (stubValidator) CompileCheck(_ context.Context, src string) error {
	if strings.Contains(src, "Bar") {
		return errors.New("undefined identifier")
	}
	return nil
}

func (stubValidator) ImportResolves(_ context.Context, imp string) bool {
	return imp == `import "pe"`
}

func TestRun_Validation(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	files := testutil.WriteRuleFiles(t, src, map[string]string{
		"a/x.yar": "import \"pe\"\nrule Foo { condition: true }",
		"b/y.yar": "import \"cuckoo\"\nrule Bar { condition: true }",
	}, []string{"a/x.yar", "b/y.yar"})

	e := newTestEngine(t, Config{OutputDir: out, Validator: stubValidator{}})
	result, err := e.Run(context.Background(), files)
	require.NoError(t, err)

	require.NotNil(t, result.Validation)
	assert.Equal(t, []string{`import "cuckoo"`}, result.Validation.FailedImports())
	assert.Equal(t, 2, result.Validation.Checked)
	require.Len(t, result.Validation.Issues, 1)
	assert.Equal(t, filepath.Join(out, artifact.DedupedDir, "b", "y.yar"), result.Validation.Issues[0].Path)
}

func TestResult_Summary(t *testing.T) {
	r := &Result{
		Stats:          registry.Stats{Seen: 10, Kept: 7, Duplicates: 3},
		FilesProcessed: 4,
		FilesSkipped:   1,
		Duration:       1234 * time.Millisecond,
	}
	assert.Equal(t, "Rules: 10 total, 7 after dedupe, 3 duplicates | Files: 4 processed, 1 skipped | Duration: 1.234s", r.Summary())
}

func keptNames(t *testing.T, out string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(out, artifact.DedupedDir, artifact.MergedFile))
	require.NoError(t, err)
	var names []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(line, "rule ") {
			names = append(names, strings.Fields(line)[1])
		}
	}
	sort.Strings(names)
	return names
}
