package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/yaradedupe/internal/aggregate"
	"github.com/leapstack-labs/yaradedupe/internal/extract"
)

func newFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.StringP("path", "p", "", "")
	flags.StringP("out", "o", "", "")
	flags.BoolP("threaded", "t", false, "")
	flags.IntP("workers", "w", 0, "")
	flags.BoolP("verbose", "v", false, "")
	flags.String("output", "", "")
	flags.StringSlice("encoding", nil, "")
	flags.String("state", "", "")
	flags.String("report", "", "")
	flags.Bool("validate", false, "")
	flags.Duration("debounce", 0, "")
	return flags
}

// chdir switches into dir for the duration of the test.
func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	chdir(t, t.TempDir())

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, DefaultOut, cfg.Out)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.False(t, cfg.Threaded)
	assert.Equal(t, DefaultOutput, cfg.OutputFormat)
	assert.Equal(t, DefaultEncodings, cfg.Encodings)
	assert.Equal(t, DefaultExtensions, cfg.Extensions)
	assert.Equal(t, DefaultDebounce, cfg.Watch.Debounce)
	assert.Empty(t, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_Precedence(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	chdir(t, dir)

	yamlContent := `path: rules
out: from-file
workers: 4
threaded: true
encodings: [utf-8, ascii]
validate:
  enabled: true
  yarac_path: /usr/bin/yarac
watch:
  debounce: 2s
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "yaradedupe.yaml"), []byte(yamlContent), 0o600))

	t.Setenv("YARADEDUPE_OUT", "from-env")
	t.Setenv("YARADEDUPE_WORKERS", "6")

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--workers", "8", "--report", "dups.yaml"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)

	assert.Equal(t, "yaradedupe.yaml", GetConfigFileUsed())
	assert.Equal(t, "rules", cfg.Path)
	assert.Equal(t, "from-env", cfg.Out)
	assert.Equal(t, 8, cfg.Workers)
	assert.True(t, cfg.Threaded)
	assert.Equal(t, []string{"utf-8", "ascii"}, cfg.Encodings)
	assert.Equal(t, "dups.yaml", cfg.ReportPath)
	assert.True(t, cfg.Validation.Enabled)
	assert.Equal(t, "/usr/bin/yarac", cfg.Validation.YaracPath)
	assert.Equal(t, 2*time.Second, cfg.Watch.Debounce)
	assert.Equal(t, 8, cfg.EffectiveWorkers())
}

func TestLoadConfig_EnvLists(t *testing.T) {
	ResetConfig()
	chdir(t, t.TempDir())

	t.Setenv("YARADEDUPE_ENCODINGS", "utf-8, cp1252")
	t.Setenv("YARADEDUPE_VALIDATE__ENABLED", "true")
	t.Setenv("YARADEDUPE_WATCH__DEBOUNCE", "250ms")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"utf-8", "cp1252"}, cfg.Encodings)
	assert.True(t, cfg.Validation.Enabled)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
}

func TestLoadConfig_FlagMapping(t *testing.T) {
	ResetConfig()
	chdir(t, t.TempDir())

	flags := newFlags()
	require.NoError(t, flags.Parse([]string{
		"-p", "/rules", "-t", "--state", "state.db", "--validate",
		"--encoding", "utf-8", "--encoding", "ascii", "--debounce", "1s",
	}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "/rules", cfg.Path)
	assert.True(t, cfg.Threaded)
	assert.Equal(t, "state.db", cfg.StatePath)
	assert.True(t, cfg.Validation.Enabled)
	assert.Equal(t, []string{"utf-8", "ascii"}, cfg.Encodings)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
}

func TestLoadConfig_ExplicitFileResolvesPath(t *testing.T) {
	ResetConfig()
	chdir(t, t.TempDir())

	cfgDir := t.TempDir()
	cfgFile := filepath.Join(cfgDir, "custom.yaml")
	require.NoError(t, os.WriteFile(cfgFile, []byte("path: rules\n"), 0o600))

	cfg, err := LoadConfig(cfgFile, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfgDir, "rules"), cfg.Path)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	ResetConfig()
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	ResetConfig()
	chdir(t, t.TempDir())

	t.Setenv("YARADEDUPE_ENCODINGS", "utf-8,klingon")
	_, err := LoadConfig("", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "klingon")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "valid", cfg: Config{OutputFormat: "json", Encodings: []string{"utf-8"}, Extensions: []string{".yar"}}},
		{name: "negative workers", cfg: Config{Workers: -1}, wantErr: "workers"},
		{name: "bad output", cfg: Config{OutputFormat: "markdown"}, wantErr: "output format"},
		{name: "bad extension", cfg: Config{Extensions: []string{"yar"}}, wantErr: "dot"},
		{name: "negative debounce", cfg: Config{Watch: WatchConfig{Debounce: -time.Second}}, wantErr: "debounce"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_ValidationSectionIsChecked(t *testing.T) {
	cfg := Config{
		OutputFormat: "text",
		Validation:   ValidateConfig{Enabled: true, YaracPath: "/opt/yara/bin/yarac"},
	}
	require.NoError(t, cfg.Validate())
	assert.True(t, cfg.Validation.Enabled)
	assert.Equal(t, "/opt/yara/bin/yarac", cfg.Validation.YaracPath)
}

func TestDefaults_FollowEnginePackages(t *testing.T) {
	assert.Equal(t, extract.DefaultEncodings, DefaultEncodings)
	assert.Equal(t, aggregate.DefaultExtensions, DefaultExtensions)
}

func TestConfig_ValidatePath(t *testing.T) {
	assert.Error(t, (&Config{}).ValidatePath())
	assert.Error(t, (&Config{Path: filepath.Join(t.TempDir(), "missing")}).ValidatePath())
	assert.NoError(t, (&Config{Path: t.TempDir()}).ValidatePath())
}

func TestConfig_EffectiveWorkers(t *testing.T) {
	assert.Equal(t, 1, (&Config{Workers: 10}).EffectiveWorkers())
	assert.Equal(t, 10, (&Config{Workers: 10, Threaded: true}).EffectiveWorkers())
	assert.Equal(t, 1, (&Config{Threaded: true}).EffectiveWorkers())
}

func TestGetLogger_Fallback(t *testing.T) {
	assert.NotNil(t, GetLogger(context.Background()))

	logger := NewLogger(os.Stderr, true)
	ctx := context.WithValue(context.Background(), LoggerKey(), logger)
	assert.Same(t, logger, GetLogger(ctx))
}
