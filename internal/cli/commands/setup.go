package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/yaradedupe/internal/cli/config"
	"github.com/leapstack-labs/yaradedupe/internal/cli/output"
	"github.com/leapstack-labs/yaradedupe/internal/engine"
	"github.com/leapstack-labs/yaradedupe/internal/validate"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg      *config.Config
	Logger   *slog.Logger
	Renderer *output.Renderer
	Version  string
}

// NewCommandContext builds a CommandContext from the loaded configuration.
func NewCommandContext(cmd *cobra.Command, version string) *CommandContext {
	cfg := getConfig()
	logger := config.GetLogger(cmd.Context())
	r := output.NewRenderer(cmd.OutOrStdout(), cmd.ErrOrStderr(), output.Mode(cfg.OutputFormat))

	return &CommandContext{
		Cfg:      cfg,
		Logger:   logger,
		Renderer: r,
		Version:  version,
	}
}

// getConfig returns the current configuration, or defaults when none was loaded.
func getConfig() *config.Config {
	if cfg := config.GetCurrentConfig(); cfg != nil {
		return cfg
	}
	return &config.Config{
		Out:          config.DefaultOut,
		Workers:      config.DefaultWorkers,
		OutputFormat: config.DefaultOutput,
		Encodings:    config.DefaultEncodings,
		Extensions:   config.DefaultExtensions,
		Watch:        config.WatchConfig{Debounce: config.DefaultDebounce},
	}
}

// createEngine builds an engine from the configuration. A configured but
// missing compiler only disables validation.
func (c *CommandContext) createEngine() (*engine.Engine, error) {
	var validator validate.Validator
	if c.Cfg.Validation.Enabled {
		y, err := validate.Detect(c.Cfg.Validation.YaracPath)
		if err != nil {
			c.Logger.Warn("rule compiler unavailable, skipping validation", "error", err.Error())
		} else {
			c.Logger.Debug("validating with compiler", "path", y.Path())
			validator = y
		}
	}

	return engine.New(engine.Config{
		SourcePath: c.Cfg.Path,
		OutputDir:  c.Cfg.Out,
		Workers:    c.Cfg.EffectiveWorkers(),
		Encodings:  c.Cfg.Encodings,
		Extensions: c.Cfg.Extensions,
		StatePath:  c.Cfg.StatePath,
		ReportPath: c.Cfg.ReportPath,
		Validator:  validator,
		Version:    c.Version,
		Logger:     c.Logger,
	})
}
