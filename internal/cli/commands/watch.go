package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/yaradedupe/internal/watch"
)

// NewWatchCommand creates the watch command.
func NewWatchCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Re-run deduplication when rule files change",
		Long: `Run one dedup pass, then watch the rules path and start a fresh pass
after every debounced change to a rule file. Each pass starts from an empty
registry. Stop with Ctrl+C.`,
		Example: `  yaradedupe watch --path ./rules --debounce 1s`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWatch(cmd, version)
		},
	}
}

func runWatch(cmd *cobra.Command, version string) error {
	cc := NewCommandContext(cmd, version)
	if err := cc.Cfg.ValidatePath(); err != nil {
		return err
	}

	eng, err := cc.createEngine()
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()

	w, err := watch.New(watch.Config{
		Root:       cc.Cfg.Path,
		Exclude:    cc.Cfg.Out,
		Extensions: eng.Extensions(),
		Debounce:   cc.Cfg.Watch.Debounce,
		Logger:     cc.Logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = w.Close() }()

	pass := func(ctx context.Context) {
		result, err := runPass(ctx, cc, eng)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				cc.Renderer.Error(err.Error())
			}
			return
		}
		if err := renderResult(cc.Renderer, result); err != nil {
			cc.Renderer.Error(err.Error())
		}
	}

	ctx := cmd.Context()
	pass(ctx)
	cc.Renderer.Muted("Watching " + cc.Cfg.Path + " for changes. Press Ctrl+C to stop.")
	return w.Run(ctx, pass)
}
