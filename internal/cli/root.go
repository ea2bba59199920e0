// Package cli provides the command-line interface for yaradedupe.
package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/yaradedupe/internal/cli/commands"
	"github.com/leapstack-labs/yaradedupe/internal/cli/config"
	"github.com/leapstack-labs/yaradedupe/internal/extract"
)

var cfgFile string

// Version is set at build time.
var Version = "0.1.0"

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "yaradedupe",
		Short: "yaradedupe - deduplicate YARA rules by name",
		Long: `yaradedupe scans a tree of YARA rule files and keeps exactly one rule per
rule name. It writes a deduplicated copy of every file, the commented-out rules
it found, a merged all_in_one.yar and include indexes, and reports which rule
names were declared in more than one file.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Skip config loading for help and completion commands
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.LoadConfig(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			logger := config.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
			cmd.SetContext(context.WithValue(cmd.Context(), config.LoggerKey(), logger))

			if cfg.Verbose {
				if configFile := config.GetConfigFileUsed(); configFile != "" {
					logger.Debug("using config file", "path", configFile)
				}
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	// Global persistent flags
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: ./yaradedupe.yaml)")
	flags.StringP("path", "p", "", "YARA rules path")
	flags.String("out", config.DefaultOut, "Output directory")
	flags.BoolP("threaded", "t", false, "Run multi-threaded")
	flags.IntP("workers", "w", config.DefaultWorkers, "Worker count when threaded")
	flags.BoolP("verbose", "v", false, "Verbose output")
	flags.StringP("output", "o", "", "Output format (auto|text|json)")
	flags.StringSlice("encoding", nil, "Encodings to try in order (default: "+strings.Join(extract.DefaultEncodings, ",")+")")
	flags.StringSlice("extension", nil, "Rule file extensions (default: .yar,.yara)")
	flags.String("state", "", "Path to the provenance state database (optional)")
	flags.String("report", "", "Write the duplicate report as YAML to this path")
	flags.Bool("validate", false, "Compile-check generated rules and imports with yarac")
	flags.String("yarac", "", "Path to the yarac binary (default: search PATH)")
	flags.Duration("debounce", config.DefaultDebounce, "Quiet period before a watch re-run")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"auto", "text", "json"}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("encoding", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return extract.DefaultEncodings, cobra.ShellCompDirectiveNoFileComp
	})

	runCmd := commands.NewRunCommand(Version)

	// Invoked bare with a path, the root command behaves like run.
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("path") {
			return cmd.Help()
		}
		return runCmd.RunE(cmd, args)
	}

	rootCmd.AddCommand(commands.NewVersionCommand(Version))
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(commands.NewWatchCommand(Version))
	rootCmd.AddCommand(commands.NewReportCommand(Version))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command with ctx.
func Execute(ctx context.Context) error {
	rootCmd := NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for yaradedupe.

To load completions:

Bash:
  $ source <(yaradedupe completion bash)

Zsh:
  $ yaradedupe completion zsh > "${fpath[1]}/_yaradedupe"

Fish:
  $ yaradedupe completion fish | source

PowerShell:
  PS> yaradedupe completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(out)
			case "zsh":
				return cmd.Root().GenZshCompletion(out)
			case "fish":
				return cmd.Root().GenFishCompletion(out, true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(out)
			}
			return nil
		},
	}
	return cmd
}
