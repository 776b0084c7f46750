// Package cli provides the command-line interface for dfmigrate.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/leapstack-labs/dfmigrate/internal/cli/commands"
	"github.com/leapstack-labs/dfmigrate/internal/cli/config"
	"github.com/leapstack-labs/dfmigrate/internal/cli/output"
)

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// skipConfig lists commands that run without loading configuration.
var skipConfig = map[string]bool{
	"help":                          true,
	"version":                       true,
	"completion":                    true,
	cobra.ShellCompRequestCmd:       true,
	cobra.ShellCompNoDescRequestCmd: true,
}

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:   "dfmigrate",
		Short: "Migrate BigQuery query history to Dataform",
		Long: `dfmigrate turns a BigQuery project's table catalog and recent job
history into Dataform definitions.

Queries that repeatedly produced the same table are clustered by
similarity and collapsed into one canonical transformation. The
transformations of each project/location pair are assembled into a
dependency graph, checked for cycles, and written as actions.yaml,
workflow_settings.yaml and one SQL file per action.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if skipConfig[cmd.Name()] {
				return nil
			}

			cfg, used, err := config.Load(cfgFile, cmd.Flags())
			if err != nil {
				return err
			}

			logger := config.NewLogger(cmd.ErrOrStderr(), cfg.Verbose)
			if used != "" {
				logger.Debug("using config file", "path", used)
			}

			ctx := config.WithConfig(cmd.Context(), cfg)
			ctx = config.WithLogger(ctx, logger)
			cmd.SetContext(ctx)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ./dfmigrate.yaml)")
	pf.BoolP("verbose", "v", false, "Verbose output")
	pf.String("output-mode", "", "Output mode (auto|minimal|detailed|json)")
	pf.String("state", "", "Path to the run-history database")

	_ = rootCmd.RegisterFlagCompletionFunc("output-mode", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return output.Modes(), cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(commands.NewMigrateCommand())
	rootCmd.AddCommand(commands.NewPlanCommand())
	rootCmd.AddCommand(commands.NewHistoryCommand())
	rootCmd.AddCommand(commands.NewVersionCommand(Version, GitCommit, BuildDate))
	rootCmd.AddCommand(NewCompletionCommand())

	return rootCmd
}

// Execute runs the root command. Errors other than a run status are
// printed to stderr.
func Execute() error {
	rootCmd := NewRootCmd()
	err := rootCmd.Execute()
	var se *commands.StatusError
	if err != nil && !errors.As(err, &se) {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}

// ExitCode maps an Execute error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var se *commands.StatusError
	if errors.As(err, &se) {
		return se.ExitCode()
	}
	return 1
}

// NewCompletionCommand creates the completion command.
func NewCompletionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for dfmigrate.

Bash:
  $ source <(dfmigrate completion bash)

Zsh:
  $ dfmigrate completion zsh > "${fpath[1]}/_dfmigrate"

Fish:
  $ dfmigrate completion fish | source

PowerShell:
  PS> dfmigrate completion powershell | Out-String | Invoke-Expression
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
}
