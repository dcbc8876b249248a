// comfyrun fills workflow placeholders and runs them on a remote ComfyUI
// service.
//
// Usage:
//
//	comfyrun run <workflow.json> [--set NAME=value]... [--override node.field=value]... [--seed N] [--out DIR]
//	comfyrun tokens <workflow.json>
//	comfyrun list [--dir DIR]
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"comfyrun/internal/config"
	"comfyrun/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

type globalFlags struct {
	envFile    string
	configFile string
	logLevel   string
}

// app carries what every subcommand needs once flags are parsed.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
}

func newRootCmd() *cobra.Command {
	var flags globalFlags
	a := &app{}

	root := &cobra.Command{
		Use:           "comfyrun",
		Short:         "Run parameterized ComfyUI workflows",
		Long:          "comfyrun substitutes %%NAME%% placeholders in a workflow graph,\nsubmits it to a ComfyUI service and downloads what it produced.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFile(flags.envFile); err != nil {
				return fmt.Errorf("load env file: %w", err)
			}
			cfg, err := config.LoadConfig(flags.configFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			level := cfg.Log.Level
			if flags.logLevel != "" {
				level = flags.logLevel
			}
			a.cfg = cfg
			a.logger = logging.New(level, cfg.Log.Format, cmd.ErrOrStderr())
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.envFile, "env", "", "Path to .env file (default ./.env when present)")
	pf.StringVar(&flags.configFile, "config", "", "Path to config.yaml")
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newTokensCmd(a))
	root.AddCommand(newListCmd(a))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
