package cmd

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/quatton/qci/pkg/qlog"
	"github.com/quatton/qci/pkg/qsdk"
	"github.com/spf13/cobra"
)

type contextKey string

const configContextKey contextKey = "qciconfig"

var (
	cfgFile string
	verbose bool
	quiet   bool
	remote  bool

	logger = qlog.NewDefault()

	rootCmd = &cobra.Command{
		Use:   "qcictl",
		Short: "Run qci pipelines locally or on a qci server",
		Long: `qcictl runs task sequences: named pipelines, events that start the
pipelines bound to them, or ad-hoc task lists. Without --remote everything
executes on this machine using the configured platform (local, docker or
k8s); with --remote the command is sent to the qci server at --base-url.

The exit code mirrors the run: a failing task's exit code, 124 for a
timeout, 130 when cancelled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case verbose:
				logger = qlog.NewVerbose()
			case quiet:
				logger = qlog.NewQuiet()
			}

			cfg, err := qsdk.LoadConfig(cfgFile)
			if err != nil {
				return err
			}
			applyFlags(cmd, cfg)

			ctx := context.WithValue(cmd.Context(), configContextKey, cfg)
			cmd.SetContext(ctx)
			return nil
		},
	}
)

// applyFlags lets explicit flags win over files and environment.
func applyFlags(cmd *cobra.Command, cfg *qsdk.Config) {
	flags := cmd.Flags()
	if f := flags.Lookup("base-url"); f != nil && f.Changed {
		cfg.BaseURL = strings.TrimRight(f.Value.String(), "/")
	}
	if f := flags.Lookup("platform"); f != nil && f.Changed {
		cfg.Platform = f.Value.String()
	}
	if f := flags.Lookup("token"); f != nil && f.Changed {
		cfg.Token = f.Value.String()
	}
	if f := flags.Lookup("pipelines"); f != nil && f.Changed {
		files, _ := flags.GetStringSlice("pipelines")
		cfg.Pipelines = files
	}
}

// GetConfig retrieves the Config from the command context
func GetConfig(cmd *cobra.Command) (*qsdk.Config, error) {
	cfg, ok := cmd.Context().Value(configContextKey).(*qsdk.Config)
	if !ok {
		return nil, errors.New("no config in context")
	}
	return cfg, nil
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(reportError(err))
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (YAML). Searches: qci.yaml, .qci/config.yaml")
	flags.String("base-url", "", "Base URL of the qci server (overrides config)")
	flags.String("token", "", "API token (overrides QCI_TOKEN and the keyring)")
	flags.String("platform", "", "Execution platform for local runs: local, docker or k8s")
	flags.StringSlice("pipelines", nil, "Pipeline definition files layered over the built-in set")
	flags.BoolVar(&remote, "remote", false, "Send the command to the qci server instead of running locally")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Debug logging")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Only log warnings and errors")
}
