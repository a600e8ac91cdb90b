package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "qciserver",
	Short: "qci server",
	Long: `qciserver accepts CI events over HTTP, runs the pipelines bound to them
and keeps the run history. Configuration comes from QCI_* environment
variables (or a .env file in development).`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
