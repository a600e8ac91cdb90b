package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/quatton/qci/pkg/qapi/schemas"
	"github.com/quatton/qci/pkg/qrunner"
	"github.com/quatton/qci/pkg/qsdk"
	"github.com/spf13/cobra"
)

var runsStatus string

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect runs (local history, or the server's with --remote)",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs, oldest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		runs, err := listRuns(cmd.Context(), cfg, runsStatus)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTATUS\tPLATFORM\tCREATED\tERROR")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Name, r.Status, r.Platform, r.CreatedAt.Local().Format(time.DateTime), r.ErrorCode)
		}
		return w.Flush()
	},
}

var runsGetCmd = &cobra.Command{
	Use:   "get <run-id>",
	Short: "Print a run record as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		run, err := getRun(cmd.Context(), cfg, args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

var runsCancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Cancel a run on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		if !remote {
			return errors.New("local runs stop with their qcictl process; use --remote to cancel a server run")
		}
		client, err := qsdk.NewClientFromConfig(cfg)
		if err != nil {
			return err
		}
		if err := client.CancelRun(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("Run %s cancelled\n", args[0])
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <run-id>",
	Short: "Print the combined output of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		if remote {
			client, err := qsdk.NewClientFromConfig(cfg)
			if err != nil {
				return err
			}
			logs, err := client.GetLogs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Print(logs)
			return nil
		}

		run, err := localStore(cfg).Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		f, err := os.Open(run.LogsPath)
		if err != nil {
			return fmt.Errorf("failed to open logs: %w", err)
		}
		defer f.Close()
		_, err = io.Copy(os.Stdout, f)
		return err
	},
}

func localStore(cfg *qsdk.Config) *qrunner.FileStore {
	return qrunner.NewFileStore(filepath.Join(cfg.DataDir, "runs"))
}

func listRuns(ctx context.Context, cfg *qsdk.Config, status string) ([]schemas.RunResponse, error) {
	if remote {
		client, err := qsdk.NewClientFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		return client.ListRuns(ctx, status)
	}

	var filter *qrunner.RunStatus
	if status != "" {
		s := qrunner.RunStatus(strings.ToLower(status))
		filter = &s
	}
	runs, err := localStore(cfg).List(ctx, filter)
	if err != nil {
		return nil, err
	}
	out := make([]schemas.RunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, schemas.NewRunResponse(r))
	}
	return out, nil
}

func getRun(ctx context.Context, cfg *qsdk.Config, id string) (*schemas.RunResponse, error) {
	if remote {
		client, err := qsdk.NewClientFromConfig(cfg)
		if err != nil {
			return nil, err
		}
		return client.GetRun(ctx, id)
	}
	run, err := localStore(cfg).Get(ctx, id)
	if err != nil {
		return nil, err
	}
	resp := schemas.NewRunResponse(run)
	return &resp, nil
}

func init() {
	runsListCmd.Flags().StringVar(&runsStatus, "status", "", "Only runs with this status")
	runsCmd.AddCommand(runsListCmd, runsGetCmd, runsCancelCmd)
	rootCmd.AddCommand(runsCmd, logsCmd)
}
