package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quatton/qci/pkg/qapi/schemas"
	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qpipelines"
	"github.com/quatton/qci/pkg/qsdk"
	"github.com/spf13/cobra"
)

var (
	runPayload map[string]string
	runDetach  bool
)

var runCmd = &cobra.Command{
	Use:   "run <pipeline>",
	Short: "Run a named pipeline",
	Long: `Run a named pipeline as a manual event, regardless of the event types it
listens on. The exit code mirrors the run.

Examples:
  qcictl run unit
  qcictl run e2e-smoke --remote
  qcictl run nightly --remote --detach`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ev := manualEvent(args[0], runPayload)
		fillFromGit(&ev)
		if remote {
			return runRemote(ctx, cfg, args[0], ev)
		}
		return dispatchLocal(ctx, cfg, ev)
	},
}

func manualEvent(pipeline string, payload map[string]string) qevents.Event {
	p := map[string]string{}
	for k, v := range payload {
		p[k] = v
	}
	p[qpipelines.PayloadPipeline] = pipeline
	return qevents.Event{Type: qpipelines.TypeManual, Source: "cli", Payload: p}
}

func runRemote(ctx context.Context, cfg *qsdk.Config, pipeline string, ev qevents.Event) error {
	client, err := qsdk.NewClientFromConfig(cfg)
	if err != nil {
		return err
	}
	accepted, err := client.TriggerPipeline(ctx, pipeline, schemas.TriggerRequest{
		Project: ev.Project,
		Commit:  ev.Commit,
		Ref:     ev.Ref,
		Payload: runPayload,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Pipeline %s started (event %s)\n", pipeline, accepted.ID)
	if runDetach {
		return nil
	}

	runs, err := client.WaitEventRuns(ctx, accepted.ID, 1, time.Second)
	if err != nil {
		return err
	}
	return reportRemoteRuns(runs)
}

func init() {
	runCmd.Flags().StringToStringVar(&runPayload, "payload", nil, "Payload entries key=value, exposed as QCI_PAYLOAD_<KEY>")
	runCmd.Flags().BoolVar(&runDetach, "detach", false, "With --remote, return once the server accepted the run")
	rootCmd.AddCommand(runCmd)
}
