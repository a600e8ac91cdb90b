package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/quatton/qci/apps/qcictl/internal/gitinfo"
	"github.com/quatton/qci/pkg/qapi/schemas"
	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qsdk"
	"github.com/spf13/cobra"
)

var (
	triggerID      string
	triggerCommit  string
	triggerRef     string
	triggerProject string
	triggerPayload map[string]string
	triggerWait    bool
)

var triggerCmd = &cobra.Command{
	Use:   "trigger <event-type>",
	Short: "Dispatch an event to the pipelines bound to it",
	Long: `Dispatch an event. Every pipeline listening on the event type runs.

Commit, ref and project default to the git repository in the working
directory.

Examples:
  # Run the push pipelines here
  qcictl trigger push

  # Send a pull_request event to the server and wait for the result
  qcictl trigger pull_request --remote --wait --payload number=42`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		ev := qevents.Event{
			ID:      triggerID,
			Type:    args[0],
			Source:  "cli",
			Project: triggerProject,
			Commit:  triggerCommit,
			Ref:     triggerRef,
			Payload: triggerPayload,
		}
		fillFromGit(&ev)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if remote {
			return triggerRemote(ctx, cfg, ev)
		}
		return dispatchLocal(ctx, cfg, ev)
	},
}

// fillFromGit completes unset commit, ref and project fields from the
// repository around the working directory.
func fillFromGit(ev *qevents.Event) {
	info, err := gitinfo.Detect(".")
	if err != nil {
		if !errors.Is(err, gitinfo.ErrNotRepository) {
			logger.Warn("failed to read git metadata", "error", err)
		}
		return
	}
	if ev.Commit == "" {
		ev.Commit = info.Commit
	}
	if ev.Ref == "" {
		ev.Ref = info.Ref
	}
	if ev.Project == "" {
		ev.Project = info.Project
	}
	if info.Dirty {
		logger.Warn("working tree has uncommitted changes", "commit", info.Commit)
	}
}

// dispatchLocal runs the bound pipelines in this process and returns once
// they all finished.
func dispatchLocal(ctx context.Context, cfg *qsdk.Config, ev qevents.Event) error {
	rt, err := newLocalRuntime(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	start := time.Now()
	err = rt.Dispatcher.Dispatch(ctx, ev)
	if err != nil {
		logger.Error(fmt.Sprintf("✗ %s failed after %s", ev.Type, time.Since(start).Round(time.Millisecond)))
		return err
	}
	logger.Info(fmt.Sprintf("✓ %s succeeded in %s", ev.Type, time.Since(start).Round(time.Millisecond)))
	return nil
}

func triggerRemote(ctx context.Context, cfg *qsdk.Config, ev qevents.Event) error {
	client, err := qsdk.NewClientFromConfig(cfg)
	if err != nil {
		return err
	}

	accepted, err := client.DispatchEvent(ctx, ev.Type, schemas.EventRequest{
		ID:      ev.ID,
		Source:  ev.Source,
		Project: ev.Project,
		Commit:  ev.Commit,
		Ref:     ev.Ref,
		Payload: ev.Payload,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Event %s accepted (%s)\n", accepted.ID, accepted.Type)
	if !triggerWait {
		return nil
	}

	pipelines, err := client.ListPipelines(ctx)
	if err != nil {
		return err
	}
	want := 0
	for _, p := range pipelines {
		if slices.Contains(p.On, ev.Type) {
			want++
		}
	}
	if want == 0 {
		return nil
	}

	runs, err := client.WaitEventRuns(ctx, accepted.ID, want, time.Second)
	if err != nil {
		return err
	}
	return reportRemoteRuns(runs)
}

// reportRemoteRuns prints one line per run and exits with the code of the
// first unsuccessful one.
func reportRemoteRuns(runs []schemas.RunResponse) error {
	code := 0
	for i := range runs {
		run := &runs[i]
		printRunLine(run)
		if c := remoteExitCode(run); c != 0 && code == 0 {
			code = c
		}
	}
	if code != 0 {
		return &runExit{code: code}
	}
	return nil
}

func printRunLine(run *schemas.RunResponse) {
	mark := "✓"
	if run.Status != "succeeded" {
		mark = "✗"
	}
	line := fmt.Sprintf("%s %s %s [%s]", mark, run.ID, run.Name, run.Status)
	if run.Error != "" {
		line += ": " + run.Error
	}
	fmt.Println(line)
}

func init() {
	triggerCmd.Flags().StringVar(&triggerID, "id", "", "Delivery ID; repeated IDs are rejected by the server")
	triggerCmd.Flags().StringVar(&triggerCommit, "commit", "", "Commit SHA (default: HEAD)")
	triggerCmd.Flags().StringVar(&triggerRef, "ref", "", "Branch or tag (default: current branch)")
	triggerCmd.Flags().StringVar(&triggerProject, "project", "", "Project (default: origin remote URL)")
	triggerCmd.Flags().StringToStringVar(&triggerPayload, "payload", nil, "Payload entries key=value, exposed as QCI_PAYLOAD_<KEY>")
	triggerCmd.Flags().BoolVar(&triggerWait, "wait", false, "With --remote, wait for the runs and mirror their result")
	rootCmd.AddCommand(triggerCmd)
}
