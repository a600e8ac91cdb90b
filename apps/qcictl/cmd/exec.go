package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quatton/qci/pkg/qapi/schemas"
	"github.com/quatton/qci/pkg/qerr"
	"github.com/quatton/qci/pkg/qjob"
	"github.com/quatton/qci/pkg/qsdk"
	"github.com/spf13/cobra"
)

var (
	execFile    string
	execName    string
	execImage   string
	execShell   string
	execTimeout time.Duration
	execEnv     map[string]string
	execLabels  map[string]string
)

var execCmd = &cobra.Command{
	Use:   "exec [flags] [-- <task>...]",
	Short: "Run an ad-hoc list of tasks",
	Long: `Run tasks in order in one environment, stopping at the first failure.
Shell state (working directory, exported variables) carries over from one
task to the next. Tasks come from the arguments or from a JSON job file.

Examples:
  qcictl exec -- 'cd src' 'make' 'make test'
  qcictl exec --timeout 10m -f job.json
  qcictl exec --remote --image golang:1.24 -- 'go test ./...'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := GetConfig(cmd)
		if err != nil {
			return err
		}
		spec, err := buildExecSpec(cmd, cfg, args)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if remote {
			return execRemote(ctx, cfg, spec)
		}
		return execLocal(ctx, cfg, spec)
	},
}

// buildExecSpec reads the job file if given, then applies flags and
// arguments over it.
func buildExecSpec(cmd *cobra.Command, cfg *qsdk.Config, args []string) (qjob.JobSpec, error) {
	b := qjob.NewBuilder(execName)
	if execFile != "" {
		data, err := os.ReadFile(execFile)
		if err != nil {
			return qjob.JobSpec{}, fmt.Errorf("reading job file: %w", err)
		}
		base, err := qjob.Decode(data)
		if err != nil {
			return qjob.JobSpec{}, err
		}
		b = qjob.NewBuilder(base.Name()).
			Image(base.Image()).
			Shell(base.Shell()).
			Timeout(base.Timeout()).
			Tasks(base.Tasks()...).
			EnvMap(base.Env()).
			LabelMap(base.Labels())
	}

	flags := cmd.Flags()
	if flags.Changed("name") {
		b.Name(execName)
	}
	if flags.Changed("image") {
		b.Image(execImage)
	}
	if flags.Changed("shell") {
		b.Shell(execShell)
	}
	if flags.Changed("timeout") {
		b.Timeout(execTimeout)
	}
	b.EnvMap(cfg.Env).EnvMap(execEnv).LabelMap(execLabels).Tasks(args...)
	return b.Build()
}

func execLocal(ctx context.Context, cfg *qsdk.Config, spec qjob.JobSpec) error {
	rt, err := newLocalRuntime(cfg, os.Stdout)
	if err != nil {
		return err
	}
	defer rt.Close(context.WithoutCancel(ctx))

	run, err := rt.Runner.Run(ctx, spec)
	if run != nil {
		logger.Debug("run finished", "id", run.ID, "status", run.Status, "logs", run.LogsPath)
	}
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf("✓ %d task(s) succeeded", spec.Len()))
	return nil
}

func execRemote(ctx context.Context, cfg *qsdk.Config, spec qjob.JobSpec) error {
	client, err := qsdk.NewClientFromConfig(cfg)
	if err != nil {
		return err
	}
	run, err := client.SubmitRun(ctx, schemas.SubmitRunRequest{
		Name:           spec.Name(),
		Image:          spec.Image(),
		Shell:          spec.Shell(),
		TimeoutSeconds: int64(spec.Timeout() / time.Second),
		Tasks:          spec.Tasks(),
		Env:            spec.Env(),
		Labels:         spec.Labels(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("Run %s submitted\n", run.ID)

	final, err := client.WaitRun(ctx, run.ID, time.Second)
	if err != nil {
		if ctx.Err() != nil {
			// interrupted: stop the remote run too
			if cerr := client.CancelRun(context.WithoutCancel(ctx), run.ID); cerr != nil {
				logger.Warn("failed to cancel remote run", "id", run.ID, "error", cerr)
			}
			return qerr.Errorf(qerr.CodeCancelled, "run %s cancelled", run.ID)
		}
		return err
	}
	if logs, err := client.GetLogs(ctx, run.ID); err == nil {
		fmt.Print(logs)
	}
	return reportRemoteRuns([]schemas.RunResponse{*final})
}

func init() {
	flags := execCmd.Flags()
	flags.StringVarP(&execFile, "file", "f", "", "JSON job file")
	flags.StringVar(&execName, "name", "", "Job name")
	flags.StringVar(&execImage, "image", qjob.DefaultImage, "Container image (docker and k8s platforms)")
	flags.StringVar(&execShell, "shell", qjob.DefaultShell, "Shell each task runs in")
	flags.DurationVar(&execTimeout, "timeout", 0, "Whole-run timeout, 0 for the configured default")
	flags.StringToStringVarP(&execEnv, "env", "e", nil, "Environment variables KEY=VALUE")
	flags.StringToStringVar(&execLabels, "label", nil, "Labels key=value")
	rootCmd.AddCommand(execCmd)
}
