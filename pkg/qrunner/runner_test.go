package qrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quatton/qci/pkg/qart"
	"github.com/quatton/qci/pkg/qerr"
	"github.com/quatton/qci/pkg/qjob"
)

// fakePlatform interprets tasks instead of running a shell: "true" exits 0,
// "false" exits 1, "exit N" exits N, "sleep" blocks until cancelled,
// "linger" exits 0 just as it is cancelled and anything else prints itself
// and exits 0.
type fakePlatform struct {
	mu           sync.Mutex
	provisioned  int
	closed       int
	executed     []string
	provisionErr error
	execErr      error
}

func (p *fakePlatform) Name() string { return "fake" }

func (p *fakePlatform) Provision(ctx context.Context, req EnvironmentRequest) (Environment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.provisionErr != nil {
		return nil, p.provisionErr
	}
	p.provisioned++
	return &fakeEnvironment{platform: p}, nil
}

func (p *fakePlatform) snapshot() (provisioned, closed int, executed []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.provisioned, p.closed, append([]string(nil), p.executed...)
}

type fakeEnvironment struct {
	platform *fakePlatform
}

func (e *fakeEnvironment) StateDir() string { return "/state" }

func (e *fakeEnvironment) Exec(ctx context.Context, script string, stdout, stderr io.Writer) (int, error) {
	task := unwrapTask(script)

	e.platform.mu.Lock()
	e.platform.executed = append(e.platform.executed, task)
	execErr := e.platform.execErr
	e.platform.mu.Unlock()

	if execErr != nil {
		return -1, execErr
	}

	switch {
	case task == "true":
		return 0, nil
	case task == "false":
		return 1, nil
	case task == "sleep":
		<-ctx.Done()
		return -1, ctx.Err()
	case task == "linger":
		<-ctx.Done()
		return 0, nil
	case strings.HasPrefix(task, "exit "):
		var code int
		fmt.Sscanf(task, "exit %d", &code)
		return code, nil
	}
	fmt.Fprintln(stdout, task)
	return 0, nil
}

func (e *fakeEnvironment) Close(ctx context.Context) error {
	e.platform.mu.Lock()
	e.platform.closed++
	e.platform.mu.Unlock()
	return nil
}

// unwrapTask recovers the verbatim task line from a WrapTask script.
func unwrapTask(script string) string {
	lines := strings.Split(script, "\n")
	for i, line := range lines {
		if line == saveTrap && i+1 < len(lines) {
			return lines[i+1]
		}
	}
	return script
}

func newTestRunner(t *testing.T, platform Platform, opts ...Option) *Runner {
	t.Helper()
	opts = append([]Option{WithDataDir(t.TempDir())}, opts...)
	return NewRunner(platform, opts...)
}

func TestRunner_StopsAtFirstFailure(t *testing.T) {
	platform := &fakePlatform{}
	runner := newTestRunner(t, platform)

	spec := qjob.NewBuilder("failing").Tasks("true", "true", "false", "true").MustBuild()
	run, err := runner.Run(context.Background(), spec)

	tf, ok := qerr.AsTaskFailed(err)
	if !ok {
		t.Fatalf("expected TaskFailed, got %v", err)
	}
	if tf.Index != 2 || tf.Command != "false" || tf.ExitCode != 1 {
		t.Errorf("unexpected failure: %+v", tf)
	}

	_, closed, executed := platform.snapshot()
	if strings.Join(executed, ",") != "true,true,false" {
		t.Errorf("expected the 4th task not to run, executed %v", executed)
	}
	if closed != 1 {
		t.Errorf("expected environment to be closed once, got %d", closed)
	}

	if run.Status != RunStatusFailed {
		t.Errorf("expected status failed, got %s", run.Status)
	}
	if run.FailedTask == nil || *run.FailedTask != 2 {
		t.Errorf("expected failed task 2, got %v", run.FailedTask)
	}
	if run.ExitCode == nil || *run.ExitCode != 1 {
		t.Errorf("expected exit code 1, got %v", run.ExitCode)
	}
	if run.ErrorCode != string(qerr.CodeTaskFailed) {
		t.Errorf("expected error code task_failed, got %q", run.ErrorCode)
	}
	if len(run.Results) != 3 {
		t.Errorf("expected 3 task results, got %d", len(run.Results))
	}
}

func TestRunner_AllSucceed(t *testing.T) {
	platform := &fakePlatform{}
	runner := newTestRunner(t, platform)

	spec := qjob.NewBuilder("ok").Tasks("echo hi", "echo bye").MustBuild()
	run, err := runner.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	_, _, executed := platform.snapshot()
	if strings.Join(executed, "|") != "echo hi|echo bye" {
		t.Errorf("expected tasks in order once each, executed %v", executed)
	}
	if run.Status != RunStatusSucceeded {
		t.Errorf("expected status succeeded, got %s", run.Status)
	}
	if run.ExitCode == nil || *run.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %v", run.ExitCode)
	}

	logs, err := runner.GetLogs(context.Background(), run.ID)
	if err != nil {
		t.Fatalf("GetLogs failed: %v", err)
	}
	defer logs.Close()
	data, _ := io.ReadAll(logs)
	if !strings.Contains(string(data), "echo hi\n") || !strings.Contains(string(data), "[2/2] echo bye") {
		t.Errorf("unexpected log contents:\n%s", data)
	}
}

func TestRunner_InvalidSpecNeverProvisions(t *testing.T) {
	platform := &fakePlatform{}
	runner := newTestRunner(t, platform)

	run, err := runner.Run(context.Background(), qjob.JobSpec{})
	if !qerr.IsCode(err, qerr.CodeInvalidSpec) {
		t.Fatalf("expected invalid_spec, got %v", err)
	}
	if run != nil {
		t.Errorf("expected no run record, got %+v", run)
	}
	if provisioned, _, _ := platform.snapshot(); provisioned != 0 {
		t.Errorf("expected no environment, got %d", provisioned)
	}
}

func TestRunner_ProvisionFailure(t *testing.T) {
	cause := errors.New("image not found")
	platform := &fakePlatform{provisionErr: cause}
	runner := newTestRunner(t, platform)

	run, err := runner.Run(context.Background(), qjob.NewBuilder("x").Task("true").MustBuild())
	if !qerr.IsCode(err, qerr.CodePlatformError) {
		t.Fatalf("expected platform_error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("expected cause to be preserved, got %v", err)
	}
	if run.Status != RunStatusFailed {
		t.Errorf("expected status failed, got %s", run.Status)
	}
}

func TestRunner_ExecFailureIsPlatformError(t *testing.T) {
	platform := &fakePlatform{execErr: errors.New("connection reset")}
	runner := newTestRunner(t, platform)

	_, err := runner.Run(context.Background(), qjob.NewBuilder("x").Tasks("true", "true").MustBuild())
	if !qerr.IsCode(err, qerr.CodePlatformError) {
		t.Fatalf("expected platform_error, got %v", err)
	}
	if _, _, executed := platform.snapshot(); len(executed) != 1 {
		t.Errorf("expected one attempted task, got %v", executed)
	}
}

func TestRunner_Timeout(t *testing.T) {
	platform := &fakePlatform{}
	runner := newTestRunner(t, platform)

	spec := qjob.NewBuilder("slow").Timeout(50*time.Millisecond).Tasks("true", "sleep", "true").MustBuild()
	run, err := runner.Run(context.Background(), spec)
	if !qerr.IsCode(err, qerr.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if run.Status != RunStatusTimeout {
		t.Errorf("expected status timeout, got %s", run.Status)
	}
	if _, closed, executed := platform.snapshot(); len(executed) != 2 || closed != 1 {
		t.Errorf("expected 2 tasks and a closed environment, got %v closed=%d", executed, closed)
	}
}

func TestRunner_DefaultTimeout(t *testing.T) {
	runner := newTestRunner(t, &fakePlatform{}, WithDefaultTimeout(50*time.Millisecond))

	_, err := runner.Run(context.Background(), qjob.NewBuilder("slow").Task("sleep").MustBuild())
	if !qerr.IsCode(err, qerr.CodeTimeout) {
		t.Fatalf("expected timeout from runner default, got %v", err)
	}
}

func TestRunner_TaskFinishingAtDeadlineIsRecorded(t *testing.T) {
	platform := &fakePlatform{}
	runner := newTestRunner(t, platform, WithDefaultTimeout(50*time.Millisecond))

	run, err := runner.Run(context.Background(), qjob.NewBuilder("late").Tasks("linger", "true").MustBuild())
	if !qerr.IsCode(err, qerr.CodeTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	if len(run.Results) != 1 || run.Results[0].Index != 0 || run.Results[0].ExitCode != 0 {
		t.Errorf("expected the finished task to be recorded, got %v", run.Results)
	}
	if _, _, executed := platform.snapshot(); len(executed) != 1 {
		t.Errorf("the next task must not start after the deadline, executed %v", executed)
	}
}

func TestRunner_ParentCancelIsNotTimeout(t *testing.T) {
	runner := newTestRunner(t, &fakePlatform{})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	run, err := runner.Run(ctx, qjob.NewBuilder("slow").Timeout(time.Minute).Task("sleep").MustBuild())
	if !qerr.IsCode(err, qerr.CodeCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if run.Status != RunStatusCancelled {
		t.Errorf("expected status cancelled, got %s", run.Status)
	}
}

func TestRunner_SubmitWaitCancel(t *testing.T) {
	platform := &fakePlatform{}
	runner := newTestRunner(t, platform)
	ctx := context.Background()

	run, err := runner.Submit(ctx, qjob.NewBuilder("bg").Tasks("sleep", "true").MustBuild())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if run.Status != RunStatusPending {
		t.Errorf("expected status pending, got %s", run.Status)
	}

	if err := runner.Cancel(ctx, run.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	final, err := runner.Wait(waitCtx, run.ID)
	if err != nil {
		t.Fatalf("Wait failed: %v", err)
	}
	if final.Status != RunStatusCancelled {
		t.Errorf("expected status cancelled, got %s", final.Status)
	}
	if _, _, executed := platform.snapshot(); len(executed) > 1 {
		t.Errorf("no task may start after cancel, executed %v", executed)
	}

	if err := runner.Cancel(ctx, run.ID); !errors.Is(err, ErrRunFinished) {
		t.Errorf("expected already finished error, got %v", err)
	}
}

func TestRunner_ListRuns(t *testing.T) {
	runner := newTestRunner(t, &fakePlatform{})
	ctx := context.Background()

	if _, err := runner.Run(ctx, qjob.NewBuilder("a").Task("true").MustBuild()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	runner.Run(ctx, qjob.NewBuilder("b").Task("false").MustBuild())

	all, err := runner.ListRuns(ctx, nil)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(all) != 2 || all[0].Name != "a" || all[1].Name != "b" {
		t.Fatalf("expected runs a and b in order, got %d", len(all))
	}

	failed := RunStatusFailed
	only, err := runner.ListRuns(ctx, &failed)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(only) != 1 || only[0].Name != "b" {
		t.Errorf("expected only run b, got %v", only)
	}
}

func TestRunner_ArchivesOutput(t *testing.T) {
	store := qart.NewMemoryStore()
	runner := newTestRunner(t, &fakePlatform{}, WithArtifactStore(store))
	ctx := context.Background()

	run, err := runner.Run(ctx, qjob.NewBuilder("archived").Task("echo archived").MustBuild())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(run.Artifacts) != 2 {
		t.Fatalf("expected output.log and run.json, got %v", run.Artifacts)
	}

	list, _ := store.List(ctx, qart.RunPrefix(run.ID))
	if len(list) != 2 {
		t.Errorf("expected 2 archived objects, got %d", len(list))
	}

	rc, err := store.Download(ctx, qart.RunKey(run.ID, "output.log"))
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if !strings.Contains(string(data), "echo archived") {
		t.Errorf("archived log missing task output:\n%s", data)
	}
}

func TestRunner_ConcurrentRuns(t *testing.T) {
	platform := &fakePlatform{}
	runner := newTestRunner(t, platform)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := runner.Run(context.Background(), qjob.NewBuilder(fmt.Sprintf("job-%d", i)).Tasks("true", "true").MustBuild())
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("run failed: %v", err)
		}
	}
	if provisioned, closed, executed := platform.snapshot(); provisioned != 4 || closed != 4 || len(executed) != 8 {
		t.Errorf("unexpected counts: provisioned=%d closed=%d executed=%d", provisioned, closed, len(executed))
	}
}
