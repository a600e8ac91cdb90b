package qrunner

import (
	"context"
	"testing"
	"time"

	"github.com/quatton/qci/pkg/qerr"
	"github.com/quatton/qci/pkg/qjob"
)

func TestDockerResources(t *testing.T) {
	res, err := dockerResources(ResourceRequirements{
		CPULimit:      "1500m",
		MemoryLimit:   "512Mi",
		MemoryRequest: "128Mi",
	})
	if err != nil {
		t.Fatalf("dockerResources failed: %v", err)
	}
	if res.NanoCPUs != 1_500_000_000 {
		t.Errorf("expected 1.5 CPUs, got %d nanocpus", res.NanoCPUs)
	}
	if res.Memory != 512*1024*1024 || res.MemoryReservation != 128*1024*1024 {
		t.Errorf("unexpected memory: %d / %d", res.Memory, res.MemoryReservation)
	}

	if _, err := dockerResources(ResourceRequirements{CPULimit: "lots"}); err == nil {
		t.Error("expected error for invalid quantity")
	}
}

// TestDockerPlatform_Run needs a Docker daemon and pulls alpine.
func TestDockerPlatform_Run(t *testing.T) {
	platform, err := NewDockerPlatform(DefaultContainerConfig())
	if err != nil {
		t.Skipf("docker client unavailable: %v", err)
	}
	defer platform.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := platform.Ping(ctx); err != nil {
		t.Skipf("Requires Docker daemon: %v", err)
	}

	runner := newTestRunner(t, platform)
	spec := qjob.NewBuilder("docker").Image("alpine:3.20").Shell("sh").
		Tasks("mkdir -p src && cd src", `test "$(pwd)" = /workspace/src`, "exit 7").MustBuild()

	run, err := runner.Run(ctx, spec)
	tf, ok := qerr.AsTaskFailed(err)
	if !ok || tf.Index != 2 || tf.ExitCode != 7 {
		t.Fatalf("expected TaskFailed{2, exit 7}, got %v", err)
	}
	if run.Platform != "docker" {
		t.Errorf("expected platform docker, got %s", run.Platform)
	}
}
