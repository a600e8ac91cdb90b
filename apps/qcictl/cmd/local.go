package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qpipelines"
	"github.com/quatton/qci/pkg/qrunner"
	"github.com/quatton/qci/pkg/qsdk"
)

// localRuntime executes pipelines in this process. Task output streams to
// stdout; run records land in the data directory.
type localRuntime struct {
	Runner     *qrunner.Runner
	Dispatcher *qevents.Dispatcher
	Pipelines  *qpipelines.Registrar

	platform qrunner.Platform
}

func newLocalRuntime(cfg *qsdk.Config, out io.Writer) (*localRuntime, error) {
	dataDir, err := filepath.Abs(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolving data dir: %w", err)
	}

	platform, err := newPlatform(cfg, dataDir)
	if err != nil {
		return nil, err
	}

	runner := qrunner.NewRunner(platform,
		qrunner.WithDataDir(dataDir),
		qrunner.WithStore(qrunner.NewFileStore(filepath.Join(dataDir, "runs"))),
		qrunner.WithOutput(out),
		qrunner.WithLogger(logger),
		qrunner.WithDefaultTimeout(cfg.DefaultTimeout),
	)

	set, err := qpipelines.Load(cfg.Pipelines...)
	if err != nil {
		closePlatform(platform)
		return nil, err
	}

	dispatcher := qevents.NewDispatcher(qevents.WithLogger(logger))
	registrar, err := qpipelines.Register(dispatcher, runner, set, qpipelines.WithLogger(logger))
	if err != nil {
		closePlatform(platform)
		return nil, err
	}

	return &localRuntime{
		Runner:     runner,
		Dispatcher: dispatcher,
		Pipelines:  registrar,
		platform:   platform,
	}, nil
}

// Close waits for in-flight handlers and releases the platform.
func (l *localRuntime) Close(ctx context.Context) error {
	err := l.Dispatcher.Close(ctx)
	closePlatform(l.platform)
	return err
}

func newPlatform(cfg *qsdk.Config, dataDir string) (qrunner.Platform, error) {
	switch cfg.Platform {
	case "", "local":
		workDir := filepath.Join(dataDir, "workspaces")
		if err := os.MkdirAll(workDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating workspace dir: %w", err)
		}
		return qrunner.NewLocalPlatform(qrunner.WithWorkDir(workDir)), nil
	case "docker":
		return qrunner.NewDockerPlatform(qrunner.DefaultContainerConfig())
	case "k8s":
		return qrunner.NewK8sPlatform(cfg.Kubeconfig, cfg.Namespace, qrunner.DefaultContainerConfig())
	}
	return nil, fmt.Errorf("unknown platform %q (want local, docker or k8s)", cfg.Platform)
}

func closePlatform(p qrunner.Platform) {
	if c, ok := p.(io.Closer); ok {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close platform", "error", err)
		}
	}
}
