package qrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const runIDLabel = "qci.dev/run-id"

// DockerPlatform runs every job in a fresh container. The container idles
// on "tail -f /dev/null" and each task is a separate exec with the job's
// shell.
type DockerPlatform struct {
	client *client.Client
	config ContainerConfig
}

// NewDockerPlatform connects using the standard DOCKER_* environment.
func NewDockerPlatform(config ContainerConfig) (*DockerPlatform, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerPlatform{client: cli, config: config}, nil
}

func (p *DockerPlatform) Name() string { return "docker" }

// Close releases the daemon connection.
func (p *DockerPlatform) Close() error {
	return p.client.Close()
}

func (p *DockerPlatform) Provision(ctx context.Context, req EnvironmentRequest) (Environment, error) {
	if err := p.ensureImage(ctx, req.Image); err != nil {
		return nil, err
	}

	hostConfig, err := p.hostConfig()
	if err != nil {
		return nil, err
	}

	workDir := p.workingDir()
	created, err := p.client.ContainerCreate(ctx, &container.Config{
		Image:      req.Image,
		Entrypoint: []string{"tail", "-f", "/dev/null"},
		WorkingDir: workDir,
		Env:        envList(req.Env),
		Labels: map[string]string{
			runIDLabel:    req.RunID,
			"qci.dev/job": req.Name,
		},
	}, hostConfig, nil, nil, "qci-"+req.RunID)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	env := &dockerEnvironment{
		client:  p.client,
		id:      created.ID,
		shell:   req.Shell,
		workDir: workDir,
		state:   "/tmp/qci-state-" + shortID(req.RunID),
	}
	if err := p.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		env.remove(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("failed to start container: %w", err)
	}
	return env, nil
}

func (p *DockerPlatform) ensureImage(ctx context.Context, ref string) error {
	_, err := p.client.ImageInspect(ctx, ref)
	if err == nil {
		return nil
	}
	if !cerrdefs.IsNotFound(err) {
		return fmt.Errorf("failed to inspect image %s: %w", ref, err)
	}

	rc, err := p.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()
	// The pull only completes once the progress stream is drained.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	return nil
}

func (p *DockerPlatform) workingDir() string {
	if p.config.WorkingDir != "" {
		return p.config.WorkingDir
	}
	return "/workspace"
}

func (p *DockerPlatform) hostConfig() (*container.HostConfig, error) {
	resources, err := dockerResources(p.config.Resources)
	if err != nil {
		return nil, err
	}

	mounts := make([]mount.Mount, 0, len(p.config.Mounts))
	for _, m := range p.config.Mounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.Type(m.Type),
			Source:   m.Source,
			Target:   m.Destination,
			ReadOnly: m.ReadOnly,
		})
	}

	return &container.HostConfig{
		Resources:   resources,
		Mounts:      mounts,
		NetworkMode: container.NetworkMode(p.config.NetworkMode),
	}, nil
}

// dockerResources maps the limits onto Docker's API. Docker has no CPU
// request; the memory request becomes a soft reservation.
func dockerResources(r ResourceRequirements) (container.Resources, error) {
	parsed, err := r.parse()
	if err != nil {
		return container.Resources{}, err
	}

	var out container.Resources
	if parsed.cpuLimit != nil {
		out.NanoCPUs = parsed.cpuLimit.MilliValue() * 1_000_000
	}
	if parsed.memoryLimit != nil {
		out.Memory = parsed.memoryLimit.Value()
	}
	if parsed.memoryRequest != nil {
		out.MemoryReservation = parsed.memoryRequest.Value()
	}
	return out, nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

type dockerEnvironment struct {
	client  *client.Client
	id      string
	shell   string
	workDir string
	state   string

	removeOnce sync.Once
	removeErr  error
}

func (e *dockerEnvironment) StateDir() string { return e.state }

func (e *dockerEnvironment) Exec(ctx context.Context, script string, stdout, stderr io.Writer) (int, error) {
	created, err := e.client.ContainerExecCreate(ctx, e.id, container.ExecOptions{
		Cmd:          []string{e.shell, "-c", script},
		WorkingDir:   e.workDir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, fmt.Errorf("failed to create exec: %w", err)
	}

	resp, err := e.client.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return -1, fmt.Errorf("failed to attach exec: %w", err)
	}
	defer resp.Close()

	copied := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, resp.Reader)
		copied <- err
	}()

	select {
	case err = <-copied:
	case <-ctx.Done():
		// Removing the container is the only way to stop an exec.
		e.remove(context.WithoutCancel(ctx))
		resp.Close()
		<-copied
		return -1, ctx.Err()
	}
	if err != nil {
		return -1, fmt.Errorf("failed to read exec output: %w", err)
	}

	inspect, err := e.client.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return -1, fmt.Errorf("failed to inspect exec: %w", err)
	}
	return inspect.ExitCode, nil
}

func (e *dockerEnvironment) Close(ctx context.Context) error {
	return e.remove(ctx)
}

func (e *dockerEnvironment) remove(ctx context.Context) error {
	e.removeOnce.Do(func() {
		err := e.client.ContainerRemove(ctx, e.id, container.RemoveOptions{Force: true})
		if err != nil && !cerrdefs.IsNotFound(err) {
			e.removeErr = fmt.Errorf("failed to remove container %s: %w", e.id, err)
		}
	})
	return e.removeErr
}

var errNoDocker = errors.New("docker daemon unavailable")

// Ping checks the daemon is reachable.
func (p *DockerPlatform) Ping(ctx context.Context) error {
	if _, err := p.client.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", errNoDocker, err)
	}
	return nil
}
