package qrunner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/quatton/qci/pkg/k8s"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"
	"k8s.io/utils/ptr"
)

const (
	jobContainerName      = "main"
	defaultStartupTimeout = 5 * time.Minute
)

// K8sPlatform runs every job in a dedicated pod and execs each task into it.
type K8sPlatform struct {
	client         kubernetes.Interface
	restConfig     *rest.Config
	namespace      string
	config         ContainerConfig
	startupTimeout time.Duration
	pollInterval   time.Duration
}

// NewK8sPlatform connects with the given kubeconfig (empty: in-cluster,
// then default locations).
func NewK8sPlatform(kubeconfig, namespace string, config ContainerConfig) (*K8sPlatform, error) {
	c, err := k8s.NewClient(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("creating k8s client: %w", err)
	}
	return NewK8sPlatformWithClient(c.Clientset, c.Config, namespace, config), nil
}

func NewK8sPlatformWithClient(client kubernetes.Interface, restConfig *rest.Config, namespace string, config ContainerConfig) *K8sPlatform {
	if namespace == "" {
		namespace = "default"
	}
	return &K8sPlatform{
		client:         client,
		restConfig:     restConfig,
		namespace:      namespace,
		config:         config,
		startupTimeout: defaultStartupTimeout,
		pollInterval:   time.Second,
	}
}

func (p *K8sPlatform) Name() string { return "k8s" }

func (p *K8sPlatform) Provision(ctx context.Context, req EnvironmentRequest) (Environment, error) {
	pod, err := p.buildPod(req)
	if err != nil {
		return nil, err
	}

	created, err := p.client.CoreV1().Pods(p.namespace).Create(ctx, pod, metav1.CreateOptions{})
	if err != nil {
		return nil, fmt.Errorf("creating pod: %w", err)
	}

	env := &k8sEnvironment{
		platform: p,
		podName:  created.Name,
		shell:    req.Shell,
		state:    "/tmp/qci-state-" + shortID(req.RunID),
	}
	if err := p.waitRunning(ctx, created.Name); err != nil {
		env.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	return env, nil
}

func (p *K8sPlatform) waitRunning(ctx context.Context, name string) error {
	err := wait.PollUntilContextTimeout(ctx, p.pollInterval, p.startupTimeout, true, func(ctx context.Context) (bool, error) {
		pod, err := p.client.CoreV1().Pods(p.namespace).Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			return false, err
		}
		switch pod.Status.Phase {
		case corev1.PodRunning:
			return true, nil
		case corev1.PodFailed, corev1.PodSucceeded:
			return false, fmt.Errorf("pod %s exited before running tasks (phase %s)", name, pod.Status.Phase)
		}
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for pod %s: %w", name, err)
	}
	return nil
}

func (p *K8sPlatform) buildPod(req EnvironmentRequest) (*corev1.Pod, error) {
	resources, err := k8sResources(p.config.Resources)
	if err != nil {
		return nil, err
	}

	workDir := p.config.WorkingDir
	if workDir == "" {
		workDir = "/workspace"
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: "qci-" + req.RunID,
			Labels: map[string]string{
				runIDLabel:                     req.RunID,
				"app.kubernetes.io/managed-by": "qci",
			},
			Annotations: map[string]string{
				"qci.dev/job": req.Name,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy:                 corev1.RestartPolicyNever,
			TerminationGracePeriodSeconds: ptr.To(int64(0)),
			Containers: []corev1.Container{
				{
					Name:       jobContainerName,
					Image:      req.Image,
					Command:    []string{"tail", "-f", "/dev/null"},
					WorkingDir: workDir,
					Env:        envMapToEnvVars(req.Env),
					Resources:  resources,
					VolumeMounts: []corev1.VolumeMount{
						{Name: "workspace", MountPath: workDir},
					},
				},
			},
			Volumes: []corev1.Volume{
				{
					Name:         "workspace",
					VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}},
				},
			},
		},
	}, nil
}

func k8sResources(r ResourceRequirements) (corev1.ResourceRequirements, error) {
	parsed, err := r.parse()
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}

	out := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{},
		Limits:   corev1.ResourceList{},
	}
	set := func(list corev1.ResourceList, name corev1.ResourceName, q *resource.Quantity) {
		if q != nil {
			list[name] = *q
		}
	}
	set(out.Requests, corev1.ResourceCPU, parsed.cpuRequest)
	set(out.Requests, corev1.ResourceMemory, parsed.memoryRequest)
	set(out.Limits, corev1.ResourceCPU, parsed.cpuLimit)
	set(out.Limits, corev1.ResourceMemory, parsed.memoryLimit)
	return out, nil
}

// envMapToEnvVars converts a map to Kubernetes EnvVar slice
func envMapToEnvVars(env map[string]string) []corev1.EnvVar {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	vars := make([]corev1.EnvVar, 0, len(keys))
	for _, k := range keys {
		vars = append(vars, corev1.EnvVar{Name: k, Value: env[k]})
	}
	return vars
}

type k8sEnvironment struct {
	platform *K8sPlatform
	podName  string
	shell    string
	state    string
}

func (e *k8sEnvironment) StateDir() string { return e.state }

func (e *k8sEnvironment) Exec(ctx context.Context, script string, stdout, stderr io.Writer) (int, error) {
	p := e.platform
	req := p.client.CoreV1().RESTClient().Post().
		Resource("pods").
		Name(e.podName).
		Namespace(p.namespace).
		SubResource("exec")

	req.VersionedParams(&corev1.PodExecOptions{
		Container: jobContainerName,
		Command:   []string{e.shell, "-c", script},
		Stdout:    true,
		Stderr:    true,
	}, scheme.ParameterCodec)

	exec, err := remotecommand.NewSPDYExecutor(p.restConfig, "POST", req.URL())
	if err != nil {
		return -1, fmt.Errorf("creating executor: %w", err)
	}

	err = exec.StreamWithContext(ctx, remotecommand.StreamOptions{
		Stdout: stdout,
		Stderr: stderr,
	})
	if ctx.Err() != nil {
		// Closing the stream does not stop the process; the pod has to go.
		e.Close(context.WithoutCancel(ctx))
		return -1, ctx.Err()
	}
	if err != nil {
		var exitErr utilexec.ExitError
		if errors.As(err, &exitErr) && exitErr.Exited() {
			return exitErr.ExitStatus(), nil
		}
		return -1, fmt.Errorf("exec in pod %s: %w", e.podName, err)
	}
	return 0, nil
}

func (e *k8sEnvironment) Close(ctx context.Context) error {
	err := e.platform.client.CoreV1().Pods(e.platform.namespace).Delete(ctx, e.podName, metav1.DeleteOptions{
		GracePeriodSeconds: ptr.To(int64(0)),
	})
	if err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("deleting pod %s: %w", e.podName, err)
	}
	return nil
}
