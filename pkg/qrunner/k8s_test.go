package qrunner

import (
	"context"
	"testing"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	"k8s.io/client-go/rest"
	k8stesting "k8s.io/client-go/testing"
)

func newFakeK8sPlatform(phase corev1.PodPhase) (*K8sPlatform, *fake.Clientset) {
	client := fake.NewSimpleClientset()
	// The fake API server never schedules pods; report them in the given phase.
	client.PrependReactor("create", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		pod := action.(k8stesting.CreateAction).GetObject().(*corev1.Pod)
		pod.Status.Phase = phase
		return false, nil, nil
	})

	p := NewK8sPlatformWithClient(client, &rest.Config{}, "ci", DefaultContainerConfig())
	p.pollInterval = 10 * time.Millisecond
	p.startupTimeout = 200 * time.Millisecond
	return p, client
}

func TestK8sPlatform_ProvisionAndClose(t *testing.T) {
	p, client := newFakeK8sPlatform(corev1.PodRunning)
	ctx := context.Background()

	env, err := p.Provision(ctx, EnvironmentRequest{
		RunID: "0192f7a0-0000-7000-8000-000000000001",
		Name:  "e2e",
		Image: "ubuntu",
		Shell: "bash",
		Env:   map[string]string{"QCI_EVENT_TYPE": "exec"},
	})
	if err != nil {
		t.Fatalf("Provision failed: %v", err)
	}

	pods, _ := client.CoreV1().Pods("ci").List(ctx, metav1.ListOptions{})
	if len(pods.Items) != 1 {
		t.Fatalf("expected 1 pod, got %d", len(pods.Items))
	}
	pod := pods.Items[0]
	if pod.Labels[runIDLabel] != "0192f7a0-0000-7000-8000-000000000001" {
		t.Errorf("missing run id label: %v", pod.Labels)
	}
	c := pod.Spec.Containers[0]
	if c.Image != "ubuntu" || c.WorkingDir != "/workspace" {
		t.Errorf("unexpected container: image=%s workdir=%s", c.Image, c.WorkingDir)
	}
	if len(c.Env) != 1 || c.Env[0].Name != "QCI_EVENT_TYPE" {
		t.Errorf("unexpected env: %v", c.Env)
	}
	if q := c.Resources.Limits[corev1.ResourceMemory]; q.String() != "4Gi" {
		t.Errorf("unexpected memory limit %s", q.String())
	}

	if err := env.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	pods, _ = client.CoreV1().Pods("ci").List(ctx, metav1.ListOptions{})
	if len(pods.Items) != 0 {
		t.Errorf("expected pod to be deleted, %d left", len(pods.Items))
	}
	// Closing twice is harmless.
	if err := env.Close(ctx); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

func TestK8sPlatform_PodFailsToStart(t *testing.T) {
	p, client := newFakeK8sPlatform(corev1.PodFailed)
	ctx := context.Background()

	if _, err := p.Provision(ctx, EnvironmentRequest{RunID: "r1", Image: "ubuntu", Shell: "bash"}); err == nil {
		t.Fatal("expected provisioning to fail")
	}
	pods, _ := client.CoreV1().Pods("ci").List(ctx, metav1.ListOptions{})
	if len(pods.Items) != 0 {
		t.Errorf("failed pod must be cleaned up, %d left", len(pods.Items))
	}
}

func TestK8sPlatform_StartupTimeout(t *testing.T) {
	p, _ := newFakeK8sPlatform(corev1.PodPending)

	start := time.Now()
	if _, err := p.Provision(context.Background(), EnvironmentRequest{RunID: "r2", Image: "ubuntu", Shell: "bash"}); err == nil {
		t.Fatal("expected startup timeout")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("startup timeout not honoured")
	}
}
