// Package k8s connects to the cluster that hosts K8sPlatform job pods.
package k8s

import (
	"fmt"
	"os"
	"path/filepath"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"k8s.io/client-go/util/homedir"
)

// Client bundles the typed clientset with the REST config that pod exec
// (SPDY) needs.
type Client struct {
	Clientset kubernetes.Interface
	Config    *rest.Config
}

// NewClient connects using kubeconfig when given, otherwise in-cluster
// config, then KUBECONFIG, then ~/.kube/config.
func NewClient(kubeconfig string) (*Client, error) {
	config, err := GetConfig(kubeconfig)
	if err != nil {
		return nil, err
	}

	clientset, err := kubernetes.NewForConfig(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create clientset: %w", err)
	}
	return &Client{Clientset: clientset, Config: config}, nil
}

// GetConfig returns a Kubernetes REST config
func GetConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		// Try in-cluster config first (when running in a pod)
		if config, err := rest.InClusterConfig(); err == nil {
			return config, nil
		}
		kubeconfig = defaultKubeconfig()
	}

	config, err := clientcmd.BuildConfigFromFlags("", kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("failed to load kubeconfig from %s: %w", kubeconfig, err)
	}
	return config, nil
}

func defaultKubeconfig() string {
	if env := os.Getenv("KUBECONFIG"); env != "" {
		return env
	}
	if home := homedir.HomeDir(); home != "" {
		return filepath.Join(home, ".kube", "config")
	}
	return ""
}
