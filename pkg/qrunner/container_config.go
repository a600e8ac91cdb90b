package qrunner

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/resource"
)

// ContainerConfig is shared by the container platforms (Docker, K8s). The
// image comes from each JobSpec, so it is not part of this config.
type ContainerConfig struct {
	// Resources defines CPU and memory constraints
	Resources ResourceRequirements

	// Mounts are extra volumes for the job container. Docker only.
	Mounts []Mount

	// NetworkMode is passed to Docker as-is (e.g., "host", "bridge")
	NetworkMode string

	// WorkingDir is where tasks start; it is created empty for every run.
	WorkingDir string
}

// ResourceRequirements defines CPU and memory constraints in Kubernetes
// quantity format, translated for Docker where needed.
type ResourceRequirements struct {
	// CPU request (e.g., "100m", "1", "2")
	CPURequest string

	// Memory request (e.g., "128Mi", "1Gi")
	MemoryRequest string

	CPULimit    string
	MemoryLimit string
}

// Mount represents a volume mount for containers
type Mount struct {
	// Type is the mount type: "bind" for host paths, "volume" for named volumes
	Type string

	// Source is the source path (host) or volume name
	Source string

	// Destination is the target path inside the container
	Destination string

	ReadOnly bool
}

// DefaultContainerConfig returns sensible defaults for container configuration
func DefaultContainerConfig() ContainerConfig {
	return ContainerConfig{
		Resources: ResourceRequirements{
			CPURequest:    "100m",
			MemoryRequest: "256Mi",
			CPULimit:      "2",
			MemoryLimit:   "4Gi",
		},
		NetworkMode: "bridge",
		WorkingDir:  "/workspace",
	}
}

// parsed holds the quantities after validation. Empty strings stay nil.
type parsedResources struct {
	cpuRequest, memoryRequest *resource.Quantity
	cpuLimit, memoryLimit     *resource.Quantity
}

func (r ResourceRequirements) parse() (parsedResources, error) {
	var out parsedResources
	fields := []struct {
		name  string
		value string
		dst   **resource.Quantity
	}{
		{"cpu request", r.CPURequest, &out.cpuRequest},
		{"memory request", r.MemoryRequest, &out.memoryRequest},
		{"cpu limit", r.CPULimit, &out.cpuLimit},
		{"memory limit", r.MemoryLimit, &out.memoryLimit},
	}
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		q, err := resource.ParseQuantity(f.value)
		if err != nil {
			return parsedResources{}, fmt.Errorf("invalid %s %q: %w", f.name, f.value, err)
		}
		*f.dst = &q
	}
	return out, nil
}
