package qjob

import (
	"maps"
	"time"
)

const (
	DefaultImage = "ubuntu"
	DefaultShell = "bash"
)

// Builder accumulates JobSpec fields. Build copies everything, so a builder
// can keep being modified after a spec was produced from it.
type Builder struct {
	spec JobSpec
}

// NewBuilder starts a spec with the default image and shell.
func NewBuilder(name string) *Builder {
	return &Builder{spec: JobSpec{
		name:  name,
		image: DefaultImage,
		shell: DefaultShell,
	}}
}

func (b *Builder) Name(name string) *Builder {
	b.spec.name = name
	return b
}

func (b *Builder) Image(image string) *Builder {
	b.spec.image = image
	return b
}

func (b *Builder) Shell(shell string) *Builder {
	b.spec.shell = shell
	return b
}

// Timeout bounds the whole run. Zero leaves it to the runner default.
func (b *Builder) Timeout(d time.Duration) *Builder {
	b.spec.timeout = d
	return b
}

// Task appends one command.
func (b *Builder) Task(command string) *Builder {
	b.spec.tasks = append(b.spec.tasks, command)
	return b
}

// Tasks appends commands in order.
func (b *Builder) Tasks(commands ...string) *Builder {
	b.spec.tasks = append(b.spec.tasks, commands...)
	return b
}

func (b *Builder) Env(key, value string) *Builder {
	if b.spec.env == nil {
		b.spec.env = make(map[string]string)
	}
	b.spec.env[key] = value
	return b
}

func (b *Builder) EnvMap(env map[string]string) *Builder {
	for k, v := range env {
		b.Env(k, v)
	}
	return b
}

func (b *Builder) Label(key, value string) *Builder {
	if b.spec.labels == nil {
		b.spec.labels = make(map[string]string)
	}
	b.spec.labels[key] = value
	return b
}

func (b *Builder) LabelMap(labels map[string]string) *Builder {
	for k, v := range labels {
		b.Label(k, v)
	}
	return b
}

// Build validates and returns an independent copy of the spec.
func (b *Builder) Build() (JobSpec, error) {
	spec := JobSpec{
		name:    b.spec.name,
		image:   b.spec.image,
		shell:   b.spec.shell,
		timeout: b.spec.timeout,
		tasks:   append([]string(nil), b.spec.tasks...),
		env:     maps.Clone(b.spec.env),
		labels:  maps.Clone(b.spec.labels),
	}
	if err := spec.Validate(); err != nil {
		return JobSpec{}, err
	}
	return spec, nil
}

// MustBuild is Build for static specs known to be valid.
func (b *Builder) MustBuild() JobSpec {
	spec, err := b.Build()
	if err != nil {
		panic(err)
	}
	return spec
}
