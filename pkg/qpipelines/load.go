package qpipelines

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qjob"
	"gopkg.in/yaml.v3"
)

//go:embed builtin.yaml
var builtinYAML []byte

var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// Builtin returns the pipelines shipped with qci.
func Builtin() *Set {
	set, err := Parse(builtinYAML)
	if err != nil {
		panic(fmt.Sprintf("builtin pipelines: %v", err))
	}
	return set
}

// LoadFile parses a definitions file.
func LoadFile(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipelines file: %w", err)
	}
	set, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return set, nil
}

// Load returns the built-in set extended by each file in order. Later
// files replace pipelines of the same name.
func Load(paths ...string) (*Set, error) {
	set := Builtin()
	for _, path := range paths {
		if path == "" {
			continue
		}
		file, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		set = set.Merge(file)
	}
	return set, nil
}

// Parse decodes, validates and resolves a definitions document. All
// problems are reported together.
func Parse(data []byte) (*Set, error) {
	var file File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse pipelines: %w", err)
	}

	var errs *multierror.Error
	for name, steps := range file.Stepsets {
		for i, step := range steps {
			if step.Use != "" || strings.TrimSpace(step.Run) == "" {
				errs = multierror.Append(errs, fmt.Errorf("stepset %s step %d: stepsets may only contain run steps", name, i))
			}
		}
	}

	set := newSet()
	for name, entry := range file.Pipelines {
		p, err := resolve(name, entry, file)
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("pipeline %s: %w", name, err))
			continue
		}
		set.pipelines[name] = p
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return set, nil
}

func resolve(name string, entry PipelineEntry, file File) (*Pipeline, error) {
	err := validation.Errors{
		"name": validation.Validate(name, validation.Required, validation.Match(namePattern)),
		"on": validation.Validate(entry.On, validation.Each(validation.By(func(v interface{}) error {
			return qevents.ValidateType(v.(string))
		}))),
		"schedule": validation.Validate(entry.Schedule, validation.When(entry.Schedule != "", validation.By(func(v interface{}) error {
			return qevents.ValidateSchedule(v.(string))
		}))),
		"steps":          validation.Validate(entry.Steps, validation.Required),
		"timeoutSeconds": validation.Validate(entry.TimeoutSeconds, validation.Min(int64(0))),
	}.Filter()
	if err != nil {
		return nil, err
	}

	vars := maps.Clone(file.Vars)
	if vars == nil {
		vars = map[string]string{}
	}
	maps.Copy(vars, entry.Vars)

	var tasks []string
	for i, step := range entry.Steps {
		switch {
		case step.Run != "" && step.Use != "":
			return nil, fmt.Errorf("step %d: set either run or use, not both", i)
		case step.Use != "":
			steps, ok := file.Stepsets[step.Use]
			if !ok {
				return nil, fmt.Errorf("step %d: unknown stepset %q", i, step.Use)
			}
			for _, s := range steps {
				tasks = append(tasks, s.Run)
			}
		default:
			tasks = append(tasks, step.Run)
		}
	}

	for i, task := range tasks {
		rendered, err := render(task, vars)
		if err != nil {
			return nil, fmt.Errorf("task %d: %w", i, err)
		}
		tasks[i] = rendered
	}

	p := &Pipeline{
		Name:        name,
		Description: entry.Description,
		On:          entry.On,
		Schedule:    entry.Schedule,
		Image:       defaultString(entry.Image, qjob.DefaultImage),
		Shell:       defaultString(entry.Shell, qjob.DefaultShell),
		Timeout:     time.Duration(entry.TimeoutSeconds) * time.Second,
		Env:         entry.Env,
		Labels:      entry.Labels,
		Tasks:       tasks,
	}

	// Same checks the runner applies, surfaced at load time.
	if _, err := p.JobSpec(qevents.Event{}); err != nil {
		return nil, err
	}
	return p, nil
}

// render expands {{ }} references. Commands without them are returned
// untouched.
func render(command string, vars map[string]string) (string, error) {
	if !strings.Contains(command, "{{") {
		return command, nil
	}
	tmpl, err := template.New("step").Option("missingkey=error").Funcs(sprig.TxtFuncMap()).Parse(command)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := tmpl.Execute(&b, vars); err != nil {
		return "", err
	}
	return b.String(), nil
}

func defaultString(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
