// Package qjob defines JobSpec, the immutable description of one CI run:
// the image and shell to execute in, an optional time budget, and the ordered
// list of shell commands.
package qjob

import (
	"encoding/json"
	"errors"
	"maps"
	"slices"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/quatton/qci/pkg/qerr"
)

// JobSpec is immutable once built. Use Builder to construct one; the zero
// value is valid Go but fails Validate.
type JobSpec struct {
	name    string
	image   string
	shell   string
	timeout time.Duration
	tasks   []string
	env     map[string]string
	labels  map[string]string
}

func (s JobSpec) Name() string { return s.name }
func (s JobSpec) Image() string { return s.image }
func (s JobSpec) Shell() string { return s.shell }
func (s JobSpec) Timeout() time.Duration { return s.timeout }
func (s JobSpec) Tasks() []string { return slices.Clone(s.tasks) }
func (s JobSpec) Len() int { return len(s.tasks) }
func (s JobSpec) Task(i int) string { return s.tasks[i] }
func (s JobSpec) Env() map[string]string { return maps.Clone(s.env) }
func (s JobSpec) Labels() map[string]string { return maps.Clone(s.labels) }

// Validate reports an InvalidSpec error when the spec cannot be executed.
func (s JobSpec) Validate() error {
	err := validation.Errors{
		"image": validation.Validate(s.image, validation.By(notBlank)),
		"shell": validation.Validate(s.shell, validation.By(notBlank)),
		"tasks": validation.Validate(s.tasks,
			validation.Required.Error("must contain at least one task"),
			validation.Each(validation.By(notBlank)),
		),
		"timeout": validation.Validate(int64(s.timeout), validation.Min(int64(0))),
	}.Filter()
	return qerr.New(qerr.CodeInvalidSpec, err)
}

func notBlank(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}

// specJSON is the wire form used by run records and the CLI.
type specJSON struct {
	Name           string            `json:"name,omitempty"`
	Image          string            `json:"image"`
	Shell          string            `json:"shell"`
	TimeoutSeconds int64             `json:"timeoutSeconds,omitempty"`
	Tasks          []string          `json:"tasks"`
	Env            map[string]string `json:"env,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
}

func (s JobSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(specJSON{
		Name:           s.name,
		Image:          s.image,
		Shell:          s.shell,
		TimeoutSeconds: int64(s.timeout / time.Second),
		Tasks:          s.tasks,
		Env:            s.env,
		Labels:         s.labels,
	})
}

// Decode reads the JSON wire form and validates it. A missing image or
// shell falls back to the defaults.
func Decode(data []byte) (JobSpec, error) {
	var raw specJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return JobSpec{}, qerr.New(qerr.CodeInvalidSpec, err)
	}
	b := NewBuilder(raw.Name).
		Timeout(time.Duration(raw.TimeoutSeconds) * time.Second).
		Tasks(raw.Tasks...).
		EnvMap(raw.Env).
		LabelMap(raw.Labels)
	// absent image and shell keep the defaults
	if raw.Image != "" {
		b.Image(raw.Image)
	}
	if raw.Shell != "" {
		b.Shell(raw.Shell)
	}
	return b.Build()
}
