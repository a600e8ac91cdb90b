// Package qpipelines turns named pipeline definitions into JobSpecs and
// binds them to event types on a qevents.Dispatcher.
package qpipelines

import (
	"maps"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/quatton/qci/pkg/qevents"
	"github.com/quatton/qci/pkg/qjob"
)

// File is the YAML document layout.
type File struct {
	Vars      map[string]string        `yaml:"vars"`
	Stepsets  map[string][]Step        `yaml:"stepsets"`
	Pipelines map[string]PipelineEntry `yaml:"pipelines"`
}

// Step is either a command (run) or a reference to a stepset (use).
type Step struct {
	Run string `yaml:"run,omitempty"`
	Use string `yaml:"use,omitempty"`
}

type PipelineEntry struct {
	Description    string            `yaml:"description"`
	On             []string          `yaml:"on"`
	Schedule       string            `yaml:"schedule"`
	Image          string            `yaml:"image"`
	Shell          string            `yaml:"shell"`
	TimeoutSeconds int64             `yaml:"timeoutSeconds"`
	Env            map[string]string `yaml:"env"`
	Labels         map[string]string `yaml:"labels"`
	Vars           map[string]string `yaml:"vars"`
	Steps          []Step            `yaml:"steps"`
}

// Pipeline is a resolved definition: stepsets expanded and commands
// rendered. It is read-only after loading.
type Pipeline struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	On          []string          `json:"on,omitempty"`
	Schedule    string            `json:"schedule,omitempty"`
	Image       string            `json:"image"`
	Shell       string            `json:"shell"`
	Timeout     time.Duration     `json:"-"`
	Env         map[string]string `json:"env,omitempty"`
	Labels      map[string]string `json:"labels,omitempty"`
	Tasks       []string          `json:"tasks"`
}

// TimeoutSeconds is the timeout in the unit the definitions use.
func (p *Pipeline) TimeoutSeconds() int64 {
	return int64(p.Timeout / time.Second)
}

// JobSpec builds the spec for one run of p triggered by ev. Event metadata
// reaches the tasks as QCI_* environment variables.
func (p *Pipeline) JobSpec(ev qevents.Event) (qjob.JobSpec, error) {
	b := qjob.NewBuilder(p.Name).
		Image(p.Image).
		Shell(p.Shell).
		Timeout(p.Timeout).
		Tasks(p.Tasks...).
		EnvMap(p.Env).
		LabelMap(p.Labels).
		Label("pipeline", p.Name)

	if ev.ID != "" {
		b.Label("event_id", ev.ID)
	}
	if ev.Type != "" {
		b.Label("event_type", ev.Type)
	}
	b.EnvMap(EventEnv(ev))
	return b.Build()
}

// EventEnv maps event fields to environment variables. Payload entries
// become QCI_PAYLOAD_<KEY> with the key upper-cased.
func EventEnv(ev qevents.Event) map[string]string {
	env := map[string]string{}
	set := func(k, v string) {
		if v != "" {
			env[k] = v
		}
	}
	set("QCI_EVENT_ID", ev.ID)
	set("QCI_EVENT_TYPE", ev.Type)
	set("QCI_EVENT_SOURCE", ev.Source)
	set("QCI_PROJECT", ev.Project)
	set("QCI_COMMIT", ev.Commit)
	set("QCI_REF", ev.Ref)
	for k, v := range ev.Payload {
		set("QCI_PAYLOAD_"+envKey(k), v)
	}
	return env
}

func envKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, k)
}

// Set is a collection of pipelines keyed by name.
type Set struct {
	pipelines map[string]*Pipeline
}

func newSet() *Set {
	return &Set{pipelines: make(map[string]*Pipeline)}
}

func (s *Set) Get(name string) (*Pipeline, bool) {
	p, ok := s.pipelines[name]
	return p, ok
}

// Names returns pipeline names, sorted.
func (s *Set) Names() []string {
	return slices.Sorted(maps.Keys(s.pipelines))
}

func (s *Set) Len() int { return len(s.pipelines) }

// Bound returns the pipelines listening on eventType, sorted by name.
func (s *Set) Bound(eventType string) []*Pipeline {
	var out []*Pipeline
	for _, name := range s.Names() {
		p := s.pipelines[name]
		if slices.Contains(p.On, eventType) {
			out = append(out, p)
		}
	}
	return out
}

// EventTypes returns every event type some pipeline listens on.
func (s *Set) EventTypes() []string {
	seen := map[string]bool{}
	for _, p := range s.pipelines {
		for _, t := range p.On {
			seen[t] = true
		}
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Scheduled returns pipelines with a cron schedule, sorted by name.
func (s *Set) Scheduled() []*Pipeline {
	var out []*Pipeline
	for _, name := range s.Names() {
		if p := s.pipelines[name]; p.Schedule != "" {
			out = append(out, p)
		}
	}
	return out
}

// Merge returns a set with every pipeline of s, replaced or extended by
// those of other.
func (s *Set) Merge(other *Set) *Set {
	out := newSet()
	maps.Copy(out.pipelines, s.pipelines)
	maps.Copy(out.pipelines, other.pipelines)
	return out
}
