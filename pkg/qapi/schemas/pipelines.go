package schemas

import "github.com/quatton/qci/pkg/qpipelines"

type Pipeline struct {
	Name           string            `json:"name" doc:"Pipeline name"`
	Description    string            `json:"description,omitempty"`
	On             []string          `json:"on,omitempty" doc:"Event types that start this pipeline"`
	Schedule       string            `json:"schedule,omitempty" doc:"Cron schedule"`
	Image          string            `json:"image"`
	Shell          string            `json:"shell"`
	TimeoutSeconds int64             `json:"timeout_seconds,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Labels         map[string]string `json:"labels,omitempty"`
	Tasks          []string          `json:"tasks" doc:"Resolved commands"`
	LastRunID      string            `json:"last_run_id,omitempty" doc:"Most recent run started by this pipeline"`
}

func NewPipeline(p *qpipelines.Pipeline, lastRunID string) Pipeline {
	return Pipeline{
		Name:           p.Name,
		Description:    p.Description,
		On:             p.On,
		Schedule:       p.Schedule,
		Image:          p.Image,
		Shell:          p.Shell,
		TimeoutSeconds: p.TimeoutSeconds(),
		Env:            p.Env,
		Labels:         p.Labels,
		Tasks:          p.Tasks,
		LastRunID:      lastRunID,
	}
}

type TriggerRequest struct {
	Project string            `json:"project,omitempty"`
	Commit  string            `json:"commit,omitempty"`
	Ref     string            `json:"ref,omitempty"`
	Payload map[string]string `json:"payload,omitempty"`
}
