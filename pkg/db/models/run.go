package models

import (
	"time"

	"github.com/quatton/qci/pkg/qrunner"
	"github.com/uptrace/bun"
)

type Run struct {
	bun.BaseModel `bun:"table:qci.runs,alias:r"`

	ID             string            `bun:",pk,type:uuid"`
	Name           string            `bun:",notnull"`
	Status         string            `bun:",notnull"`
	Platform       string            `bun:",notnull"`
	Image          string            `bun:",notnull"`
	Shell          string            `bun:",notnull"`
	Tasks          []string          `bun:",array,notnull"`
	TimeoutSeconds int64             `bun:",notnull,default:0"`
	Labels         map[string]string `bun:"type:jsonb,nullzero"`

	ExitCode   *int   `bun:""`
	FailedTask *int   `bun:""`
	ErrorCode  string `bun:",nullzero"`
	Error      string `bun:",nullzero"`

	Results   []qrunner.TaskResult  `bun:"type:jsonb,nullzero"`
	Artifacts []qrunner.RunArtifact `bun:"type:jsonb,nullzero"`
	LogsPath  string                `bun:",nullzero"`

	CreatedAt  time.Time  `bun:",notnull"`
	StartedAt  *time.Time `bun:""`
	FinishedAt *time.Time `bun:""`
	UpdatedAt  time.Time  `bun:",nullzero,notnull,default:current_timestamp"`
}

// FromRun copies a run record into its row.
func FromRun(r *qrunner.Run) *Run {
	return &Run{
		ID:             r.ID,
		Name:           r.Name,
		Status:         string(r.Status),
		Platform:       r.Platform,
		Image:          r.Image,
		Shell:          r.Shell,
		Tasks:          r.Tasks,
		TimeoutSeconds: r.TimeoutSeconds,
		Labels:         r.Labels,
		ExitCode:       r.ExitCode,
		FailedTask:     r.FailedTask,
		ErrorCode:      r.ErrorCode,
		Error:          r.Error,
		Results:        r.Results,
		Artifacts:      r.Artifacts,
		LogsPath:       r.LogsPath,
		CreatedAt:      r.CreatedAt,
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
		UpdatedAt:      time.Now(),
	}
}

// ToRun converts the row back into a run record.
func (m *Run) ToRun() *qrunner.Run {
	return &qrunner.Run{
		ID:             m.ID,
		Name:           m.Name,
		Status:         qrunner.RunStatus(m.Status),
		Platform:       m.Platform,
		Image:          m.Image,
		Shell:          m.Shell,
		Tasks:          m.Tasks,
		TimeoutSeconds: m.TimeoutSeconds,
		Labels:         m.Labels,
		ExitCode:       m.ExitCode,
		FailedTask:     m.FailedTask,
		ErrorCode:      m.ErrorCode,
		Error:          m.Error,
		Results:        m.Results,
		Artifacts:      m.Artifacts,
		LogsPath:       m.LogsPath,
		CreatedAt:      m.CreatedAt,
		StartedAt:      m.StartedAt,
		FinishedAt:     m.FinishedAt,
	}
}
