// Package qevents routes CI events to the handlers registered for their
// type. Registration is explicit: a Dispatcher starts empty, handlers are
// added with On, and events with no handler are rejected.
package qevents

import (
	"fmt"
	"maps"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
)

// Well-known event types.
const (
	TypeExec        = "exec"
	TypePush        = "push"
	TypePullRequest = "pull_request"
	TypeCron        = "cron"
)

var typePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

type Event struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Source    string            `json:"source,omitempty"` // cli, api, cron
	Project   string            `json:"project,omitempty"`
	Commit    string            `json:"commit,omitempty"`
	Ref       string            `json:"ref,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ValidateType checks an event type name.
func ValidateType(eventType string) error {
	return validation.Validate(eventType,
		validation.Required,
		validation.Length(1, 63),
		validation.Match(typePattern).Error("must be lowercase letters, digits, '.', '_' or '-'"),
	)
}

// prepare fills in the ID and timestamp and copies the payload so the
// handler owns its event.
func (e Event) prepare() (Event, error) {
	if err := ValidateType(e.Type); err != nil {
		return Event{}, fmt.Errorf("invalid event type %q: %w", e.Type, err)
	}
	if e.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return Event{}, fmt.Errorf("failed to generate event id: %w", err)
		}
		e.ID = id.String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	e.Payload = maps.Clone(e.Payload)
	return e, nil
}
