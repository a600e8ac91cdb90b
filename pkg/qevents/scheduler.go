package qevents

import (
	"context"
	"fmt"
	"maps"

	"github.com/quatton/qci/pkg/qlog"
	"github.com/robfig/cron/v3"
)

// Scheduler emits events into a Dispatcher on cron schedules.
type Scheduler struct {
	cron       *cron.Cron
	dispatcher *Dispatcher
	logger     *qlog.Logger
}

func NewScheduler(d *Dispatcher, logger *qlog.Logger) *Scheduler {
	if logger == nil {
		logger = qlog.Discard()
	}
	return &Scheduler{
		cron:       cron.New(cron.WithParser(scheduleParser)),
		dispatcher: d,
		logger:     logger,
	}
}

// Add schedules template to be dispatched on every tick of schedule
// (standard five fields, optional seconds, or descriptors like @hourly).
// Each tick gets a fresh event ID; Type defaults to "cron".
func (s *Scheduler) Add(schedule string, template Event) error {
	if template.Type == "" {
		template.Type = TypeCron
	}
	if template.Source == "" {
		template.Source = "cron"
	}

	_, err := s.cron.AddFunc(schedule, func() {
		ev := template
		ev.ID = ""
		ev.Payload = maps.Clone(template.Payload)
		id, err := s.dispatcher.DispatchAsync(ev)
		if err != nil {
			s.logger.Warn("scheduled event rejected", "schedule", schedule, "type", ev.Type, "error", err)
			return
		}
		s.logger.Debug("scheduled event dispatched", "schedule", schedule, "event_id", id)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return nil
}

// Len returns the number of scheduled entries.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule; ticks already firing finish first.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var scheduleParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether schedule is accepted by Scheduler.Add.
func ValidateSchedule(schedule string) error {
	_, err := scheduleParser.Parse(schedule)
	return err
}
