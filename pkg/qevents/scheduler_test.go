package qevents

import (
	"context"
	"testing"
	"time"
)

func TestScheduler_EmitsEvents(t *testing.T) {
	d := NewDispatcher()
	got := make(chan Event, 4)
	d.On(TypeCron, func(ctx context.Context, ev Event) error {
		got <- ev
		return nil
	})

	s := NewScheduler(d, nil)
	if err := s.Add("@every 1s", Event{Payload: map[string]string{"pipeline": "e2e"}}); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	s.Start()
	defer s.Stop(context.Background())

	select {
	case ev := <-got:
		if ev.Type != TypeCron || ev.Source != "cron" || ev.Payload["pipeline"] != "e2e" {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no scheduled event within 5s")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	s := NewScheduler(NewDispatcher(), nil)
	if err := s.Add("not a schedule", Event{}); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	if err := s.Add("0 3 * * *", Event{}); err != nil {
		t.Fatalf("five-field schedule rejected: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", s.Len())
	}
}
