package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/qci/pkg/qlog"
	"github.com/quatton/qci/pkg/qrunner"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5433, User: "qci", Password: "p@ss word", Database: "ci", SSLMode: "require"}
	want := "postgres://qci:p%40ss%20word@db:5433/ci?sslmode=require"
	if got := cfg.DSN(); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

// TestRunStore needs Postgres; set QCI_TEST_DB=1 and the usual DB_* vars.
func TestRunStore(t *testing.T) {
	if os.Getenv("QCI_TEST_DB") == "" {
		t.Skip("Requires Postgres - set QCI_TEST_DB=1 to run")
	}
	var cfg Config
	if err := envconfig.Process("DB", &cfg); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	database, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer database.Close()
	if err := Migrate(ctx, database, qlog.Discard()); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := NewRunStore(database)
	id, _ := uuid.NewV7()
	run := &qrunner.Run{
		ID:        id.String(),
		Name:      "e2e",
		Status:    qrunner.RunStatusRunning,
		Platform:  "local",
		Image:     "ubuntu",
		Shell:     "bash",
		Tasks:     []string{"true", "false"},
		Labels:    map[string]string{"pipeline": "e2e"},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	if err := store.Save(ctx, run); err != nil {
		t.Fatalf("Save: %v", err)
	}

	failed := 1
	run.Status = qrunner.RunStatusFailed
	run.FailedTask = &failed
	run.ExitCode = &failed
	run.Results = []qrunner.TaskResult{{Index: 0, Command: "true"}, {Index: 1, Command: "false", ExitCode: 1}}
	if err := store.Save(ctx, run); err != nil {
		t.Fatalf("Save update: %v", err)
	}

	got, err := store.Get(ctx, run.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != qrunner.RunStatusFailed || got.FailedTask == nil || *got.FailedTask != 1 || len(got.Results) != 2 {
		t.Errorf("unexpected run: %+v", got)
	}
	if got.Labels["pipeline"] != "e2e" || len(got.Tasks) != 2 {
		t.Errorf("labels or tasks lost: %+v", got)
	}

	status := qrunner.RunStatusFailed
	list, err := store.List(ctx, &status)
	if err != nil || len(list) == 0 {
		t.Errorf("List: %v (%d runs)", err, len(list))
	}

	missing, _ := uuid.NewV7()
	if _, err := store.Get(ctx, missing.String()); !errors.Is(err, qrunner.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}
