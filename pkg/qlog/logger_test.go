package qlog

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestLogger_FormatsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.LevelInfo, &buf)

	logger.With("run_id", "abc").Info("task finished", "index", 2, "exit_code", 0)

	got := buf.String()
	if !strings.Contains(got, "task finished run_id=abc, index=2, exit_code=0") {
		t.Errorf("unexpected output: %q", got)
	}
}

func TestLogger_LevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.LevelWarn, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	got := buf.String()
	if strings.Contains(got, "hidden") {
		t.Error("info record should be filtered at WARN level")
	}
	if !strings.Contains(got, "shown") {
		t.Error("warn record should be written")
	}
}

func TestLogger_Group(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(slog.LevelDebug, &buf)

	logger.WithGroup("docker").Debug("pulled", "image", "ubuntu")

	if !strings.Contains(buf.String(), "docker.image=ubuntu") {
		t.Errorf("expected grouped key, got %q", buf.String())
	}
}
