package qerr

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNew_NilPassesThrough(t *testing.T) {
	if err := New(CodeTimeout, nil); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIsCode_ThroughWrapping(t *testing.T) {
	err := fmt.Errorf("running job: %w", New(CodeTimeout, context.DeadlineExceeded))

	if !IsCode(err, CodeTimeout) {
		t.Errorf("expected timeout code, got %s", CodeOf(err))
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected cause to stay reachable with errors.Is")
	}
	if IsCode(errors.New("plain"), CodeTimeout) {
		t.Error("plain error should not match a code")
	}
	if CodeOf(errors.New("plain")) != CodeUnknown {
		t.Error("plain error should report CodeUnknown")
	}
}

func TestTaskFailed(t *testing.T) {
	err := fmt.Errorf("pipeline e2e: %w", NewTaskFailed(2, "false", 1))

	if !IsCode(err, CodeTaskFailed) {
		t.Fatalf("expected task_failed, got %s", CodeOf(err))
	}

	tf, ok := AsTaskFailed(err)
	if !ok {
		t.Fatal("expected TaskFailed details")
	}
	if tf.Index != 2 || tf.Command != "false" || tf.ExitCode != 1 {
		t.Errorf("unexpected details: %+v", tf)
	}
}
