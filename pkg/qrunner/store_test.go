package qrunner

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFileStore_SaveGet(t *testing.T) {
	store := NewFileStore(t.TempDir())
	ctx := context.Background()

	code := 0
	run := &Run{ID: "r1", Name: "job", Status: RunStatusSucceeded, Tasks: []string{"true"}, ExitCode: &code, CreatedAt: time.Now()}
	if err := store.Save(ctx, run); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Name != "job" || got.Status != RunStatusSucceeded || got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("unexpected run: %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, got %v", err)
	}
}

func TestFileStore_ListEmptyDir(t *testing.T) {
	store := NewFileStore(t.TempDir() + "/nothing-here")
	runs, err := store.List(context.Background(), nil)
	if err != nil || len(runs) != 0 {
		t.Errorf("expected empty list, got %v, %v", runs, err)
	}
}
