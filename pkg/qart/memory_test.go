package qart

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestMemoryStore_UploadDownload(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	key := RunKey("run-1", "output.log")
	if key != "runs/run-1/output.log" {
		t.Fatalf("unexpected key %q", key)
	}

	a, err := s.Upload(ctx, key, strings.NewReader("hello\n"), -1, "text/plain", nil)
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if a.Size != 6 {
		t.Errorf("expected size 6, got %d", a.Size)
	}

	rc, err := s.Download(ctx, key)
	if err != nil {
		t.Fatalf("Download failed: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "hello\n" {
		t.Errorf("unexpected content %q", data)
	}

	if _, err := s.Download(ctx, "runs/missing/output.log"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, key := range []string{RunKey("a", "run.json"), RunKey("a", "output.log"), RunKey("b", "output.log")} {
		if _, err := s.Upload(ctx, key, strings.NewReader("x"), 1, "text/plain", nil); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
	}

	list, err := s.List(ctx, RunPrefix("a"))
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].Key != "runs/a/output.log" || list[1].Key != "runs/a/run.json" {
		t.Errorf("unexpected listing: %v", list)
	}
}
