package qrunner

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FileStore keeps each run as <dir>/<id>/run.json. It is the default store
// and needs no services.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (s *FileStore) runPath(runID string) string {
	return filepath.Join(s.dir, runID, "run.json")
}

// Save writes through a temp file so a concurrent Get never sees a
// partial record.
func (s *FileStore) Save(ctx context.Context, run *Run) error {
	runDir := filepath.Join(s.dir, run.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	tmp, err := os.CreateTemp(runDir, ".run-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write run state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write run state: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.runPath(run.ID)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to save run state: %w", err)
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, runID string) (*Run, error) {
	data, err := os.ReadFile(s.runPath(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to read run state: %w", err)
	}

	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run state: %w", err)
	}
	return &run, nil
}

// List returns runs oldest first; run IDs are UUIDv7 so directory order is
// creation order.
func (s *FileStore) List(ctx context.Context, status *RunStatus) ([]*Run, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*Run{}, nil
		}
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	runs := []*Run{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.Get(ctx, entry.Name())
		if err != nil {
			// Skip runs that can't be read
			continue
		}
		if status != nil && run.Status != *status {
			continue
		}
		runs = append(runs, run)
	}
	return runs, nil
}
