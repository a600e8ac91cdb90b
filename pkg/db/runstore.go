package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/quatton/qci/pkg/db/models"
	"github.com/quatton/qci/pkg/qrunner"
	"github.com/uptrace/bun"
)

// RunStore keeps run records in qci.runs. Several qci servers can share it.
type RunStore struct {
	db *bun.DB
}

func NewRunStore(db *bun.DB) *RunStore {
	return &RunStore{db: db}
}

// Save upserts the record; only the fields that change during a run are
// updated on conflict.
func (s *RunStore) Save(ctx context.Context, run *qrunner.Run) error {
	_, err := s.db.NewInsert().
		Model(models.FromRun(run)).
		On("CONFLICT (id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("exit_code = EXCLUDED.exit_code").
		Set("failed_task = EXCLUDED.failed_task").
		Set("error_code = EXCLUDED.error_code").
		Set("error = EXCLUDED.error").
		Set("results = EXCLUDED.results").
		Set("artifacts = EXCLUDED.artifacts").
		Set("started_at = EXCLUDED.started_at").
		Set("finished_at = EXCLUDED.finished_at").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *RunStore) Get(ctx context.Context, runID string) (*qrunner.Run, error) {
	m := new(models.Run)
	err := s.db.NewSelect().Model(m).Where("r.id = ?", runID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", runID, qrunner.ErrRunNotFound)
		}
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}
	return m.ToRun(), nil
}

// List returns runs oldest first.
func (s *RunStore) List(ctx context.Context, status *qrunner.RunStatus) ([]*qrunner.Run, error) {
	var rows []models.Run
	q := s.db.NewSelect().Model(&rows).Order("r.created_at ASC", "r.id ASC")
	if status != nil {
		q = q.Where("r.status = ?", string(*status))
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	runs := make([]*qrunner.Run, 0, len(rows))
	for i := range rows {
		runs = append(runs, rows[i].ToRun())
	}
	return runs, nil
}

var _ qrunner.RunStore = (*RunStore)(nil)
