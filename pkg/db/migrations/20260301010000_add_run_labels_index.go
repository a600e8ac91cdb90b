package migrations

import (
	"context"

	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		stmts := []string{
			"CREATE INDEX IF NOT EXISTS runs_labels_idx ON qci.runs USING gin (labels)",
			"CREATE INDEX IF NOT EXISTS runs_name_created_at_idx ON qci.runs (name, created_at DESC)",
		}
		for _, stmt := range stmts {
			if _, err := db.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	}, func(ctx context.Context, db *bun.DB) error {
		stmts := []string{
			"DROP INDEX IF EXISTS qci.runs_name_created_at_idx",
			"DROP INDEX IF EXISTS qci.runs_labels_idx",
		}
		for _, stmt := range stmts {
			if _, err := db.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}
