package migrations

import (
	"context"

	"github.com/quatton/qci/pkg/db/models"
	"github.com/uptrace/bun"
)

func init() {
	Migrations.MustRegister(func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewRaw("CREATE SCHEMA IF NOT EXISTS qci").Exec(ctx); err != nil {
			return err
		}

		_, err := db.NewCreateTable().
			Model((*models.Run)(nil)).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return err
		}

		_, err = db.NewCreateIndex().
			Model((*models.Run)(nil)).
			Index("runs_status_idx").
			Column("status").
			IfNotExists().
			Exec(ctx)
		return err
	}, func(ctx context.Context, db *bun.DB) error {
		if _, err := db.NewDropTable().Model((*models.Run)(nil)).IfExists().Exec(ctx); err != nil {
			return err
		}
		_, err := db.NewRaw("DROP SCHEMA IF EXISTS qci").Exec(ctx)
		return err
	})
}
