// Command migrate applies (or with "down", rolls back) the qci.runs schema.
package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/quatton/qci/pkg/db"
	"github.com/quatton/qci/pkg/qlog"
)

func main() {
	logger := qlog.NewDefault()

	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file found")
	} else {
		logger.Info("loaded .env file")
	}

	ctx := context.Background()

	var cfg db.Config
	if err := envconfig.Process("DB", &cfg); err != nil {
		logger.Fatalf("failed to process env vars: %v", err)
	}

	database, err := db.New(ctx, cfg)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	if len(os.Args) > 1 && os.Args[1] == "down" {
		if err := db.Rollback(ctx, database, logger); err != nil {
			logger.Fatalf("%v", err)
		}
		return
	}

	logger.Info("running migrations", "host", cfg.Host, "database", cfg.Database)
	if err := db.Migrate(ctx, database, logger); err != nil {
		logger.Fatalf("%v", err)
	}
}
