package main

import (
	"context"
	"os"
	"path/filepath"

	"sigfit/adapters/postgres"
	"sigfit/domain/run"
	"sigfit/internal"
	"sigfit/internal/migration"
	"sigfit/internal/report"
)

func main() {
	logger := internal.NewDefaultLogger()

	if len(os.Args) < 2 {
		logger.Error("Usage: migrate <database_url|sqlite://path> [output_dir]")
		os.Exit(2)
	}

	databaseURL := os.Args[1]
	ctx := context.Background()

	db, err := postgres.Connect(databaseURL)
	if err != nil {
		logger.Error("Failed to connect to database: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	runner := migration.NewRunner(logger)
	if err := runner.Run(ctx, db); err != nil {
		logger.Error("Migration failed: %v", err)
		os.Exit(1)
	}

	if len(os.Args) < 3 {
		return
	}
	outputDir := os.Args[2]

	files, err := findSummaryFiles(outputDir)
	if err != nil {
		logger.Error("Failed to find result files: %v", err)
		os.Exit(1)
	}
	logger.Info("Found %d result files to backfill from %s", len(files), outputDir)

	repo := postgres.NewFitRunRepository(db)
	migrated, skipped := 0, 0
	for _, file := range files {
		summary, err := report.ReadSummary(file)
		if err != nil {
			logger.Warn("Failed to load %s: %v", file, err)
			skipped++
			continue
		}

		if _, err := repo.GetRun(ctx, summary.RunID); err == nil {
			logger.Debug("Run %s already recorded", summary.RunID)
			skipped++
			continue
		}

		if err := repo.SaveRun(ctx, summary.Record(), summary.Result()); err != nil {
			logger.Warn("Failed to save run %s: %v", summary.RunID, err)
			skipped++
			continue
		}

		migrated++
		logger.Info("Backfilled run %s (%s)", summary.RunID, summary.Label)
	}

	logger.Info("Backfill complete: %d migrated, %d skipped", migrated, skipped)
}

// findSummaryFiles collects <dir>/runs/*/result.json.
func findSummaryFiles(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, run.RunsDir, "*", report.SummaryFile))
}
