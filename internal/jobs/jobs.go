// Package jobs holds the gather jobs and the interval scheduler that
// re-runs them in serve mode. Each job visits every planned
// (product, channel, day) combination; per-day and per-pair failures
// degrade to a logged skip and never abort the rest of the run.
package jobs

import (
	"log/slog"
	"time"

	"gorm.io/gorm"

	"crashgather/internal/settings"
)

// Database is the slice of the database manager the jobs need.
type Database interface {
	GetConnection() *gorm.DB
}

// markCompleted records a gather's completion time for the status
// command. Jobs run fine without a database (nothing else depends on
// the marker).
func markCompleted(dbManager Database, logger *slog.Logger, kind string) {
	if dbManager == nil {
		return
	}
	db := dbManager.GetConnection()
	if db == nil {
		return
	}
	if err := settings.SetLastRun(logger, db, kind, time.Now()); err != nil {
		logger.Warn("Failed to record last-run marker",
			slog.String("job", kind), slog.Any("error", err))
	}
}
