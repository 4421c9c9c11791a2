// Package settings is a small key-value table used for run bookkeeping,
// currently the per-gather last-completion markers shown by the status
// command.
package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// Setting represents a configuration item in the database
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// GetSetting returns the value for key, or "" when it was never set.
func GetSetting(db *gorm.DB, key string) (string, error) {
	var setting Setting
	err := db.Where("key = ?", key).First(&setting).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}

// CreateOrUpdateSetting upserts a key.
func CreateOrUpdateSetting(logger *slog.Logger, db *gorm.DB, key, value string) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		err := tx.Exec(`
            INSERT INTO settings (key, value, created_at, updated_at)
            VALUES (?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
        `, key, value, now, now).Error
		if err != nil {
			return fmt.Errorf("failed to upsert setting %s: %w", key, err)
		}
		return nil
	})
}

func lastRunKey(kind string) string {
	return "last_run_" + kind
}

// LastRun returns when the named gather last completed, or the zero time.
func LastRun(db *gorm.DB, kind string) time.Time {
	value, err := GetSetting(db, lastRunKey(kind))
	if err != nil || value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// SetLastRun records a gather completion time.
func SetLastRun(logger *slog.Logger, db *gorm.DB, kind string, t time.Time) error {
	return CreateOrUpdateSetting(logger, db, lastRunKey(kind), t.UTC().Format(time.RFC3339))
}
