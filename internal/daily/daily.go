// Package daily persists per-version daily crash rates (crashes per
// active daily installation) pulled from the CrashesPerAdu endpoint.
package daily

import (
	"log/slog"
	"time"

	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"
)

// CrashRate is one (product, version, day) cell. Crashes is already
// throttle-corrected; ADU is the raw active-install denominator.
type CrashRate struct {
	ID        uint    `gorm:"primaryKey;autoIncrement"`
	Product   string  `gorm:"uniqueIndex:idx_crash_rate_unique;not null"`
	Version   string  `gorm:"uniqueIndex:idx_crash_rate_unique;not null"`
	Day       string  `gorm:"uniqueIndex:idx_crash_rate_unique;size:10;not null"`
	Crashes   float64 `gorm:"not null;default:0"`
	ADU       int64   `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpsertRate inserts or refreshes one cell keyed on (product, version, day).
func UpsertRate(logger *slog.Logger, db *gorm.DB, rate *CrashRate) error {
	return sqlite.PerformWrite(logger, db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		return tx.Exec(`
            INSERT INTO crash_rates (product, version, day, crashes, adu, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?, ?, ?)
            ON CONFLICT(product, version, day) DO UPDATE SET
                crashes = excluded.crashes,
                adu = excluded.adu,
                updated_at = excluded.updated_at
        `, rate.Product, rate.Version, rate.Day, rate.Crashes, rate.ADU, now, now).Error
	})
}

// RatesForProduct returns a product's cells within [from, to], ordered
// by version then day.
func RatesForProduct(db *gorm.DB, product, from, to string) ([]CrashRate, error) {
	var rates []CrashRate
	query := db.Where("product = ?", product)
	if from != "" {
		query = query.Where("day >= ?", from)
	}
	if to != "" {
		query = query.Where("day <= ?", to)
	}
	err := query.Order("version, day").Find(&rates).Error
	return rates, err
}
