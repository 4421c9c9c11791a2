package jobs

import (
	"context"
	"log/slog"
	"strings"

	"crashgather/internal/config"
	"crashgather/internal/daily"
	"crashgather/internal/rules"
	"crashgather/internal/socorro"
	"crashgather/internal/window"
)

// DailyJob pulls per-version crash rates (CrashesPerAdu) for all
// currently active versions into the crash_rates table.
type DailyJob struct {
	client    *socorro.Client
	dbManager Database
	cfg       *config.Config
	logger    *slog.Logger
}

func NewDailyJob(client *socorro.Client, dbManager Database, cfg *config.Config, logger *slog.Logger) *DailyJob {
	return &DailyJob{
		client:    client,
		dbManager: dbManager,
		cfg:       cfg,
		logger:    logger,
	}
}

// Name returns the job identifier.
func (j *DailyJob) Name() string { return "daily" }

// Run fetches the daily backlog window ending at yesterday. Rows are
// upserted, so re-running a window refreshes counts that were still
// settling upstream.
func (j *DailyJob) Run(ctx context.Context) error {
	dayStart := window.Today().AddDays(-j.cfg.DailyBacklogDays)
	dayEnd := window.Today().AddDays(-1)

	_, products, err := rules.Load()
	if err != nil {
		return err
	}

	catalogHits, err := j.client.CurrentVersions(ctx)
	if err != nil {
		return err
	}

	db := j.dbManager.GetConnection()

	for _, product := range products {
		versions, weights := j.activeVersions(catalogHits, product.Name, dayStart)
		if len(versions) == 0 {
			j.logger.Warn("No active versions for product", slog.String("product", product.Name))
			continue
		}

		j.logger.Info("Fetching daily crash rates",
			slog.String("product", product.Name),
			slog.String("versions", strings.Join(versions, ", ")),
			slog.String("from", string(dayStart)),
			slog.String("to", string(dayEnd)))

		hits, err := j.client.CrashesPerAdu(ctx, product.Name, versions, dayStart, dayEnd)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			j.logger.Warn("Skipping product after fetch error",
				slog.String("product", product.Name), slog.Any("error", err))
			continue
		}

		var maxDay string
		for _, perDay := range hits {
			for dayKey, cell := range perDay {
				tfactor, ok := weights[cell.Version]
				if !ok {
					continue
				}
				crashes := cell.ReportCount * tfactor
				if crashes != 0 || cell.ADU != 0 {
					rate := &daily.CrashRate{
						Product: product.Name,
						Version: cell.Version,
						Day:     dayKey,
						Crashes: crashes,
						ADU:     cell.ADU,
					}
					if err := daily.UpsertRate(j.logger, db, rate); err != nil {
						j.logger.Error("Failed to upsert crash rate",
							slog.String("product", product.Name),
							slog.String("version", cell.Version),
							slog.String("day", dayKey),
							slog.Any("error", err))
					}
				}
				if dayKey > maxDay {
					maxDay = dayKey
				}
			}
		}

		if maxDay < string(dayEnd) {
			j.logger.Warn("Daily data lags behind",
				slog.String("product", product.Name),
				slog.String("last_day", maxDay),
				slog.String("expected", string(dayEnd)))
		}
	}

	markCompleted(j.dbManager, j.logger, j.Name())
	return nil
}

// activeVersions filters the flat catalog to versions of product still
// alive at dayStart, with their sampling-correction weights.
func (j *DailyJob) activeVersions(catalogHits []socorro.VersionInfo, product string, dayStart window.Day) ([]string, map[string]float64) {
	var versions []string
	weights := make(map[string]float64)

	for _, ver := range catalogHits {
		if ver.Product != product || ver.EndDate <= string(dayStart) {
			continue
		}
		if ver.Throttle <= 0 {
			j.logger.Warn("Version has unusable throttle, dropping",
				slog.String("product", product),
				slog.String("version", ver.Version),
				slog.Float64("throttle", ver.Throttle))
			continue
		}
		versions = append(versions, ver.Version)
		weights[ver.Version] = 100 / ver.Throttle
	}

	return versions, weights
}
