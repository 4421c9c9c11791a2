package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"crashgather/internal/aggregate"
	"crashgather/internal/catalog"
	"crashgather/internal/config"
	"crashgather/internal/rules"
	"crashgather/internal/socorro"
	"crashgather/internal/store"
	"crashgather/internal/window"
)

// ByTypeJob gathers per-process-type daily crash aggregates for every
// configured (product, channel) pair.
type ByTypeJob struct {
	client    *socorro.Client
	dbManager Database
	cfg       *config.Config
	logger    *slog.Logger
	dataDir   string
}

func NewByTypeJob(client *socorro.Client, dbManager Database, cfg *config.Config, logger *slog.Logger, dataDir string) *ByTypeJob {
	return &ByTypeJob{
		client:    client,
		dbManager: dbManager,
		cfg:       cfg,
		logger:    logger,
		dataDir:   dataDir,
	}
}

// Name returns the job identifier.
func (j *ByTypeJob) Name() string { return "bytype" }

// Run processes the backlog window plus any forced days. Days already
// recorded with a non-zero install count are skipped unless forced.
func (j *ByTypeJob) Run(ctx context.Context, forced map[window.Day]bool) error {
	days := window.Plan(j.cfg.SocorroBacklogDays, forced)

	_, products, err := rules.Load()
	if err != nil {
		return err
	}

	platforms, err := j.client.Platforms(ctx)
	if err != nil {
		return fmt.Errorf("bytype: platforms: %w", err)
	}

	// One catalog fetch covers the whole run; the unknown-channel build
	// age is the widest window any channel below can ask for.
	catalogHits, err := j.client.ProductVersions(ctx, rules.ProductNames(products), catalog.EarliestCatalogStart(days[0]))
	if err != nil {
		return fmt.Errorf("bytype: version catalog: %w", err)
	}
	resolver := catalog.NewResolver(catalogHits, j.logger)
	engine := aggregate.NewEngine(j.client, j.logger)

	for _, product := range products {
		for _, ch := range product.Channels {
			if err := j.gatherPair(ctx, engine, resolver, product, ch, days, forced, platforms); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				j.logger.Error("By-type gather failed for pair",
					slog.String("product", product.Name),
					slog.String("channel", string(ch)),
					slog.Any("error", err))
			}
		}
	}

	markCompleted(j.dbManager, j.logger, j.Name())
	return nil
}

func (j *ByTypeJob) gatherPair(ctx context.Context, engine *aggregate.Engine, resolver *catalog.Resolver, product rules.Product, ch catalog.Channel, days []window.Day, forced map[window.Day]bool, platforms []string) error {
	channel := string(ch)

	st, err := store.Open[*aggregate.TypeAggregate](j.dataDir, store.ByTypeFilename(product.Name, channel))
	if err != nil {
		return err
	}

	maxAge := catalog.MaxBuildAge(ch, true)

	for _, d := range days {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !forced[d] && st.Complete(d) {
			continue
		}

		j.logger.Info("Fetching per-type daily data",
			slog.String("product", product.Name),
			slog.String("channel", channel),
			slog.String("day", string(d)))

		versions, weights := resolver.Resolve(product.Name, ch, d, maxAge)

		agg, err := engine.ByType(ctx, product.Name, d, versions, weights, platforms)
		if errors.Is(err, aggregate.ErrNoData) {
			j.logger.Debug("No by-type data yet",
				slog.String("product", product.Name),
				slog.String("channel", channel),
				slog.String("day", string(d)))
			continue
		}
		var fetchErr *aggregate.FetchError
		if errors.As(err, &fetchErr) {
			j.logger.Warn("Skipping day after fetch error",
				slog.String("product", product.Name),
				slog.String("channel", channel),
				slog.String("day", string(d)),
				slog.Any("error", err))
			continue
		}
		if err != nil {
			return err
		}

		st.Merge(d, agg, forced[d])
	}

	return st.Save()
}
