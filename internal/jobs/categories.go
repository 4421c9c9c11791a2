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

// CategoriesJob gathers per-category daily crash aggregates. It only
// considers days the by-type gather has already recorded, so it is meant
// to run after ByTypeJob.
type CategoriesJob struct {
	client    *socorro.Client
	dbManager Database
	cfg       *config.Config
	logger    *slog.Logger
	dataDir   string
}

func NewCategoriesJob(client *socorro.Client, dbManager Database, cfg *config.Config, logger *slog.Logger, dataDir string) *CategoriesJob {
	return &CategoriesJob{
		client:    client,
		dbManager: dbManager,
		cfg:       cfg,
		logger:    logger,
		dataDir:   dataDir,
	}
}

// Name returns the job identifier.
func (j *CategoriesJob) Name() string { return "categories" }

// Run processes the backlog window plus any forced days.
func (j *CategoriesJob) Run(ctx context.Context, forced map[window.Day]bool) error {
	days := window.Plan(j.cfg.SocorroBacklogDays, forced)

	ruleSet, products, err := rules.Load()
	if err != nil {
		return err
	}

	catalogHits, err := j.client.ProductVersions(ctx, rules.ProductNames(products), catalog.EarliestCatalogStart(days[0]))
	if err != nil {
		return fmt.Errorf("categories: version catalog: %w", err)
	}
	resolver := catalog.NewResolver(catalogHits, j.logger)
	engine := aggregate.NewEngine(j.client, j.logger)

	for _, product := range products {
		for _, ch := range product.Channels {
			if err := j.gatherPair(ctx, engine, resolver, product, ch, days, forced, ruleSet); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				j.logger.Error("Category gather failed for pair",
					slog.String("product", product.Name),
					slog.String("channel", string(ch)),
					slog.Any("error", err))
			}
		}
	}

	markCompleted(j.dbManager, j.logger, j.Name())
	return nil
}

func (j *CategoriesJob) gatherPair(ctx context.Context, engine *aggregate.Engine, resolver *catalog.Resolver, product rules.Product, ch catalog.Channel, days []window.Day, forced map[window.Day]bool, ruleSet []rules.CategoryRule) error {
	channel := string(ch)

	catStore, err := store.Open[*aggregate.CategoryAggregate](j.dataDir, store.CategoriesFilename(product.Name, channel))
	if err != nil {
		return err
	}
	// Read-only companion: a day without by-type data has no usable
	// version/install baseline yet.
	typeStore, err := store.Open[*aggregate.TypeAggregate](j.dataDir, store.ByTypeFilename(product.Name, channel))
	if err != nil {
		return err
	}

	maxAge := catalog.MaxBuildAge(ch, true)

	for _, d := range days {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !forced[d] && catStore.Complete(d) {
			continue
		}
		if !typeStore.Complete(d) {
			continue
		}

		j.logger.Info("Fetching category data",
			slog.String("product", product.Name),
			slog.String("channel", channel),
			slog.String("day", string(d)))

		versions, weights := resolver.Resolve(product.Name, ch, d, maxAge)

		agg, err := engine.ByCategory(ctx, product, d, versions, weights, ruleSet)
		if errors.Is(err, aggregate.ErrNoData) {
			j.logger.Debug("No category data yet",
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

		catStore.Merge(d, agg, forced[d])
	}

	return catStore.Save()
}
