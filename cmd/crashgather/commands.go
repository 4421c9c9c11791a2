package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"crashgather/internal/jobs"
	"crashgather/internal/server"
	"crashgather/internal/settings"
	"crashgather/internal/window"
)

// ByTypeCommand runs the by-process-type gather.
type ByTypeCommand struct{}

func (c *ByTypeCommand) Name() string { return "bytype" }
func (c *ByTypeCommand) Description() string {
	return "Gather per-process-type daily crash aggregates"
}

func (c *ByTypeCommand) Execute(ctx context.Context, app *App, args []string) error {
	job := jobs.NewByTypeJob(app.Client, app.DBManager, app.Cfg, app.Logger, app.DataDir)
	return job.Run(ctx, window.ForcedSet(args))
}

// CategoriesCommand runs the by-category gather.
type CategoriesCommand struct{}

func (c *CategoriesCommand) Name() string { return "categories" }
func (c *CategoriesCommand) Description() string {
	return "Gather per-category daily crash aggregates"
}

func (c *CategoriesCommand) Execute(ctx context.Context, app *App, args []string) error {
	job := jobs.NewCategoriesJob(app.Client, app.DBManager, app.Cfg, app.Logger, app.DataDir)
	return job.Run(ctx, window.ForcedSet(args))
}

// DailyCommand pulls the per-version daily crash rates.
type DailyCommand struct{}

func (c *DailyCommand) Name() string        { return "daily" }
func (c *DailyCommand) Description() string { return "Gather per-version daily crash rates" }

func (c *DailyCommand) Execute(ctx context.Context, app *App, _ []string) error {
	job := jobs.NewDailyJob(app.Client, app.DBManager, app.Cfg, app.Logger)
	return job.Run(ctx)
}

// AllCommand runs every gather in dependency order.
type AllCommand struct{}

func (c *AllCommand) Name() string        { return "all" }
func (c *AllCommand) Description() string { return "Run bytype, categories, and daily in order" }

func (c *AllCommand) Execute(ctx context.Context, app *App, args []string) error {
	forced := window.ForcedSet(args)

	if err := jobs.NewByTypeJob(app.Client, app.DBManager, app.Cfg, app.Logger, app.DataDir).Run(ctx, forced); err != nil {
		return err
	}
	if err := jobs.NewCategoriesJob(app.Client, app.DBManager, app.Cfg, app.Logger, app.DataDir).Run(ctx, forced); err != nil {
		return err
	}
	return jobs.NewDailyJob(app.Client, app.DBManager, app.Cfg, app.Logger).Run(ctx)
}

// ServeCommand starts the read-only API plus the interval scheduler.
type ServeCommand struct{}

func (c *ServeCommand) Name() string { return "serve" }
func (c *ServeCommand) Description() string {
	return "Serve the aggregates over HTTP and re-run gathers periodically"
}

func (c *ServeCommand) Execute(ctx context.Context, app *App, _ []string) error {
	srv, err := server.New(app.Cfg, app.Logger, app.DBManager, app.DataDir)
	if err != nil {
		return err
	}

	scheduler := jobs.NewScheduler(app.Client, app.DBManager, app.Cfg, app.Logger, app.DataDir)
	scheduler.Start()

	go func() {
		<-ctx.Done()
		scheduler.Stop()
		if err := srv.Shutdown(); err != nil {
			app.Logger.Error("Error during shutdown", slog.Any("error", err))
		}
	}()

	app.Logger.Info("Serving aggregates", slog.String("port", app.Cfg.AppPort))
	return srv.Listen()
}

// StatusCommand prints the last completion time of each gather.
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Show when each gather last completed" }

func (c *StatusCommand) Execute(_ context.Context, app *App, _ []string) error {
	db := app.DBManager.GetConnection()
	if db == nil {
		return fmt.Errorf("database unavailable")
	}

	for _, kind := range []string{"bytype", "categories", "daily"} {
		last := settings.LastRun(db, kind)
		if last.IsZero() {
			fmt.Printf("%-12s never completed\n", kind)
			continue
		}
		fmt.Printf("%-12s %s (%s ago)\n", kind,
			last.Format(time.RFC3339), time.Since(last).Round(time.Second))
	}
	return nil
}

// HelpCommand shows usage.
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Show this help" }

func (c *HelpCommand) Execute(_ context.Context, _ *App, _ []string) error {
	showUsageAndExit()
	return nil
}
