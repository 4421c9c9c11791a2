package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"crashgather/internal/config"
	"crashgather/internal/socorro"
)

// Scheduler re-runs the gather cycle at a fixed interval in serve mode.
// Gathers are idempotent, so an interval much shorter than the upstream
// data cadence only costs API calls, never duplicate data.
type Scheduler struct {
	logger    *slog.Logger
	cfg       *config.Config
	ctx       context.Context
	cancel    context.CancelFunc
	isRunning bool

	// Mutex to prevent concurrent gather cycles
	processingMutex sync.Mutex
	isProcessing    bool

	// Job instances
	bytypeJob     *ByTypeJob
	categoriesJob *CategoriesJob
	dailyJob      *DailyJob

	gatherTicker *time.Ticker
}

func NewScheduler(client *socorro.Client, dbManager Database, cfg *config.Config, logger *slog.Logger, dataDir string) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		logger:        logger,
		cfg:           cfg,
		ctx:           ctx,
		cancel:        cancel,
		bytypeJob:     NewByTypeJob(client, dbManager, cfg, logger, dataDir),
		categoriesJob: NewCategoriesJob(client, dbManager, cfg, logger, dataDir),
		dailyJob:      NewDailyJob(client, dbManager, cfg, logger),
	}
}

// executeSafely runs the gather cycle only if no previous cycle is
// still going.
func (s *Scheduler) executeSafely() {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping gather cycle - previous cycle still running")
		s.processingMutex.Unlock()
		return
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in gather cycle", slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	s.runCycle()
}

// runCycle runs bytype, then categories (which depends on bytype
// output), then the daily rates. Each job's failure is logged and the
// cycle moves on.
func (s *Scheduler) runCycle() {
	if err := s.bytypeJob.Run(s.ctx, nil); err != nil {
		s.logger.Error("By-type gather failed", slog.Any("error", err))
	}
	if err := s.categoriesJob.Run(s.ctx, nil); err != nil {
		s.logger.Error("Category gather failed", slog.Any("error", err))
	}
	if err := s.dailyJob.Run(s.ctx); err != nil {
		s.logger.Error("Daily gather failed", slog.Any("error", err))
	}
}

// Start begins the periodic gather cycle.
func (s *Scheduler) Start() {
	if s.isRunning {
		s.logger.Info("Gather scheduler already running.")
		return
	}
	s.isRunning = true

	interval := time.Duration(s.cfg.GatherIntervalSeconds) * time.Second
	s.logger.Info("Starting gather scheduler", slog.Duration("interval", interval))
	s.gatherTicker = time.NewTicker(interval)

	go func() {
		// Run an initial cycle right away
		s.executeSafely()

		for {
			select {
			case <-s.gatherTicker.C:
				s.executeSafely()
			case <-s.ctx.Done():
				s.logger.Info("Gather scheduler stopped")
				return
			}
		}
	}()
}

// Stop halts the scheduler.
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping gather scheduler...")
	if s.gatherTicker != nil {
		s.gatherTicker.Stop()
	}
	s.cancel()
	s.isRunning = false
}

// IsRunning returns whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	return s.isRunning
}
