// Package server exposes the persisted aggregates over a small
// read-only HTTP API for dashboards.
package server

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"crashgather/internal/catalog"
	"crashgather/internal/config"
	"crashgather/internal/daily"
	"crashgather/internal/rules"
	"crashgather/internal/store"
	"crashgather/internal/window"
)

// Database is the slice of the database manager the handlers need.
type Database interface {
	GetConnection() *gorm.DB
}

// HealthStatus represents the health check response
type HealthStatus struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	DBStatus  string    `json:"db_status"`
}

// Server serves the aggregate documents and crash-rate queries.
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	logger    *slog.Logger
	dbManager Database
	dataDir   string

	// product -> allowed channels, from the rules database
	channels map[string]map[catalog.Channel]bool
}

// New builds the fiber app and its routes.
func New(cfg *config.Config, logger *slog.Logger, dbManager Database, dataDir string) (*Server, error) {
	_, products, err := rules.Load()
	if err != nil {
		return nil, err
	}

	channels := make(map[string]map[catalog.Channel]bool, len(products))
	for _, p := range products {
		set := make(map[catalog.Channel]bool, len(p.Channels))
		for _, ch := range p.Channels {
			set[ch] = true
		}
		channels[p.Name] = set
	}

	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               cfg.AppName,
			DisableStartupMessage: cfg.IsTest(),
		}),
		cfg:       cfg,
		logger:    logger,
		dbManager: dbManager,
		dataDir:   dataDir,
		channels:  channels,
	}

	s.app.Get("/health", s.health)

	v1 := s.app.Group("/api/v1")
	v1.Get("/crashes/:product/:channel/bytype", s.document(store.ByTypeFilename))
	v1.Get("/crashes/:product/:channel/categories", s.document(store.CategoriesFilename))
	v1.Get("/rates/:product", s.rates)

	return s, nil
}

// App returns the underlying fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen blocks serving on the configured port.
func (s *Server) Listen() error {
	return s.app.Listen(":" + s.cfg.AppPort)
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) health(c *fiber.Ctx) error {
	dbStatus := "ok"

	db := s.dbManager.GetConnection()
	if db == nil {
		dbStatus = "error"
		s.logger.Error("Database connection unavailable")
	} else {
		sqlDB, err := db.DB()
		if err != nil {
			dbStatus = "error"
			s.logger.Error("Database connection error", slog.Any("error", err))
		} else if err := sqlDB.Ping(); err != nil {
			dbStatus = "error"
			s.logger.Error("Database ping failed", slog.Any("error", err))
		}
	}

	health := HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		DBStatus:  dbStatus,
	}
	if dbStatus != "ok" {
		health.Status = "degraded"
	}

	return c.JSON(health)
}

// document serves one persisted aggregate file verbatim. A pair that
// was never gathered yet answers with an empty object, matching the
// store's missing-file-is-empty semantics.
func (s *Server) document(filename func(product, channel string) string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		product := c.Params("product")
		channel := catalog.ParseChannel(c.Params("channel"))

		allowed, known := s.channels[product]
		if !known || !allowed[channel] {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "unknown product or channel",
			})
		}

		path := filepath.Join(s.dataDir, filename(product, string(channel)))
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			data = []byte("{}")
		} else if err != nil {
			s.logger.Error("Failed to read aggregate document",
				slog.String("path", path), slog.Any("error", err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to read aggregate document",
			})
		}

		c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		return c.Send(data)
	}
}

func (s *Server) rates(c *fiber.Ctx) error {
	product := c.Params("product")
	if _, known := s.channels[product]; !known {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "unknown product",
		})
	}

	from := c.Query("from", "")
	to := c.Query("to", "")
	for _, d := range []string{from, to} {
		if d != "" && !window.Day(d).Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "from/to must be YYYY-MM-DD",
			})
		}
	}

	db := s.dbManager.GetConnection()
	if db == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "database unavailable",
		})
	}

	rates, err := daily.RatesForProduct(db, product, from, to)
	if err != nil {
		s.logger.Error("Failed to query crash rates",
			slog.String("product", product), slog.Any("error", err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to query crash rates",
		})
	}

	type rateDTO struct {
		Version string  `json:"version"`
		Day     string  `json:"day"`
		Crashes float64 `json:"crashes"`
		ADU     int64   `json:"adu"`
	}
	out := make([]rateDTO, 0, len(rates))
	for _, r := range rates {
		out = append(out, rateDTO{Version: r.Version, Day: r.Day, Crashes: r.Crashes, ADU: r.ADU})
	}

	return c.JSON(fiber.Map{"product": product, "rates": out})
}
