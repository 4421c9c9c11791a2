// Package testsupport holds shared helpers for package tests: an
// in-memory database, a quiet logger, and a fake crash-stats API.
package testsupport

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"crashgather/internal/config"
	"crashgather/internal/daily"
	"crashgather/internal/settings"
	"crashgather/internal/socorro"
)

// testDBCache caches test databases by test name to allow multiple calls
// within the same test to share the same database
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager exposes a plain gorm connection behind the Database
// interface the jobs and server accept.
type TestDBManager struct {
	db *gorm.DB
}

func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{db: db}
}

func (m *TestDBManager) GetConnection() *gorm.DB { return m.db }

// allModels returns every model the gathers persist.
func allModels() []any {
	return []any{
		&daily.CrashRate{},
		&settings.Setting{},
	}
}

// SetupTestDB creates a test database with all models migrated.
// Uses a named in-memory database with cache=shared to allow multiple
// connections to share the same database within a test. Caches the
// database by test name so multiple calls within the same test return
// the same database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	testName := t.Name()

	// Use root test name for caching to handle closure issues where
	// setup functions capture the outer t while t.Run has subtest t
	rootName := testName
	if idx := strings.Index(testName, "/"); idx > 0 {
		rootName = testName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(allModels()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB, err := db.DB()
		if err == nil {
			sqlDB.Close()
		}
	})

	return db
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// TestConfig returns a config pointed at the given API base URL with
// test-friendly gather windows.
func TestConfig(apiBaseURL string) *config.Config {
	if !strings.HasSuffix(apiBaseURL, "/") {
		apiBaseURL += "/"
	}
	return &config.Config{
		AppName:               "crashgather",
		AppPort:               "3000",
		Environment:           config.Test,
		LogLevel:              config.LogLevelError,
		APIBaseURL:            apiBaseURL,
		APITimeoutSeconds:     5,
		DailyBacklogDays:      7,
		SocorroBacklogDays:    15,
		ExplosiveBacklogDays:  20,
		GatherIntervalSeconds: 3600,
	}
}

// FakeCrashStats is an httptest server that answers crash-stats API
// endpoints with canned JSON. Handlers are keyed by endpoint name, e.g.
// "ADI" for requests to /ADI/.
type FakeCrashStats struct {
	Server *httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	// Requests records every (endpoint, query) pair seen, in order.
	Requests []RecordedRequest
}

type RecordedRequest struct {
	Endpoint string
	Query    string
}

// NewFakeCrashStats starts the fake server. It is shut down with the
// test.
func NewFakeCrashStats(t *testing.T) *FakeCrashStats {
	t.Helper()

	f := &FakeCrashStats{handlers: make(map[string]http.HandlerFunc)}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := strings.Trim(r.URL.Path, "/")

		f.mu.Lock()
		f.Requests = append(f.Requests, RecordedRequest{Endpoint: endpoint, Query: r.URL.RawQuery})
		h, ok := f.handlers[endpoint]
		f.mu.Unlock()

		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		h(w, r)
	}))
	t.Cleanup(f.Server.Close)
	return f
}

// Handle installs a handler for one endpoint name.
func (f *FakeCrashStats) Handle(endpoint string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[endpoint] = h
}

// Respond installs a handler that always answers with body.
func (f *FakeCrashStats) Respond(endpoint, body string) {
	f.Handle(endpoint, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, body)
	})
}

// Client returns a socorro client pointed at the fake server.
func (f *FakeCrashStats) Client() *socorro.Client {
	return socorro.NewClient(TestConfig(f.Server.URL), GetLogger())
}
