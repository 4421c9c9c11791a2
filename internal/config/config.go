// Package config provides configuration management using Viper
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Environment types
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LogLevel represents the logging level for the application
type LogLevel string

// Available log levels
const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// DefaultAPIBaseURL is the public Socorro crash-stats API root.
const DefaultAPIBaseURL = "https://crash-stats.mozilla.com/api/"

// Config holds all configuration parameters for the application
type Config struct {
	// Application settings
	AppName     string   `mapstructure:"appname"`
	AppPort     string   `mapstructure:"appport"`
	Environment string   `mapstructure:"environment"`
	LogLevel    LogLevel `mapstructure:"loglevel"`

	// Crash-stats API settings
	APIBaseURL        string `mapstructure:"apibaseurl"`
	APITimeoutSeconds int    `mapstructure:"apitimeoutseconds"`

	// Data storage. DataDir wins when set; otherwise the first usable
	// entry of DataDirCandidates is picked at startup.
	DataDir           string   `mapstructure:"datadir"`
	DataDirCandidates []string `mapstructure:"datadircandidates"`
	DatabasePath      string   `mapstructure:"storagepath"`
	DatabaseName      string   `mapstructure:"-"` // Derived from other settings

	// Logging settings
	LogsDirectory    string `mapstructure:"logsdir"`
	LogsMaxSizeInMb  int    `mapstructure:"logsmaxsizeinmb"`
	LogsMaxBackups   int    `mapstructure:"logsmaxbackups"`
	LogsMaxAgeInDays int    `mapstructure:"logsmaxageindays"`

	// Database settings
	DatabaseMaxOpenConns int `mapstructure:"dbmaxopenconns"`
	DatabaseMaxIdleConns int `mapstructure:"dbmaxidleconns"`

	// Gather windows, in days of backlog ending at yesterday.
	DailyBacklogDays   int `mapstructure:"dailybacklogdays"`
	SocorroBacklogDays int `mapstructure:"socorrobacklogdays"`
	// Reserved for the explosive-crash variant of the daily gather.
	ExplosiveBacklogDays int `mapstructure:"explosivebacklogdays"`

	// Interval between gather runs in serve mode.
	GatherIntervalSeconds int `mapstructure:"gatherintervalseconds"`
}

var (
	cfg  *Config
	once sync.Once
)

// GetConfig returns the application configuration
func GetConfig() *Config {
	once.Do(func() {
		v := viper.New()

		// Defaults
		v.SetDefault("appname", "crashgather")
		v.SetDefault("appport", "3000")
		v.SetDefault("environment", Development)
		v.SetDefault("loglevel", string(LogLevelInfo))
		v.SetDefault("apibaseurl", DefaultAPIBaseURL)
		v.SetDefault("apitimeoutseconds", 120)
		v.SetDefault("datadir", "")
		v.SetDefault("datadircandidates", []string{
			"/mnt/crashanalysis/crashgather/",
			"/var/lib/crashgather/",
			"data",
		})
		v.SetDefault("storagepath", "storage")
		v.SetDefault("logsdir", "logs")
		v.SetDefault("logsmaxsizeinmb", 20)
		v.SetDefault("logsmaxbackups", 10)
		v.SetDefault("logsmaxageindays", 30)
		v.SetDefault("dbmaxopenconns", 0)
		v.SetDefault("dbmaxidleconns", 0)
		v.SetDefault("dailybacklogdays", 7)
		v.SetDefault("socorrobacklogdays", 15)
		v.SetDefault("explosivebacklogdays", 20)
		v.SetDefault("gatherintervalseconds", 6*60*60)

		// Bind environment variables
		v.BindEnv("appname", "CRASHGATHER_APP_NAME")
		v.BindEnv("appport", "CRASHGATHER_APP_PORT")
		v.BindEnv("environment", "CRASHGATHER_ENV")
		v.BindEnv("loglevel", "CRASHGATHER_LOG_LEVEL")
		v.BindEnv("apibaseurl", "CRASHGATHER_API_BASE_URL")
		v.BindEnv("apitimeoutseconds", "CRASHGATHER_API_TIMEOUT_SECONDS")
		v.BindEnv("datadir", "CRASHGATHER_DATA_DIR")
		v.BindEnv("storagepath", "CRASHGATHER_STORAGE_PATH")
		v.BindEnv("logsdir", "CRASHGATHER_LOGS_DIR")
		v.BindEnv("logsmaxsizeinmb", "CRASHGATHER_LOGS_MAX_SIZE_IN_MB")
		v.BindEnv("logsmaxbackups", "CRASHGATHER_LOGS_MAX_BACKUPS")
		v.BindEnv("logsmaxageindays", "CRASHGATHER_LOGS_MAX_AGE_IN_DAYS")
		v.BindEnv("dbmaxopenconns", "CRASHGATHER_DB_MAX_OPEN_CONNS")
		v.BindEnv("dbmaxidleconns", "CRASHGATHER_DB_MAX_IDLE_CONNS")
		v.BindEnv("dailybacklogdays", "CRASHGATHER_DAILY_BACKLOG_DAYS")
		v.BindEnv("socorrobacklogdays", "CRASHGATHER_SOCORRO_BACKLOG_DAYS")
		v.BindEnv("explosivebacklogdays", "CRASHGATHER_EXPLOSIVE_BACKLOG_DAYS")
		v.BindEnv("gatherintervalseconds", "CRASHGATHER_GATHER_INTERVAL_SECONDS")

		cfg = &Config{}
		if err := v.Unmarshal(cfg); err != nil {
			log.Fatalf("config: failed to unmarshal configuration: %v", err)
		}

		if err := cfg.validate(); err != nil {
			log.Fatalf("config: invalid configuration: %v", err)
		}

		// Set derived values
		cfg.DatabaseName = cfg.GetDatabasePath()
	})
	return cfg
}

// validate checks the configuration for errors
func (c *Config) validate() error {
	validEnvs := map[string]bool{
		Development: true,
		Production:  true,
		Test:        true,
	}
	if !validEnvs[c.Environment] {
		return fmt.Errorf("invalid environment: %s", c.Environment)
	}

	if !strings.HasSuffix(c.APIBaseURL, "/") {
		c.APIBaseURL += "/"
	}

	if c.DailyBacklogDays < 1 || c.SocorroBacklogDays < 1 {
		return fmt.Errorf("backlog windows must be at least one day")
	}

	return nil
}

// ResolveDataDir returns the directory that aggregate documents are
// written to. An explicitly configured DataDir is created when missing;
// otherwise the first candidate that exists and is a directory wins.
// No usable directory is the only fatal configuration condition, so
// callers are expected to abort the run on error.
func (c *Config) ResolveDataDir() (string, error) {
	if c.DataDir != "" {
		if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
			return "", fmt.Errorf("data dir %s not usable: %w", c.DataDir, err)
		}
		return c.DataDir, nil
	}

	for _, candidate := range c.DataDirCandidates {
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("no usable data directory among candidates %v", c.DataDirCandidates)
}

// GetDatabasePath returns the appropriate database path based on environment
func (c *Config) GetDatabasePath() string {
	if c.DatabaseName == "" {
		c.DatabaseName = filepath.Join(c.DatabasePath,
			fmt.Sprintf("%s-%s.db", c.AppName, c.Environment))
	}
	return c.DatabaseName
}

// IsDevelopment returns true if the environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == Development
}

// IsProduction returns true if the environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == Production
}

// IsTest returns true if the environment is test
func (c *Config) IsTest() bool {
	return c.Environment == Test
}

// GetAPITimeout returns the HTTP timeout for crash-stats API calls in seconds.
func (c *Config) GetAPITimeout() int {
	if c.APITimeoutSeconds <= 0 {
		return 120
	}
	return c.APITimeoutSeconds
}

// GetMaxOpenConns returns the appropriate MaxOpenConns value based on
// environment. If explicitly set via env var, uses that value. Otherwise
// a single connection in tests and a small pool elsewhere.
func (c *Config) GetMaxOpenConns() int {
	if c.DatabaseMaxOpenConns > 0 {
		return c.DatabaseMaxOpenConns
	}
	if c.Environment == Test {
		return 1
	}
	return 10
}

// GetMaxIdleConns returns the appropriate MaxIdleConns value
func (c *Config) GetMaxIdleConns() int {
	if c.DatabaseMaxIdleConns > 0 {
		return c.DatabaseMaxIdleConns
	}
	if c.Environment == Test {
		return 1
	}
	return 5
}
