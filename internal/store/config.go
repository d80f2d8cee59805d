package store

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute
)

// ErrDatabasePathEmpty is returned when the database file path is an empty string.
var ErrDatabasePathEmpty = errors.New("database path cannot be empty")

// Config holds local sqlite file configuration, grounded on internal/storage/config.go's
// PostgreSQL Config but retargeted to a single local file (SPEC_FULL.md).
type Config struct {
	databasePath string
	// MaxIdleConns bounds the read-only connection pool. The writer pool is always capped
	// at 1 connection (spec.md §4.A: "a single-writer, multi-reader transactional store").
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// LoadConfig loads local database configuration from environment variables with fallback to
// defaults, in the shape of internal/storage/config.go's LoadConfig.
func LoadConfig() *Config {
	return &Config{
		databasePath:    getEnvStr("STATION_DB_PATH", "station.db"),
		MaxIdleConns:    getEnvInt("STATION_DB_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: getEnvDuration("STATION_DB_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: getEnvDuration("STATION_DB_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// Validate checks if the local database configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databasePath) == "" {
		return ErrDatabasePathEmpty
	}

	return nil
}

// Path returns the configured database file path.
func (c *Config) Path() string {
	return c.databasePath
}

func getEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}

	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}

	return defaultValue
}
