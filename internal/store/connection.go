package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure-Go sqlite driver, registered as "sqlite"
)

const (
	sqliteDriver = "sqlite"
	ctxTimeout   = 5 * time.Second
)

// Connection wraps the two *sql.DB handles onto the same local database file: a single-
// connection writer (spec.md §4.A: "a single-writer, multi-reader transactional store") and a
// multi-connection reader. Grounded on internal/storage/types.go's Connection.
type Connection struct {
	Writer *sql.DB
	Reader *sql.DB
}

// NewConnection opens the local sqlite file twice (once for writes, once for reads) and
// performs an immediate health check, exactly as internal/storage/types.go's NewConnection
// does for its single PostgreSQL handle.
func NewConnection(cfg *Config) (*Connection, error) {
	dsn := cfg.Path() + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	writer, err := sql.Open(sqliteDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open writer connection: %w", err)
	}

	writer.SetMaxOpenConns(1)
	writer.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	reader, err := sql.Open(sqliteDriver, dsn)
	if err != nil {
		_ = writer.Close()

		return nil, fmt.Errorf("failed to open reader connection: %w", err)
	}

	reader.SetMaxIdleConns(cfg.MaxIdleConns)
	reader.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), ctxTimeout)
	defer cancel()

	if err := writer.PingContext(ctx); err != nil {
		_ = writer.Close()
		_ = reader.Close()

		return nil, fmt.Errorf("database health check failed: %w", err)
	}

	return &Connection{Writer: writer, Reader: reader}, nil
}

// HealthCheck verifies both handles are reachable.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if ctx == nil {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(context.Background(), ctxTimeout)
		defer cancel()
	}

	if err := c.Writer.PingContext(ctx); err != nil {
		return fmt.Errorf("writer handle unhealthy: %w", err)
	}

	return c.Reader.PingContext(ctx)
}

// Close closes both connection pools. Safe to call multiple times.
func (c *Connection) Close() error {
	writerErr := c.Writer.Close()
	readerErr := c.Reader.Close()

	if writerErr != nil {
		return writerErr
	}

	return readerErr
}
