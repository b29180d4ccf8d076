// Package database provides the PostgreSQL connection pool and embedded
// schema migrations shared by every durable-store package (agentstore,
// dialectic, knowledge, audit). Grounded on the teacher's
// pkg/database/client.go (pgx driver, golang-migrate with an embed.FS
// source, a wrapping Client type), adapted from ent+database/sql to a
// bare pgxpool.Pool since this repo has no generated ORM client.
package database

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver for migrate
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds connection and pool tuning parameters.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DSN renders the libpq-style connection string NewClient and the
// migration driver both use.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Client wraps a pgx connection pool.
type Client struct {
	Pool *pgxpool.Pool
}

// NewClient opens a pooled connection, applies embedded migrations, and
// returns a ready-to-use Client. Migrations run once at startup, the way
// the teacher's NewClient does.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	return newClient(ctx, cfg.DSN(), cfg.MaxConns, cfg.MinConns, cfg.ConnMaxLifetime, cfg.ConnMaxIdleTime, cfg.Database)
}

// NewClientFromDSN opens a pooled connection and applies embedded
// migrations against a pre-built libpq-style DSN, for callers (tests) that
// receive a ready-made connection string rather than discrete fields —
// e.g. a CI-provisioned CI_DATABASE_URL.
func NewClientFromDSN(ctx context.Context, dsn string) (*Client, error) {
	return newClient(ctx, dsn, 0, 0, 0, 0, "")
}

func newClient(ctx context.Context, dsn string, maxConns, minConns int32, maxLifetime, maxIdleTime time.Duration, migrationName string) (*Client, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("database: parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	if minConns > 0 {
		poolCfg.MinConns = minConns
	}
	if maxLifetime > 0 {
		poolCfg.MaxConnLifetime = maxLifetime
	}
	if maxIdleTime > 0 {
		poolCfg.MaxConnIdleTime = maxIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("database: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	if migrationName == "" {
		migrationName = poolCfg.ConnConfig.Database
	}
	if err := runMigrationsDSN(dsn, migrationName); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database: migrate: %w", err)
	}

	return &Client{Pool: pool}, nil
}

// Close releases the pool.
func (c *Client) Close() { c.Pool.Close() }

// runMigrationsDSN applies all pending embedded migrations using a
// short-lived database/sql handle, mirroring the teacher's
// golang-migrate + iofs.New(embed.FS) pattern.
func runMigrationsDSN(dsn, migrationName string) error {
	has, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !has {
		return fmt.Errorf("no embedded migration files found")
	}

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, migrationName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	for _, e := range entries {
		if !e.IsDir() && len(e.Name()) > 4 && e.Name()[len(e.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}

// Health reports pool connectivity and utilization for the health_check
// operation (spec.md §6).
type Health struct {
	Healthy       bool   `json:"healthy"`
	Error         string `json:"error,omitempty"`
	AcquiredConns int32  `json:"acquired_conns"`
	IdleConns     int32  `json:"idle_conns"`
	MaxConns      int32  `json:"max_conns"`
}

// CheckHealth pings the pool and reports its current stats.
func CheckHealth(ctx context.Context, c *Client) Health {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.Pool.Ping(ctx); err != nil {
		return Health{Healthy: false, Error: err.Error()}
	}
	stat := c.Pool.Stat()
	return Health{
		Healthy:       true,
		AcquiredConns: stat.AcquiredConns(),
		IdleConns:     stat.IdleConns(),
		MaxConns:      stat.MaxConns(),
	}
}
