// Package postgres is the production ports.RelationalStorePort adapter: a
// plain database/sql pool over the pgx/v5 driver, with golang-migrate
// applying embedded schema migrations on startup. Grounded on a
// pkg/database.Client (same pool/migration shape), minus ent: the core talks
// to this package only through ports.RelationalStorePort's narrow method
// set, so there is no generated-client surface to wrap.
package postgres

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations
var migrationsFS embed.FS

// Store implements ports.RelationalStorePort and backup.RelationalSnapshotSource.
type Store struct {
	db *stdsql.DB
}

// New opens a connection pool against cfg and applies any pending embedded
// migrations.
func New(ctx context.Context, cfg Config) (*Store, error) {
	db, err := stdsql.Open("pgx", cfg.dsn())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// NewFromDB wraps an already-open *sql.DB, for callers that manage their
// own pool lifecycle. It applies no migrations.
func NewFromDB(db *stdsql.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *stdsql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func runMigrations(db *stdsql.DB, databaseName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres migration driver: %w", err)
	}
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, databaseName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}
	// Do not call m.Close(): it closes the shared *sql.DB via the postgres
	// driver. Closing only the source is enough to release its handle.
	return sourceDriver.Close()
}

// HealthStatus mirrors database/sql.DBStats alongside a connectivity probe.
type HealthStatus struct {
	Status          string
	ResponseTime    time.Duration
	OpenConnections int
	InUse           int
	Idle            int
}

// HealthCheck pings the pool and reports its current stats, used directly
// by pkg/health's relational-store probe via Health(ctx).
func (s *Store) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	start := time.Now()
	if err := s.db.PingContext(ctx); err != nil {
		return &HealthStatus{Status: "unhealthy", ResponseTime: time.Since(start)}, err
	}
	stats := s.db.Stats()
	return &HealthStatus{
		Status:          "healthy",
		ResponseTime:    time.Since(start),
		OpenConnections: stats.OpenConnections,
		InUse:           stats.InUse,
		Idle:            stats.Idle,
	}, nil
}

// Health implements ports.RelationalStorePort's reachability check.
func (s *Store) Health(ctx context.Context) error {
	_, err := s.HealthCheck(ctx)
	return err
}
