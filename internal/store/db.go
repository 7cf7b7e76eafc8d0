// Package store owns the SQLite mirror: a queryable,
// rebuildable index over the filesystem's run directories. Every row here
// is derived data — the run directory on disk is the source of truth, and
// the reconciler (reconcile.go) can always rebuild this database from
// scratch by re-walking the storage root.
package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// modernc pure-Go SQLite driver — no CGO required. Registers itself as
	// "sqlite" in database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Config holds the configuration required to open the database.
type Config struct {
	Path     string // filesystem path to runicorn.db
	Logger   *zap.Logger
	LogLevel gormlogger.LogLevel
}

// pragmas are applied on every connection open, before migrations run.
// WAL lets the watcher's writer and the API's readers proceed concurrently;
// the rest trade a small durability window for the write throughput a
// single-node experiment tracker needs under a bursty metrics stream.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
	"PRAGMA temp_store = MEMORY",
	"PRAGMA cache_size = -16000", // 16MB page cache
	"PRAGMA mmap_size = 268435456", // 256MB
	"PRAGMA busy_timeout = 5000",
}

// New opens the database, applies PRAGMAs and pending migrations, and
// returns the ready-to-use *gorm.DB. SQLite allows only one writer at a
// time, so the underlying *sql.DB is capped at a single connection —
// callers needing concurrent reads during a write should use WAL's
// reader/writer isolation rather than additional connections.
func New(cfg Config) (*gorm.DB, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("store: logger is required")
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}

	dsn := cfg.Path + "?_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	for _, p := range pragmas {
		if _, err := sqlDB.Exec(p); err != nil {
			return nil, fmt.Errorf("store: apply pragma %q: %w", p, err)
		}
	}

	gormCfg := &gorm.Config{
		Logger: newZapGORMLogger(cfg.Logger, cfg.LogLevel),
	}
	database, err := gorm.Open(gormsqlite.Dialector{Conn: sqlDB}, gormCfg)
	if err != nil {
		return nil, fmt.Errorf("store: init gorm: %w", err)
	}

	if err := runMigrations(sqlDB, cfg.Logger); err != nil {
		return nil, fmt.Errorf("store: migrations: %w", err)
	}

	return database, nil
}

// Ping verifies that the database connection is still alive.
func Ping(ctx context.Context, database *gorm.DB) error {
	sqlDB, err := database.DB()
	if err != nil {
		return fmt.Errorf("store: get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// runMigrations applies all pending up-migrations embedded in the binary.
// ErrNoChange is treated as success.
func runMigrations(sqlDB *sql.DB, log *zap.Logger) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	drv, err := migratesqlite.WithInstance(sqlDB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create sqlite migrate driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	log.Info("database migrations applied successfully")
	return nil
}
