// Package registry implements the coordinator's small relational registry
// of known journal/timeline ids, client registrations, and reducer
// digests — independent of the page-addressed replicated database itself.
// Grounded on dittofs's control-plane GORM store (pkg/controlplane/store/
// gorm.go): SQLite by default, Postgres for HA coordinator deployments,
// selected by the same DatabaseType switch.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/golang-migrate/migrate/v4"
	migratepostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/sqlsync/sqlsync/pkg/registry/migrations"
)

// DatabaseType selects the registry's backing SQL database.
type DatabaseType string

const (
	DatabaseTypeSQLite   DatabaseType = "sqlite"
	DatabaseTypePostgres DatabaseType = "postgres"
)

// Config configures the registry's database connection.
type Config struct {
	Type DatabaseType
	// DSN is the sqlite file path (Type == sqlite) or a postgres
	// connection string (Type == postgres).
	DSN string
}

// KnownJournal records a client timeline the coordinator has ever
// replicated from, so operators can enumerate connected clients without
// scanning the data directory.
type KnownJournal struct {
	ID        string `gorm:"primaryKey"`
	FirstSeen time.Time
	LastLSN   uint64
}

// ReducerDigest records the content hash of the reducer wasm module a
// document was opened with, so a coordinator can detect when a client's
// reducer has drifted from the one it last applied mutations with.
type ReducerDigest struct {
	DocumentID string `gorm:"primaryKey"`
	SHA256Hex  string
	UpdatedAt  time.Time
}

// allModels lists every model AutoMigrate must create, mirroring
// dittofs's models.AllModels().
func allModels() []interface{} {
	return []interface{}{&KnownJournal{}, &ReducerDigest{}}
}

// Registry is the coordinator's GORM-backed control store.
type Registry struct {
	db *gorm.DB
}

// Open connects to the configured database and brings its schema up to
// date. Postgres deployments run the versioned golang-migrate migrations
// under migrations/, the same iofs-embedded, advisory-locked approach as
// dittofs's runMigrations. SQLite deployments (the common single-process
// coordinator) use GORM's AutoMigrate instead: golang-migrate's sqlite
// driver requires the cgo mattn/go-sqlite3 driver, which conflicts with
// this module's pure-Go glebarez/modernc sqlite stack, and AutoMigrate's
// additive, idempotent column/table creation is sufficient for the two
// append-only tables this registry owns.
func Open(cfg Config) (*Registry, error) {
	switch cfg.Type {
	case DatabaseTypeSQLite, "":
		return openSQLite(cfg)
	case DatabaseTypePostgres:
		return openPostgres(cfg)
	default:
		return nil, fmt.Errorf("registry: unsupported database type %q", cfg.Type)
	}
}

func openSQLite(cfg Config) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
		return nil, fmt.Errorf("registry: create database directory: %w", err)
	}
	dsn := cfg.DSN + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect: %w", err)
	}
	if err := db.AutoMigrate(allModels()...); err != nil {
		return nil, fmt.Errorf("registry: migrate: %w", err)
	}
	return &Registry{db: db}, nil
}

func openPostgres(cfg Config) (*Registry, error) {
	if err := runPostgresMigrations(cfg.DSN); err != nil {
		return nil, err
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("registry: connect: %w", err)
	}
	return &Registry{db: db}, nil
}

// runPostgresMigrations applies migrations/*.sql via golang-migrate,
// using the same advisory-lock-protected postgres driver and embedded
// iofs source dittofs's RunMigrations uses.
func runPostgresMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("registry: open database/sql connection: %w", err)
	}
	defer db.Close()

	driver, err := migratepostgres.WithInstance(db, &migratepostgres.Config{
		MigrationsTable: "registry_schema_migrations",
		DatabaseName:    "sqlsync_registry",
	})
	if err != nil {
		return fmt.Errorf("registry: create postgres migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("registry: create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("registry: create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("registry: apply migrations: %w", err)
	}
	return nil
}

// RecordTimelineSeen upserts a KnownJournal for id, updating LastLSN, and
// setting FirstSeen only the first time id is seen.
func (r *Registry) RecordTimelineSeen(ctx context.Context, id string, lastLSN uint64) error {
	var existing KnownJournal
	err := r.db.WithContext(ctx).First(&existing, "id = ?", id).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		return r.db.WithContext(ctx).Create(&KnownJournal{
			ID:        id,
			FirstSeen: time.Now(),
			LastLSN:   lastLSN,
		}).Error
	case err != nil:
		return fmt.Errorf("registry: record timeline seen: %w", err)
	default:
		return r.db.WithContext(ctx).Model(&existing).Update("last_lsn", lastLSN).Error
	}
}

// ListKnownJournals returns every client timeline the coordinator has
// ever replicated from.
func (r *Registry) ListKnownJournals(ctx context.Context) ([]KnownJournal, error) {
	var out []KnownJournal
	if err := r.db.WithContext(ctx).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("registry: list known journals: %w", err)
	}
	return out, nil
}

// RecordReducerDigest upserts the reducer digest a document was last
// opened with.
func (r *Registry) RecordReducerDigest(ctx context.Context, documentID, sha256Hex string) error {
	digest := ReducerDigest{DocumentID: documentID, SHA256Hex: sha256Hex, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).Save(&digest).Error
}

// GetReducerDigest returns the reducer digest recorded for documentID, or
// (ReducerDigest{}, false, nil) if none has been recorded.
func (r *Registry) GetReducerDigest(ctx context.Context, documentID string) (ReducerDigest, bool, error) {
	var digest ReducerDigest
	err := r.db.WithContext(ctx).First(&digest, "document_id = ?", documentID).Error
	if err == gorm.ErrRecordNotFound {
		return ReducerDigest{}, false, nil
	}
	if err != nil {
		return ReducerDigest{}, false, fmt.Errorf("registry: get reducer digest: %w", err)
	}
	return digest, true, nil
}

// Close releases the underlying database connection.
func (r *Registry) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("registry: close: %w", err)
	}
	return sqlDB.Close()
}
