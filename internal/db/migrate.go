package db

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed all:migrations/sqlite
var sqliteMigrations embed.FS

//go:embed all:migrations/postgres
var postgresMigrations embed.FS

// runMigrations executes all pending migrations for the given database
// type. It opens a separate connection so that golang-migrate closing
// its connection does not take down the application's.
func runMigrations(dbType, dsn string) error {
	m, err := NewMigrator(dbType, dsn)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// NewMigrator creates a golang-migrate instance for the given database
// type using the embedded SQL migration files.
func NewMigrator(dbType, dsn string) (*migrate.Migrate, error) {
	var migrationFS fs.FS
	var databaseURL string
	var err error

	switch dbType {
	case "sqlite":
		migrationFS, err = fs.Sub(sqliteMigrations, "migrations/sqlite")
		databaseURL = "sqlite://" + dsn
	case "postgres":
		migrationFS, err = fs.Sub(postgresMigrations, "migrations/postgres")
		databaseURL = dsn
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load migrations: %w", err)
	}

	source, err := iofs.New(migrationFS, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create migration source: %w", err)
	}

	return migrate.NewWithSourceInstance("iofs", source, databaseURL)
}
