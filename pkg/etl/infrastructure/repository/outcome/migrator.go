package outcome

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"gorm.io/gorm"

	"github.com/kurobane/migrata/pkg/etl/support/exception"
	logger "github.com/kurobane/migrata/pkg/etl/support/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const migrationsTable = "migrata_schema_migrations"

// Migrate applies the embedded schema migrations for the outcome table. It is
// idempotent; a database already at the latest version is a no-op.
func Migrate(db *gorm.DB, dbType string) error {
	sqlDB, err := db.DB()
	if err != nil {
		return exception.NewMigrationError(moduleName, "failed to get underlying sql.DB", err, false, false)
	}

	sourceDriver, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return exception.NewMigrationError(moduleName, "failed to load embedded migrations", err, false, false)
	}

	dbDriver, err := databaseDriver(sqlDB, dbType)
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbType, dbDriver)
	if err != nil {
		return exception.NewMigrationError(moduleName, "failed to create migrate instance", err, false, false)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return exception.NewMigrationError(moduleName, fmt.Sprintf("schema migration failed (db type: %s)", dbType), err, false, false)
	}
	logger.Infof("Outcome schema is up to date.")
	return nil
}

// databaseDriver selects the migrate/v4 database driver for the configured
// database type.
func databaseDriver(sqlDB *sql.DB, dbType string) (database.Driver, error) {
	switch dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: migrationsTable})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: migrationsTable})
	case "sqlite":
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: migrationsTable})
	default:
		return nil, exception.NewMigrationError(moduleName, fmt.Sprintf("unsupported database type for migration: %s", dbType), nil, false, false)
	}
}
