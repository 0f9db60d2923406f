package migrations

import (
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
)

//go:embed *.sql
var migrationsFS embed.FS

func migrator(dbx *sqlx.DB) (*migrate.Migrate, error) {
	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return nil, fmt.Errorf("error creating migrations source: %s", err)
	}
	i, err := sqlite.WithInstance(dbx.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("error creating sqlite instance for migration: %s", err)
	}
	m, err := migrate.NewWithInstance("iofs", d, "sqlite", i)
	if err != nil {
		return nil, fmt.Errorf("error creating migrator: %s", err)
	}

	return m, nil
}

// Performs all migrations in the given filesystem.
func Run(dbx *sqlx.DB) error {
	m, err := migrator(dbx)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("error migrating: %s", err)
	}

	version, _, _ := m.Version()
	slog.Info("migrated", "version", version)

	return nil
}

// Version reports the schema version the database is at, and whether a
// failed migration left it dirty. A database never migrated is at 0.
func Version(dbx *sqlx.DB) (uint, bool, error) {
	m, err := migrator(dbx)
	if err != nil {
		return 0, false, err
	}

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("error reading schema version: %s", err)
	}

	return version, dirty, nil
}
