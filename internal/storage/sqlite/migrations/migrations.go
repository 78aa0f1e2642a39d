package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/slok/xferd/internal/log"
)

//go:embed sql/*.sql
var migrationFiles embed.FS

// Migrator applies the embedded state schema migrations.
type Migrator struct {
	db     *sql.DB
	logger log.Logger
}

// NewMigrator creates a new migrator instance.
func NewMigrator(db *sql.DB, logger log.Logger) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if logger == nil {
		logger = log.Noop
	}

	return &Migrator{db: db, logger: logger}, nil
}

// Up runs all available migrations.
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(func(inst *migrate.Migrate) error {
		err := inst.Up()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("could not run migrations: %w", err)
		}
		m.logger.Debugf("Migrations applied successfully")
		return nil
	})
}

// Down reverts all migrations.
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(func(inst *migrate.Migrate) error {
		err := inst.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("could not revert migrations: %w", err)
		}
		m.logger.Debugf("Migrations reverted successfully")
		return nil
	})
}

// Version returns the applied schema version and if it was left dirty.
func (m *Migrator) Version(ctx context.Context) (version uint, dirty bool, err error) {
	err = m.run(func(inst *migrate.Migrate) error {
		version, dirty, err = inst.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			version, dirty, err = 0, false, nil
		}
		return err
	})
	return version, dirty, err
}

func (m *Migrator) run(f func(inst *migrate.Migrate) error) error {
	driver, err := sqlite3.WithInstance(m.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, "sql")
	if err != nil {
		return fmt.Errorf("could not create fs: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			m.logger.Errorf("could not close fs: %s", err)
		}
	}()

	inst, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("could not create migration instance: %w", err)
	}

	return f(inst)
}
