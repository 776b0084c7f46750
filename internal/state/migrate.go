package state

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

func setupGoose() error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	return nil
}

// Migrate runs all pending database migrations.
func (s *SQLiteStore) Migrate() error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	if err := setupGoose(); err != nil {
		return err
	}
	if err := goose.Up(s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// MigrationVersion returns the current migration version.
func (s *SQLiteStore) MigrationVersion() (int64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	if err := setupGoose(); err != nil {
		return 0, err
	}
	v, err := goose.GetDBVersion(s.db)
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}
	return v, nil
}
