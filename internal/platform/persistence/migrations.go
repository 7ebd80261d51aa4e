package persistence

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres" // PostgreSQL driver
	_ "github.com/golang-migrate/migrate/v4/source/file"       // File source driver
)

// RunMigrations applies the escrow schema found under migrationsPath
// (migrations/postgres by default) and logs the resulting schema version.
func RunMigrations(logger *slog.Logger, databaseURL string, migrationsPath string) error {
	if migrationsPath == "" {
		return errors.New("migrations path cannot be empty")
	}
	if databaseURL == "" {
		return errors.New("database URL cannot be empty")
	}

	sourceURL, err := migrationSourceURL(migrationsPath)
	if err != nil {
		return err
	}

	m, err := migrate.New(sourceURL, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if dirty {
		return fmt.Errorf("schema version %d is dirty", version)
	}
	logger.Info("Database schema up to date", "version", version, "source", sourceURL)

	sourceErr, dbErr := m.Close()
	if sourceErr != nil {
		return fmt.Errorf("migration source error: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("migration database error: %w", dbErr)
	}

	return nil
}

// migrationSourceURL turns a migrations directory into an absolute file://
// source URL. The directory must hold at least one up migration.
func migrationSourceURL(migrationsPath string) (string, error) {
	dir, err := filepath.Abs(migrationsPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve migrations path %q: %w", migrationsPath, err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("migrations path %q is not readable: %w", migrationsPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("migrations path %q is not a directory", migrationsPath)
	}

	ups, err := filepath.Glob(filepath.Join(dir, "*.up.sql"))
	if err != nil {
		return "", fmt.Errorf("failed to list migrations in %q: %w", migrationsPath, err)
	}
	if len(ups) == 0 {
		return "", fmt.Errorf("no up migrations found in %q", migrationsPath)
	}

	return "file://" + filepath.ToSlash(dir), nil
}
