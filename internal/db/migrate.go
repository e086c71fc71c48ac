package db

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/banshee-data/split.report/internal/monitoring"
)

// MigrateUp applies every pending migration. An up-to-date schema is not an
// error.
func (db *DB) MigrateUp(migrations fs.FS) error {
	return db.migrate(migrations, "up", func(m *migrate.Migrate) error { return m.Up() })
}

// MigrateDown rolls back the most recent migration.
func (db *DB) MigrateDown(migrations fs.FS) error {
	return db.migrate(migrations, "down", func(m *migrate.Migrate) error { return m.Steps(-1) })
}

// MigrateTo moves the schema up or down to version.
func (db *DB) MigrateTo(migrations fs.FS, version uint) error {
	return db.migrate(migrations, fmt.Sprintf("to version %d", version), func(m *migrate.Migrate) error {
		return m.Migrate(version)
	})
}

// MigrateForce records version as applied and clears the dirty flag without
// running anything. Only for recovering from a failed migration.
func (db *DB) MigrateForce(migrations fs.FS, version int) error {
	return db.migrate(migrations, fmt.Sprintf("force to version %d", version), func(m *migrate.Migrate) error {
		return m.Force(version)
	})
}

// MigrateVersion returns the applied version and dirty flag; 0, false when
// nothing has been applied.
func (db *DB) MigrateVersion(migrations fs.FS) (version uint, dirty bool, err error) {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// migrate runs step and treats ErrNoChange as success. The migrate instance
// is not closed because that would close the shared connection.
func (db *DB) migrate(migrations fs.FS, desc string, step func(*migrate.Migrate) error) error {
	m, err := db.newMigrate(migrations)
	if err != nil {
		return err
	}
	if err := step(m); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", desc, err)
	}
	return nil
}

func (db *DB) newMigrate(migrations fs.FS) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open migrations source: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

// migrateLogger routes golang-migrate output through monitoring.Logf.
type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+strings.TrimSuffix(format, "\n"), v...)
}

func (migrateLogger) Verbose() bool { return false }

// MigrationStatus summarises where the schema stands against the embedded
// migrations.
type MigrationStatus struct {
	Current     uint `json:"current"`
	Latest      uint `json:"latest"`
	Dirty       bool `json:"dirty"`
	Initialized bool `json:"initialized"`
}

// Pending is the number of migrations not yet applied.
func (s MigrationStatus) Pending() uint {
	if s.Current >= s.Latest {
		return 0
	}
	return s.Latest - s.Current
}

// MigrationStatus compares the applied version with the newest migration in
// migrations.
func (db *DB) MigrationStatus(migrations fs.FS) (MigrationStatus, error) {
	var st MigrationStatus
	var err error
	if st.Initialized, err = db.SchemaMigrationsExists(); err != nil {
		return st, err
	}
	if st.Current, st.Dirty, err = db.MigrateVersion(migrations); err != nil {
		return st, fmt.Errorf("failed to get migration status: %w", err)
	}
	if st.Latest, err = LatestMigrationVersion(migrations); err != nil {
		return st, err
	}
	return st, nil
}

// BaselineAtVersion marks an existing database as already at version
// without running any migration. It refuses once any version is recorded.
func (db *DB) BaselineAtVersion(version uint) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER NOT NULL,
			dirty INTEGER NOT NULL
		);
		CREATE UNIQUE INDEX IF NOT EXISTS version_unique ON schema_migrations (version);
	`); err != nil {
		return fmt.Errorf("failed to ensure schema_migrations table: %w", err)
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("failed to check existing migrations: %w", err)
	}
	if count > 0 {
		return errors.New("database already has migrations applied, cannot baseline")
	}
	if _, err := db.Exec("INSERT INTO schema_migrations (version, dirty) VALUES (?, 0)", version); err != nil {
		return fmt.Errorf("failed to insert baseline version: %w", err)
	}
	monitoring.Logf("[migrate] baselined at version %d", version)
	return nil
}

// SchemaMigrationsExists reports whether golang-migrate has initialised the
// database.
func (db *DB) SchemaMigrationsExists() (bool, error) {
	var exists bool
	err := db.QueryRow(`
		SELECT COUNT(*) > 0
		FROM sqlite_master
		WHERE type = 'table' AND name = 'schema_migrations'
	`).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check schema_migrations table: %w", err)
	}
	return exists, nil
}

// LatestMigrationVersion returns the highest NNNNNN prefix among the
// *.up.sql files in migrations.
func LatestMigrationVersion(migrations fs.FS) (uint, error) {
	entries, err := fs.Glob(migrations, "*.up.sql")
	if err != nil {
		return 0, fmt.Errorf("failed to read migrations: %w", err)
	}
	var latest uint
	for _, name := range entries {
		prefix, _, ok := strings.Cut(path.Base(name), "_")
		if !ok {
			continue
		}
		if v, err := strconv.ParseUint(prefix, 10, 32); err == nil && uint(v) > latest {
			latest = uint(v)
		}
	}
	if latest == 0 {
		return 0, errors.New("no numbered migration files found")
	}
	return latest, nil
}
