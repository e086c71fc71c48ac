package db

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
)

// MigrateCLI runs the 'migrate' subcommand against a database file.
type MigrateCLI struct {
	DBPath     string
	Migrations fs.FS
	Out        io.Writer
	In         io.Reader // confirmation prompt for force
}

// Run dispatches a migrate action. An empty args list prints help and
// returns an error so the caller exits non-zero.
func (c *MigrateCLI) Run(args []string) error {
	if len(args) < 1 {
		c.PrintHelp()
		return fmt.Errorf("missing migrate action")
	}
	if c.Migrations == nil {
		c.Migrations = MigrationsFS()
	}

	action := args[0]
	if action == "help" {
		c.PrintHelp()
		return nil
	}

	// Open without running migrations; the actions below manage the schema.
	database, err := OpenDB(c.DBPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action {
	case "up":
		return c.up(database)
	case "down":
		return c.down(database)
	case "status":
		return c.status(database)
	case "version", "force", "baseline":
		if len(args) < 2 {
			return fmt.Errorf("usage: splits migrate %s <version_number>", action)
		}
		v, err := strconv.ParseUint(args[1], 10, 32)
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		switch action {
		case "version":
			return c.to(database, uint(v))
		case "force":
			return c.force(database, int(v))
		default:
			return c.baseline(database, uint(v))
		}
	default:
		fmt.Fprintf(c.Out, "Unknown migrate action: %s\n\n", action)
		c.PrintHelp()
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func (c *MigrateCLI) printVersion(database *DB) {
	version, dirty, _ := database.MigrateVersion(c.Migrations)
	fmt.Fprintf(c.Out, "Current version: %d (dirty: %v)\n", version, dirty)
}

func (c *MigrateCLI) up(database *DB) error {
	if err := database.MigrateUp(c.Migrations); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "✓ All migrations applied successfully")
	c.printVersion(database)
	return nil
}

func (c *MigrateCLI) down(database *DB) error {
	if err := database.MigrateDown(c.Migrations); err != nil {
		return err
	}
	fmt.Fprintln(c.Out, "✓ Migration rolled back successfully")
	c.printVersion(database)
	return nil
}

func (c *MigrateCLI) status(database *DB) error {
	st, err := database.MigrationStatus(c.Migrations)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.Out, "=== Migration Status ===")
	fmt.Fprintf(c.Out, "Current version: %d\n", st.Current)
	fmt.Fprintf(c.Out, "Latest available: %d\n", st.Latest)
	fmt.Fprintf(c.Out, "Dirty: %v\n", st.Dirty)
	fmt.Fprintf(c.Out, "Schema migrations table exists: %v\n", st.Initialized)

	switch {
	case st.Dirty:
		fmt.Fprintln(c.Out, "\n⚠️  WARNING: Database is in a dirty state!")
		fmt.Fprintln(c.Out, "Inspect the database, then run: splits migrate force <version>")
	case st.Pending() > 0:
		fmt.Fprintf(c.Out, "⚠️  Database is %d version(s) behind. Run 'splits migrate up' to update.\n", st.Pending())
	default:
		fmt.Fprintln(c.Out, "✓ Database is up to date!")
	}
	return nil
}

func (c *MigrateCLI) to(database *DB, version uint) error {
	if err := database.MigrateTo(c.Migrations, version); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "✓ Migrated to version %d successfully\n", version)
	return nil
}

func (c *MigrateCLI) force(database *DB, version int) error {
	fmt.Fprintf(c.Out, "⚠️  WARNING: Forcing migration version to %d\n", version)
	fmt.Fprintln(c.Out, "This should only be used to recover from a dirty migration state.")
	fmt.Fprint(c.Out, "Continue? [y/N]: ")

	var response string
	if c.In != nil {
		line, _ := bufio.NewReader(c.In).ReadString('\n')
		response = strings.TrimSpace(line)
	}
	if response != "y" && response != "Y" {
		fmt.Fprintln(c.Out, "Aborted")
		return nil
	}

	if err := database.MigrateForce(c.Migrations, version); err != nil {
		return err
	}
	fmt.Fprintf(c.Out, "✓ Migration version forced to %d\n", version)
	return nil
}

func (c *MigrateCLI) baseline(database *DB, version uint) error {
	if err := database.BaselineAtVersion(version); err != nil {
		return fmt.Errorf("baseline failed: %w", err)
	}
	fmt.Fprintf(c.Out, "✓ Database baselined at version %d\n", version)
	return nil
}

// PrintHelp displays the help message for the migrate command.
func (c *MigrateCLI) PrintHelp() {
	fmt.Fprint(c.Out, `Database Migration Commands

Usage: splits migrate [-db path] <command> [version]

Commands:
  up              Apply all pending migrations
  down            Rollback one migration
  status          Show current migration status and version
  version <N>     Migrate to specific version N
  force <N>       Force migration version to N (recovery only)
  baseline <N>    Set migration version to N without running migrations
  help            Show this help message

Examples:
  splits migrate up
  splits migrate status
  splits migrate force 1

Options:
  -db <path>    Path to database file (default: splits.db)
`)
}
