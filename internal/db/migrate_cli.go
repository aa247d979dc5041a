package db

import (
	"fmt"
	"io"
	"strconv"
)

// RunMigrateCommand handles the 'migrate' subcommand: up, down, status or
// force <N>. Output goes to w.
func RunMigrateCommand(args []string, dbPath string, w io.Writer) error {
	if len(args) < 1 {
		PrintMigrateHelp(w)
		return fmt.Errorf("missing migrate action")
	}

	migrationsFS, err := MigrationsFS()
	if err != nil {
		return fmt.Errorf("failed to get migrations filesystem: %w", err)
	}

	// Open without migrating; migrations manage the schema here.
	database, err := OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	switch action := args[0]; action {
	case "up":
		if err := database.MigrateUp(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(w, "✓ All migrations applied successfully")
	case "down":
		if err := database.MigrateDown(migrationsFS); err != nil {
			return err
		}
		fmt.Fprintln(w, "✓ Migration rolled back successfully")
	case "status":
	case "force":
		if len(args) < 2 {
			return fmt.Errorf("usage: smallsmt migrate force <version_number>")
		}
		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid version number: %s", args[1])
		}
		if err := database.MigrateForce(migrationsFS, version); err != nil {
			return err
		}
		fmt.Fprintf(w, "✓ Forced version %d\n", version)
	case "help":
		PrintMigrateHelp(w)
		return nil
	default:
		PrintMigrateHelp(w)
		return fmt.Errorf("unknown migrate action: %s", action)
	}

	version, dirty, err := database.MigrateVersion(migrationsFS)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	fmt.Fprintf(w, "Current version: %d (dirty: %v)\n", version, dirty)
	if dirty {
		fmt.Fprintln(w, "⚠️  A migration failed mid-execution; inspect the database and run: smallsmt migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp displays the help message for the migrate command
func PrintMigrateHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: smallsmt migrate <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  up          Apply all pending migrations")
	fmt.Fprintln(w, "  down        Roll back one migration")
	fmt.Fprintln(w, "  status      Show the current migration version")
	fmt.Fprintln(w, "  force <N>   Force the migration version to N (recovery only)")
	fmt.Fprintln(w, "  help        Show this help message")
}
