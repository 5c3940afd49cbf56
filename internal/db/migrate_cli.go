package db

import (
	"fmt"
	"io"
	"log"
	"strconv"
)

// RunMigrateCommand handles the "migrate" subcommand of the counter:
//
//	migrate up | down | status | to <version> | force <version>
func RunMigrateCommand(args []string, dbPath string, out io.Writer) error {
	if len(args) < 1 || args[0] == "help" {
		PrintMigrateHelp(out)
		if len(args) < 1 {
			return fmt.Errorf("missing migrate action")
		}
		return nil
	}

	fsys, err := MigrationsFS()
	if err != nil {
		return err
	}
	database, err := OpenDB(dbPath)
	if err != nil {
		return err
	}
	defer database.Close()

	versionArg := func() (int, error) {
		if len(args) < 2 {
			return 0, fmt.Errorf("usage: migrate %s <version>", args[0])
		}
		v, err := strconv.Atoi(args[1])
		if err != nil || v < 0 {
			return 0, fmt.Errorf("invalid version number: %s", args[1])
		}
		return v, nil
	}

	switch args[0] {
	case "up":
		log.Printf("Running migrations...")
		if err := database.MigrateUp(fsys); err != nil {
			return err
		}
	case "down":
		log.Printf("Rolling back one migration...")
		if err := database.MigrateDown(fsys); err != nil {
			return err
		}
	case "to":
		v, err := versionArg()
		if err != nil {
			return err
		}
		if err := database.MigrateTo(fsys, uint(v)); err != nil {
			return err
		}
	case "force":
		v, err := versionArg()
		if err != nil {
			return err
		}
		if err := database.MigrateForce(fsys, v); err != nil {
			return err
		}
	case "status":
	default:
		PrintMigrateHelp(out)
		return fmt.Errorf("unknown migrate action: %s", args[0])
	}
	return printMigrateStatus(database, out)
}

func printMigrateStatus(database *DB, out io.Writer) error {
	fsys, err := MigrationsFS()
	if err != nil {
		return err
	}
	version, dirty, err := database.MigrateVersion(fsys)
	if err != nil {
		return fmt.Errorf("failed to get migration status: %w", err)
	}
	latest, err := LatestMigrationVersion(fsys)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "current version: %d\nlatest version: %d\ndirty: %v\n", version, latest, dirty)
	if dirty {
		fmt.Fprintln(out, "a migration failed part way; inspect the database and run: migrate force <version>")
	}
	return nil
}

// PrintMigrateHelp writes the migrate subcommand usage.
func PrintMigrateHelp(out io.Writer) {
	fmt.Fprint(out, `Usage: counter [-db path] migrate <action>

Actions:
  up                 apply all pending migrations
  down               roll back the most recent migration
  status             show the current and latest schema versions
  to <version>       migrate up or down to a version
  force <version>    set the recorded version without running migrations
`)
}
