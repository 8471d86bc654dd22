// Package main provides the database migration CLI for the ETL service.
//
// Migrations are embedded in the binary, so the tool needs nothing beyond
// DATABASE_URL: migrator up | down | status | drop.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	version = "1.0.0"
	name    = "migrator"
)

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help information")
		showVersion = flag.Bool("version", false, "Show version information")
	)

	flag.Parse()

	if *showVersion {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	if *showHelp || flag.NArg() < 1 {
		printUsage()
		os.Exit(0)
	}

	// Local development convenience; absence of the file is fine.
	_ = godotenv.Load()

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	runner, err := NewMigrationRunner(cfg)
	if err != nil {
		log.Fatalf("Failed to create migration runner: %v", err)
	}
	defer func() { _ = runner.Close() }()

	if err := executeCommand(flag.Arg(0), runner); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}

func executeCommand(command string, runner MigrationRunner) error {
	switch command {
	case "up":
		return runner.Up()
	case "down":
		return runner.Down()
	case "status":
		return runner.Status()
	case "drop":
		if !confirmDrop() {
			fmt.Println("Operation cancelled.")

			return nil
		}

		return runner.Drop()
	default:
		printUsage()

		return fmt.Errorf("unknown command: %s", command)
	}
}

func confirmDrop() bool {
	fmt.Print("WARNING: This will drop all tables. Are you sure? (y/N): ")

	reader := bufio.NewReader(os.Stdin)

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))

	return response == "y" || response == "yes"
}

func printUsage() {
	fmt.Printf(`%s v%s - database migration tool

Usage:
  %s [flags] <command>

Commands:
  up      Apply all pending migrations
  down    Roll back the most recent migration
  status  Show the current migration version
  drop    Drop all tables (destructive, asks for confirmation)

Flags:
  -help     Show this help
  -version  Show version information

Environment:
  DATABASE_URL     PostgreSQL connection string (required)
  MIGRATION_TABLE  Migration tracking table (default: schema_migrations)
`, name, version, name)
}
