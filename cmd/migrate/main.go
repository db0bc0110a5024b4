package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/BradenHooton/trustgate/internal/config"
	"github.com/BradenHooton/trustgate/internal/database"
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool for Trustgate",
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	RunE: withDB(func(ctx context.Context, db *sql.DB) error {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
		fmt.Println("migrations completed successfully")
		return nil
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Rollback the last migration",
	RunE: withDB(func(ctx context.Context, db *sql.DB) error {
		if err := database.Rollback(ctx, db); err != nil {
			return err
		}
		fmt.Println("rollback completed successfully")
		return nil
	}),
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show migration status",
	RunE: withDB(func(ctx context.Context, db *sql.DB) error {
		return database.MigrationStatus(ctx, db)
	}),
}

var createCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new SQL migration file in ./migrations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goose.SetSequential(true)
		// create writes to the working tree, not the embedded set
		goose.SetBaseFS(nil)
		return goose.Create(nil, "migrations", args[0], "sql")
	},
}

func init() {
	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(createCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withDB opens a database/sql handle from the environment config for the
// duration of one command
func withDB(fn func(ctx context.Context, db *sql.DB) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		db, err := sql.Open("postgres", cfg.Database.DSN())
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
		defer cancel()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return fn(ctx, db)
	}
}
