package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/luoarch/go-auth-store/internal/durabletier"
)

var migrationsDir string

func init() {
	migrateCmd.Flags().StringVar(&migrationsDir, "migrations-dir", "migrations", "Path to the durable-tier goose migrations directory")
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply durable-tier schema migrations",
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	durCfg := &durabletier.Config{
		Host: cfg.DurableTier.Host, Port: cfg.DurableTier.Port, Database: cfg.DurableTier.Database,
		User: cfg.DurableTier.User, Password: cfg.DurableTier.Password, SSLMode: cfg.DurableTier.SSLMode,
		MaxConns: cfg.DurableTier.MaxConns, MinConns: cfg.DurableTier.MinConns,
		ConnectTimeout: cfg.DurableTier.ConnectTimeout,
	}
	if err := durabletier.RunMigrations(durCfg, migrationsDir, nil); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	fmt.Println("migrations applied")
	return nil
}
