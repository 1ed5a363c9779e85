// Command authstore wires the hybrid auth-state store: a fast-tier
// (Redis) + durable-tier (Postgres) session store with write-behind
// persistence, a reconciler, and a circuit breaker protecting the
// durable tier, per spec.md. It has no HTTP surface — see `serve`.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "authstore",
	Short:   "Hybrid auth-state store: fast-tier + durable-tier session service",
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config.yaml (falls back to environment variables)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reconcileOnceCmd)
}
