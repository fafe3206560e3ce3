package cli

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	dbPath  string
	cfgPath string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "abkit",
	Short: "abkit - self-hosted A/B experimentation service for the marketplace",
	Long: `abkit is the self-hosted experimentation backend and toolbox for the
marketplace frontend: it serves experiment definitions and feature flags,
ingests conversion analytics, and evaluates statistical significance.

Running without a subcommand starts the server (same as 'abkit serve').`,
	RunE: runServe, // Default action is to start server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", getEnvOrDefault("ABKIT_DB_PATH", "./abkit.db"), "database path")
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("ABKIT_CONFIG"), "optional YAML config file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose logging")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// newLogger builds the process logger. Verbose mode switches to the
// human-readable development encoder with debug level enabled.
func newLogger() *zap.Logger {
	if verbose {
		log, err := zap.NewDevelopment()
		if err != nil {
			return zap.NewNop()
		}
		return log
	}
	log, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return log
}
