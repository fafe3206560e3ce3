package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sveturs/abkit/internal/server"
	"github.com/sveturs/abkit/internal/store"
)

var port int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the experiment server",
	Long: `Start the abkit HTTP server.

The server provides:
  - Active experiment feed for SDK clients
  - Analytics ingest endpoint for conversion events
  - Experiment completion sink
  - Feature flag feed
  - Token-protected admin API

Example:
  abkit serve --port 8080`,
	RunE: runServe,
}

func init() {
	defaultPort := 8080
	if p := os.Getenv("ABKIT_PORT"); p != "" {
		if parsed, err := strconv.Atoi(p); err == nil {
			defaultPort = parsed
		}
	}

	serveCmd.Flags().IntVarP(&port, "port", "p", defaultPort, "port to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if cfg.DB != "" && !cmd.Flags().Changed("db") {
		dbPath = cfg.DB
	}

	serverCfg := cfg.Server
	if cmd.Flags().Changed("port") || serverCfg.Port == 0 {
		serverCfg.Port = port
	}
	if serverCfg.TokenFile == "" {
		serverCfg.TokenFile = tokenFilePath()
	}

	log := newLogger()
	defer log.Sync()

	// Open database
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	srv := server.New(s, serverCfg, log)

	fmt.Printf("abkit running on http://localhost:%d\n", serverCfg.Port)
	fmt.Printf("Admin API: http://localhost:%d/admin/api/experiments?token=%s\n", serverCfg.Port, srv.Token())
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")

	return srv.Start()
}

// tokenFilePath returns the path to the admin token file, stored alongside
// the database.
func tokenFilePath() string {
	dir := filepath.Dir(dbPath)
	return filepath.Join(dir, ".abkit-token")
}
