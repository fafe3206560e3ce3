package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sveturs/abkit/internal/store"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Show admin API URL with access token",
	Long: `Show the admin API URL with your access token.

Use this when you've scrolled past the startup message or need to share
the admin link.

Example:
  abkit token`,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}

func runToken(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(tokenFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("no server running. Start with: abkit serve")
		}
		return fmt.Errorf("failed to read token file: %w", err)
	}

	token := string(data)
	if token == "" {
		return fmt.Errorf("token file is empty. Restart the server with: abkit serve")
	}

	// Try to get the server URL from settings
	serverURL := "http://localhost:8080"
	s, err := store.Open(dbPath)
	if err == nil {
		defer s.Close()
		if url, err := s.GetSetting(context.Background(), "server_url"); err == nil && url != "" {
			serverURL = url
		}
	}

	fmt.Printf("Admin API: %s/admin/api/experiments?token=%s\n", serverURL, token)
	return nil
}
