// Package main implements mlctl, the micrologger command-line tool.
//
// Commands that talk to a running server (health, calendar) use --server.
// Commands that work on the database directly (useradd, sync-products) read
// the same configuration as the server.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL of the micrologger server
	serverURL string
	// configPath overrides the default config.yaml location
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mlctl",
	Short: "CLI for micrologger",
	Long: `mlctl is a command-line interface for micrologger.
It checks server health, shows the incubation calendar, classifies
results offline and manages users and the product catalog.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "micrologger server URL")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (useradd, sync-products)")
	rootCmd.AddCommand(healthCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check micrologger server health",
	Long: `Check the health status of the micrologger server.

Examples:
  # Check health
  mlctl health

  # Check health on a different server
  mlctl health --server http://lab-pc:8080`,
	RunE: runHealth,
}

// HealthResponse matches internal/http HealthResponse
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Database string `json:"database"`
}

func runHealth(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/health", serverURL)

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var healthResp HealthResponse
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := json.Unmarshal(body, &healthResp); err != nil {
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(body))
	}

	cmd.Printf("Server Status: %s\n", healthResp.Status)
	cmd.Printf("Database:      %s\n", healthResp.Database)
	if healthResp.Version != "" {
		cmd.Printf("Version:       %s\n", healthResp.Version)
	}
	cmd.Printf("Server URL:    %s\n", serverURL)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
