package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/toolgate/internal/client"
	"github.com/mihaisavezi/toolgate/internal/process"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show gateway status",
	Long:  `Display the current status of the gateway.`,
	Run:   runStatus,
}

func runStatus(cmd *cobra.Command, _ []string) {
	procMgr := process.NewManager(baseDir)
	cfg := cfgMgr.Get()

	running := procMgr.IsRunning()

	color.Blue("Status for %s:", AppName)
	fmt.Printf("  %-15s: %v\n", "Running", running)
	fmt.Printf("  %-15s: %d\n", "PID", procMgr.ReadPID())

	if cfg != nil {
		fmt.Printf("  %-15s: %s\n", "Endpoint", gatewayURL(cfg))
		fmt.Printf("  %-15s: %d\n", "Providers", len(cfg.Providers))
		fmt.Printf("  %-15s: %s\n", "Default Route", cfg.Router.Default)
		fmt.Printf("  %-15s: %d\n", "Max Rounds", cfg.Gateway.MaxRounds)
		fmt.Printf("  %-15s: %s\n", "Stream Timeout", cfg.Gateway.StreamTimeout())

		if running {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			healthy := client.New(gatewayURL(cfg), cfg.APIKey, "", &http.Client{}).Healthy(ctx)
			cancel()
			fmt.Printf("  %-15s: %v\n", "Healthy", healthy)
		}
	}

	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())
	fmt.Printf("  %-15s: %d\n", "Chat Sessions", procMgr.ReadRef())
	fmt.Printf("  %-15s: v%s\n", "Version", Version)
}
