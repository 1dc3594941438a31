package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/toolgate/internal/process"
	"github.com/mihaisavezi/toolgate/internal/server"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway",
	Long:  `Start the gateway in the foreground.`,
	RunE:  runStart,
}

func runStart(cmd *cobra.Command, _ []string) error {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logFile, _ := cmd.Flags().GetBool("log-file")
	closeLog, err := setupLogging(verbose, logFile)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := ensureConfigExists(); err != nil {
		return err
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	color.Green("Starting %s v%s...", AppName, Version)
	logger.Info("Starting server",
		"host", cfg.Host,
		"port", cfg.Port,
		"providers", len(cfg.Providers),
		"max_rounds", cfg.Gateway.MaxRounds,
		"stream_timeout", cfg.Gateway.StreamTimeout(),
	)

	procMgr := process.NewManager(baseDir)
	if procMgr.IsRunning() {
		return fmt.Errorf("%s is already running (pid %d)", AppName, procMgr.ReadPID())
	}
	if err := procMgr.WritePID(); err != nil {
		return err
	}
	defer procMgr.CleanupPID()

	srv, err := server.New(cfgMgr, logger)
	if err != nil {
		return err
	}
	return srv.Start()
}
