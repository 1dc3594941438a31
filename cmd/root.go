package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/toolgate/internal/config"
)

const (
	AppName = "toolgate"
	Version = "0.1.0"

	// BaseDirEnv overrides the default ~/.toolgate directory.
	BaseDirEnv = "TOOLGATE_HOME"
	LogFile    = "toolgate.log"
)

var (
	logger  *slog.Logger
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	baseDir = os.Getenv(BaseDirEnv)
	if baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			logger.Error("Failed to get home directory", "error", err)
			os.Exit(1)
		}
		baseDir = filepath.Join(homeDir, "."+AppName)
	}

	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:   AppName,
	Short: "Toolgate - tool-executing LLM gateway",
	Long: `An OpenAI-compatible chat gateway that runs server-side tools for the model,
feeding results back for up to a fixed number of rounds while streaming every
step to the client.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolP("log-file", "l", false, "also write logs to "+LogFile+" in the base directory")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(configCmd)
}

// setupLogging returns a cleanup func that closes the log file, if any.
func setupLogging(verbose, logFile bool) (func(), error) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var (
		out     io.Writer = os.Stdout
		cleanup           = func() {}
	)

	if logFile {
		if err := os.MkdirAll(baseDir, 0750); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(filepath.Join(baseDir, LogFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, f)
		cleanup = func() { _ = f.Close() }
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return cleanup, nil
}

func ensureConfigExists() error {
	if !cfgMgr.Exists() {
		color.Yellow("Configuration not found in %s", baseDir)
		fmt.Printf("Run '%s config init' to set up your configuration\n", AppName)
		return fmt.Errorf("configuration required")
	}
	return nil
}

func gatewayURL(cfg *config.Config) string {
	return fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port)
}
