package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mihaisavezi/toolgate/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long:  `Manage the gateway configuration.`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration interactively",
	Long:  `Initialize configuration by prompting for provider details.`,
	RunE:  runConfigInit,
}

var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write an example YAML configuration",
	Long:  `Write a config.yaml listing every supported provider with placeholder keys.`,
	RunE:  runConfigGenerate,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the current configuration.`,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	Long:  `Validate the current configuration for errors.`,
	RunE:  runConfigValidate,
}

func init() {
	configGenerateCmd.Flags().BoolP("force", "f", false, "overwrite an existing configuration")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configGenerateCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func runConfigInit(_ *cobra.Command, _ []string) error {
	color.Blue("Toolgate Configuration Setup")
	color.Yellow("Follow the prompts to configure your LLM provider.")

	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string) string {
		fmt.Print(label)
		line, _ := reader.ReadString('\n')
		return strings.TrimSpace(line)
	}

	providerName := prompt("\nProvider Name (openrouter, openai, anthropic, nvidia, gemini): ")
	apiKey := prompt("API Key: ")
	baseURL := prompt("API Base URL (blank for the provider default): ")
	model := prompt("Default Model: ")
	tools := prompt("Default server tools, comma separated (e.g. get_time,count_tokens): ")
	gatewayKey := prompt("Gateway API Key (optional, for authentication): ")

	provider := config.Provider{
		Name:    providerName,
		APIBase: baseURL,
		APIKey:  apiKey,
		Models:  []string{model},
	}
	for _, tool := range strings.Split(tools, ",") {
		if tool = strings.TrimSpace(tool); tool != "" {
			provider.DefaultTools = append(provider.DefaultTools, tool)
		}
	}

	cfg := &config.Config{
		Host:      config.DefaultHost,
		Port:      config.DefaultPort,
		APIKey:    gatewayKey,
		Providers: []config.Provider{provider},
		Router: config.RouterConfig{
			Default: fmt.Sprintf("%s,%s", providerName, model),
		},
	}

	if err := cfgMgr.SaveAsYAML(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	color.Green("Configuration saved successfully to: %s", cfgMgr.GetPath())
	color.Cyan("You can now start the gateway with: %s start", AppName)

	return nil
}

func runConfigGenerate(cmd *cobra.Command, _ []string) error {
	force, _ := cmd.Flags().GetBool("force")
	if cfgMgr.Exists() && !force {
		return fmt.Errorf("configuration already exists at %s (use --force to overwrite)", cfgMgr.GetPath())
	}

	if err := cfgMgr.CreateExampleYAML(); err != nil {
		return fmt.Errorf("failed to write example configuration: %w", err)
	}

	color.Green("Example configuration written to: %s", cfgMgr.GetPath())
	color.Yellow("Replace the placeholder API keys before starting the gateway.")
	return nil
}

func runConfigShow(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		color.Yellow("No configuration found. Run '%s config init' to create one.", AppName)
		return nil
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	color.Blue("Current Configuration:")
	fmt.Printf("  %-15s: %s\n", "Host", cfg.Host)
	fmt.Printf("  %-15s: %d\n", "Port", cfg.Port)
	fmt.Printf("  %-15s: %s\n", "API Key", maskString(cfg.APIKey))
	fmt.Printf("  %-15s: %s\n", "Config Path", cfgMgr.GetPath())

	fmt.Println("\nProviders:")
	for _, provider := range cfg.Providers {
		fmt.Printf("  - Name: %s\n", provider.Name)
		if provider.Type != "" {
			fmt.Printf("    Type: %s\n", provider.Type)
		}
		fmt.Printf("    API Base: %s\n", provider.APIBase)
		fmt.Printf("    API Key: %s\n", maskString(provider.APIKey))
		fmt.Printf("    Models: %v\n", provider.GetAllowedModels())
		if len(provider.DefaultTools) > 0 {
			fmt.Printf("    Default Tools: %v\n", provider.DefaultTools)
		}
		fmt.Println()
	}

	fmt.Println("Router Configuration:")
	fmt.Printf("  %-15s: %s\n", "Default", cfg.Router.Default)
	if cfg.Router.Think != "" {
		fmt.Printf("  %-15s: %s\n", "Think", cfg.Router.Think)
	}
	if cfg.Router.LongContext != "" {
		fmt.Printf("  %-15s: %s (> %d tokens)\n", "Long Context", cfg.Router.LongContext, cfg.Router.LongContextThreshold)
	}

	fmt.Println("\nGateway:")
	fmt.Printf("  %-15s: %d\n", "Max Rounds", cfg.Gateway.MaxRounds)
	fmt.Printf("  %-15s: %s\n", "Stream Timeout", cfg.Gateway.StreamTimeout())
	fmt.Printf("  %-15s: %d\n", "Tool Workers", cfg.Gateway.ToolConcurrency)

	return nil
}

func runConfigValidate(_ *cobra.Command, _ []string) error {
	if !cfgMgr.Exists() {
		return fmt.Errorf("no configuration found")
	}

	cfg, err := cfgMgr.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		color.Red("Configuration validation failed:")
		for _, line := range strings.Split(err.Error(), "\n") {
			fmt.Printf("  - %s\n", line)
		}
		return fmt.Errorf("configuration validation failed")
	}

	for _, p := range cfg.Providers {
		if p.APIKey == "" {
			color.Yellow("Warning: provider %s has no API key", p.Name)
		}
	}

	color.Green("Configuration is valid!")
	return nil
}

func maskString(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}
