package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mihaisavezi/toolgate/internal/normalize"
)

const (
	DefaultPort           = 6970
	DefaultConfigFilename = "config.json"
	DefaultYAMLFilename   = "config.yaml"
	DefaultHost           = "127.0.0.1"

	DefaultMaxRounds            = 10
	DefaultStreamTimeoutSeconds = 30
	DefaultToolConcurrency      = 4
	DefaultLongContextThreshold = 60000
)

// DefaultProviderURLs are used when a known provider has no url.
var DefaultProviderURLs = map[string]string{
	"openrouter": "https://openrouter.ai/api/v1/chat/completions",
	"openai":     "https://api.openai.com/v1/chat/completions",
	"anthropic":  "https://api.anthropic.com/v1/chat/completions",
	"nvidia":     "https://integrate.api.nvidia.com/v1/chat/completions",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/models",
}

// DefaultProviderModels are the models advertised for known providers.
var DefaultProviderModels = map[string][]string{
	"openrouter": {
		"anthropic/claude-3.5-sonnet",
		"anthropic/claude-3-opus",
		"openai/gpt-4o",
		"openai/o3-mini",
		"google/gemini-2.0-flash-001",
		"meta-llama/llama-3.1-70b-instruct",
	},
	"openai": {
		"gpt-4o",
		"gpt-4o-mini",
		"o3-mini",
		"gpt-4-turbo",
	},
	"anthropic": {
		"claude-3-5-sonnet-20241022",
		"claude-3-5-haiku-20241022",
		"claude-3-opus-20240229",
	},
	"nvidia": {
		"nvidia/llama-3.1-nemotron-70b-instruct",
		"meta/llama-3.1-405b-instruct",
	},
	"gemini": {
		"gemini-2.0-flash",
		"gemini-1.5-pro",
		"gemini-1.5-flash",
	},
}

type Provider struct {
	Name string `json:"name" yaml:"name"`
	// Type selects the wire dialect; empty means detect it from the URL.
	Type           string   `json:"type,omitempty" yaml:"type,omitempty"`
	APIBase        string   `json:"api_base_url" yaml:"url"`
	APIKey         string   `json:"api_key" yaml:"api_key"`
	Models         []string `json:"models,omitempty" yaml:"models,omitempty"`
	DefaultModels  []string `json:"default_models,omitempty" yaml:"default_models,omitempty"`
	ModelWhitelist []string `json:"model_whitelist,omitempty" yaml:"model_whitelist,omitempty"`
	// ReasoningFormat overrides the dialect default: nested, flat or none.
	ReasoningFormat  string `json:"reasoning_format,omitempty" yaml:"reasoning_format,omitempty"`
	DisableReasoning bool   `json:"disable_reasoning,omitempty" yaml:"disable_reasoning,omitempty"`
	// DefaultTools names the server tools offered when the client sends none.
	DefaultTools []string `json:"default_tools,omitempty" yaml:"default_tools,omitempty"`
}

// IsModelAllowed matches the whitelist by substring. No whitelist allows
// every model.
func (p *Provider) IsModelAllowed(model string) bool {
	if len(p.ModelWhitelist) == 0 {
		return true
	}

	for _, pattern := range p.ModelWhitelist {
		if strings.Contains(model, pattern) {
			return true
		}
	}

	return false
}

// GetAllowedModels filters the advertised models through the whitelist.
func (p *Provider) GetAllowedModels() []string {
	models := p.DefaultModels
	if len(p.Models) > 0 {
		models = p.Models
	}
	if len(p.ModelWhitelist) == 0 {
		return models
	}

	var allowed []string
	for _, model := range models {
		if p.IsModelAllowed(model) {
			allowed = append(allowed, model)
		}
	}

	return allowed
}

type RouterConfig struct {
	Default     string `json:"default" yaml:"default"`
	Think       string `json:"think,omitempty" yaml:"think,omitempty"`
	LongContext string `json:"longContext,omitempty" yaml:"long_context,omitempty"`
	// LongContextThreshold is the prompt size in tokens above which
	// LongContext is used.
	LongContextThreshold int `json:"longContextThreshold,omitempty" yaml:"long_context_threshold,omitempty"`
}

// GatewayConfig tunes the tool loop.
type GatewayConfig struct {
	MaxRounds              int `json:"max_rounds,omitempty" yaml:"max_rounds,omitempty"`
	StreamTimeoutSeconds   int `json:"stream_timeout_seconds,omitempty" yaml:"stream_timeout_seconds,omitempty"`
	ToolConcurrency        int `json:"tool_concurrency,omitempty" yaml:"tool_concurrency,omitempty"`
	UpstreamTimeoutSeconds int `json:"upstream_timeout_seconds,omitempty" yaml:"upstream_timeout_seconds,omitempty"`
	MaxConversations       int `json:"max_conversations,omitempty" yaml:"max_conversations,omitempty"`
}

func (g GatewayConfig) StreamTimeout() time.Duration {
	return time.Duration(g.StreamTimeoutSeconds) * time.Second
}

// UpstreamTimeout is the whole-request ceiling for one upstream call; zero
// means none.
func (g GatewayConfig) UpstreamTimeout() time.Duration {
	return time.Duration(g.UpstreamTimeoutSeconds) * time.Second
}

type Config struct {
	Host      string        `json:"HOST,omitempty" yaml:"host,omitempty"`
	Port      int           `json:"PORT,omitempty" yaml:"port,omitempty"`
	APIKey    string        `json:"APIKEY,omitempty" yaml:"api_key,omitempty"`
	Providers []Provider    `json:"Providers" yaml:"providers"`
	Router    RouterConfig  `json:"Router" yaml:"router"`
	Gateway   GatewayConfig `json:"Gateway,omitempty" yaml:"gateway,omitempty"`
}

// Provider looks a provider up by name.
func (c *Config) Provider(name string) (*Provider, bool) {
	for i := range c.Providers {
		if c.Providers[i].Name == name {
			return &c.Providers[i], true
		}
	}
	return nil, false
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Host == "" {
		c.Host = DefaultHost
	}

	for i := range c.Providers {
		p := &c.Providers[i]
		if p.APIBase == "" {
			p.APIBase = DefaultProviderURLs[p.Name]
		}
		if len(p.DefaultModels) == 0 {
			if models, ok := DefaultProviderModels[p.Name]; ok {
				p.DefaultModels = append([]string(nil), models...)
			}
		}
	}

	if c.Router.LongContextThreshold == 0 {
		c.Router.LongContextThreshold = DefaultLongContextThreshold
	}
	if c.Gateway.MaxRounds == 0 {
		c.Gateway.MaxRounds = DefaultMaxRounds
	}
	if c.Gateway.StreamTimeoutSeconds == 0 {
		c.Gateway.StreamTimeoutSeconds = DefaultStreamTimeoutSeconds
	}
	if c.Gateway.ToolConcurrency == 0 {
		c.Gateway.ToolConcurrency = DefaultToolConcurrency
	}
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if len(c.Providers) == 0 {
		errs = append(errs, errors.New("no providers configured"))
	}

	seen := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("provider %d has no name", i))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("provider %s is defined twice", p.Name))
		}
		seen[p.Name] = true

		if p.APIBase == "" {
			errs = append(errs, fmt.Errorf("provider %s has no url", p.Name))
		}
		if p.ReasoningFormat != "" {
			if _, err := normalize.ParseReasoningFormat(p.ReasoningFormat); err != nil {
				errs = append(errs, fmt.Errorf("provider %s: %w", p.Name, err))
			}
		}
	}

	if c.Router.Default == "" {
		errs = append(errs, errors.New("router.default is required"))
	}
	for route, target := range map[string]string{
		"default":      c.Router.Default,
		"think":        c.Router.Think,
		"long_context": c.Router.LongContext,
	} {
		name, _, ok := strings.Cut(target, ",")
		if ok && !seen[strings.TrimSpace(name)] {
			errs = append(errs, fmt.Errorf("router.%s refers to unknown provider %q", route, name))
		}
	}

	if c.Gateway.MaxRounds < 0 || c.Gateway.StreamTimeoutSeconds < 0 || c.Gateway.ToolConcurrency < 0 {
		errs = append(errs, errors.New("gateway limits must not be negative"))
	}

	return errors.Join(errs...)
}

type Manager struct {
	baseDir     string
	configValue atomic.Value
}

func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

func (m *Manager) jsonPath() string {
	return filepath.Join(m.baseDir, DefaultConfigFilename)
}

func (m *Manager) yamlPath() string {
	return filepath.Join(m.baseDir, DefaultYAMLFilename)
}

// Load reads config.yaml when present, config.json otherwise.
func (m *Manager) Load() (*Config, error) {
	var cfg Config

	if m.HasYAML() {
		data, err := os.ReadFile(m.yamlPath())
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal yaml config: %w", err)
		}
	} else {
		data, err := os.ReadFile(m.jsonPath())
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("unmarshal config: %w", err)
		}
	}

	cfg.applyDefaults()

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		// Return a config with defaults if loading fails
		cfg = &Config{}
		cfg.applyDefaults()
	}
	return cfg
}

// Save writes config.json.
func (m *Manager) Save(cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return m.write(m.jsonPath(), data, cfg)
}

// SaveAsYAML writes config.yaml, which then takes precedence.
func (m *Manager) SaveAsYAML(cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml config: %w", err)
	}

	return m.write(m.yamlPath(), data, cfg)
}

func (m *Manager) write(path string, data []byte, cfg *Config) error {
	if err := os.MkdirAll(m.baseDir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

// CreateExampleYAML writes a config with every known provider.
func (m *Manager) CreateExampleYAML() error {
	cfg := &Config{
		Host:   DefaultHost,
		Port:   DefaultPort,
		APIKey: "your-proxy-api-key-here",
		Providers: []Provider{
			{Name: "openrouter", APIKey: "your-openrouter-api-key", DefaultTools: []string{"get_time"}},
			{Name: "openai", APIKey: "your-openai-api-key", ReasoningFormat: "flat"},
			{Name: "anthropic", APIKey: "your-anthropic-api-key", DisableReasoning: true},
			{Name: "nvidia", APIKey: "your-nvidia-api-key"},
			{Name: "gemini", APIKey: "your-gemini-api-key"},
		},
		Router: RouterConfig{
			Default:     "openrouter,anthropic/claude-3.5-sonnet",
			Think:       "openai,o3-mini",
			LongContext: "gemini,gemini-1.5-pro",
		},
		Gateway: GatewayConfig{
			MaxRounds:            DefaultMaxRounds,
			StreamTimeoutSeconds: DefaultStreamTimeoutSeconds,
			ToolConcurrency:      DefaultToolConcurrency,
		},
	}
	cfg.applyDefaults()

	return m.SaveAsYAML(cfg)
}

// GetPath returns the file Load would read.
func (m *Manager) GetPath() string {
	if m.HasYAML() {
		return m.yamlPath()
	}
	return m.jsonPath()
}

func (m *Manager) Exists() bool {
	return m.HasYAML() || m.HasJSON()
}

func (m *Manager) HasYAML() bool {
	_, err := os.Stat(m.yamlPath())
	return err == nil
}

func (m *Manager) HasJSON() bool {
	_, err := os.Stat(m.jsonPath())
	return err == nil
}
