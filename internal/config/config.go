package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// ErrInvalid is matched by every configuration error.
var ErrInvalid = errors.New("invalid configuration")

// Error reports a missing or malformed configuration value.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func (e *Error) Is(target error) bool { return target == ErrInvalid }

type Config struct {
	LLM        LLM        `yaml:"llm"`
	Connectors Connectors `yaml:"connectors"`
	Discovery  Discovery  `yaml:"discovery"`
	Retrieval  Retrieval  `yaml:"retrieval"`
	Processing Processing `yaml:"processing"`
	Comparison Comparison `yaml:"comparison"`
	Logging    Logging    `yaml:"logging"`
}

type LLM struct {
	Provider      string        `yaml:"provider"`
	Model         string        `yaml:"model"`
	BaseURL       string        `yaml:"base_url"`
	APIKeyEnv     string        `yaml:"api_key_env"`
	MaxTokens     int           `yaml:"max_tokens"`
	Temperature   float64       `yaml:"temperature"`
	MaxToolRounds int           `yaml:"max_tool_rounds"`
	Timeout       time.Duration `yaml:"timeout"`
}

type Connectors struct {
	Timeout    time.Duration    `yaml:"timeout"`
	Serper     SerperConfig     `yaml:"serper"`
	SerpAPI    SerpAPIConfig    `yaml:"serpapi_amazon"`
	DuckDuckGo DuckDuckGoConfig `yaml:"duckduckgo"`
	Feeds      []Feed           `yaml:"feeds"`
}

type SerperConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Country   string `yaml:"country"`
}

type SerpAPIConfig struct {
	Enabled   bool   `yaml:"enabled"`
	APIKeyEnv string `yaml:"api_key_env"`
	Region    string `yaml:"region"`
}

type DuckDuckGoConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Discovery struct {
	// Region the suggested products should be available in.
	Market string `yaml:"market"`
	// Offer the model a web search tool backed by Serper.
	WebSearch bool `yaml:"web_search"`
}

type Retrieval struct {
	// Order in which marketplace connectors are queried.
	Order             []string `yaml:"order"`
	LimitPerConnector int      `yaml:"limit_per_connector"`
	BackfillImages    bool     `yaml:"backfill_images"`
	FetchDescriptions bool     `yaml:"fetch_descriptions"`
}

const (
	OnErrorAbort = "abort"
	OnErrorSkip  = "skip"
)

type Processing struct {
	MaxConcurrency int    `yaml:"max_concurrency"`
	OnError        string `yaml:"on_error"`
}

type Comparison struct {
	TopN int `yaml:"top_n"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Connector names accepted in retrieval.order.
const (
	ConnectorSerperShopping = "serper_shopping"
	ConnectorSerperWeb      = "serper_web"
	ConnectorSerpAPIAmazon  = "serpapi_amazon"
	ConnectorDuckDuckGo     = "duckduckgo"
	ConnectorFeeds          = "feeds"
)

// Secrets holds credentials resolved from the environment once at startup.
type Secrets struct {
	LLMKey     string
	SerperKey  string
	SerpAPIKey string
}

// ConfigDir returns the XDG config directory for shopscout.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "shopscout")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/shopscout/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'shopscout init' to create a default config",
		xdgConfig,
	)
}

// Load reads and parses a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return parse(data)
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := parse(DefaultConfigYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded default config is invalid: %v", err))
	}
	return cfg
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := &Config{
		LLM: LLM{
			Provider:      "gemini",
			Model:         "gemini-2.5-flash",
			APIKeyEnv:     "GEMINI_API_KEY",
			MaxTokens:     1024,
			Temperature:   0.3,
			MaxToolRounds: 4,
			Timeout:       120 * time.Second,
		},
		Connectors: Connectors{
			Timeout: 30 * time.Second,
			Serper: SerperConfig{
				Enabled:   true,
				APIKeyEnv: "SERPER_API_KEY",
				Country:   "in",
			},
			SerpAPI: SerpAPIConfig{
				Enabled:   true,
				APIKeyEnv: "SERPAPI_KEY",
				Region:    "in",
			},
			DuckDuckGo: DuckDuckGoConfig{Enabled: true, Region: "in-en"},
		},
		Discovery: Discovery{Market: "India", WebSearch: true},
		Retrieval: Retrieval{
			Order:             []string{ConnectorSerpAPIAmazon, ConnectorDuckDuckGo},
			LimitPerConnector: 5,
			BackfillImages:    true,
		},
		Processing: Processing{OnError: OnErrorAbort},
		Comparison: Comparison{TopN: 20},
		Logging:    Logging{Level: "info", Format: "console"},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.Processing.OnError = strings.ToLower(strings.TrimSpace(cfg.Processing.OnError))
	return cfg, nil
}

// Secrets resolves every *_api_key_env name through lookup.
func (c *Config) Secrets(lookup func(string) string) Secrets {
	get := func(name string) string {
		if name == "" {
			return ""
		}
		return strings.TrimSpace(lookup(name))
	}
	return Secrets{
		LLMKey:     get(c.LLM.APIKeyEnv),
		SerperKey:  get(c.Connectors.Serper.APIKeyEnv),
		SerpAPIKey: get(c.Connectors.SerpAPI.APIKeyEnv),
	}
}

// Validate reports the first setting that makes a run impossible.
func (c *Config) Validate(s Secrets) error {
	switch c.LLM.Provider {
	case "gemini", "openai":
		if s.LLMKey == "" {
			return &Error{Field: "llm.api_key_env", Reason: fmt.Sprintf("environment variable %s is not set", c.LLM.APIKeyEnv)}
		}
	case "ollama":
	default:
		return &Error{Field: "llm.provider", Reason: fmt.Sprintf("unknown provider %q", c.LLM.Provider)}
	}
	if c.LLM.Model == "" {
		return &Error{Field: "llm.model", Reason: "must be set"}
	}

	if c.Connectors.Serper.Enabled && s.SerperKey == "" {
		return &Error{Field: "connectors.serper.api_key_env", Reason: fmt.Sprintf("environment variable %s is not set", c.Connectors.Serper.APIKeyEnv)}
	}
	if c.Connectors.SerpAPI.Enabled && s.SerpAPIKey == "" {
		return &Error{Field: "connectors.serpapi_amazon.api_key_env", Reason: fmt.Sprintf("environment variable %s is not set", c.Connectors.SerpAPI.APIKeyEnv)}
	}

	if len(c.Retrieval.Order) == 0 {
		return &Error{Field: "retrieval.order", Reason: "at least one connector is required"}
	}
	for _, name := range c.Retrieval.Order {
		var enabled bool
		switch name {
		case ConnectorSerperShopping, ConnectorSerperWeb:
			enabled = c.Connectors.Serper.Enabled
		case ConnectorSerpAPIAmazon:
			enabled = c.Connectors.SerpAPI.Enabled
		case ConnectorDuckDuckGo:
			enabled = c.Connectors.DuckDuckGo.Enabled
		case ConnectorFeeds:
			enabled = len(c.Connectors.Feeds) > 0
		default:
			return &Error{Field: "retrieval.order", Reason: fmt.Sprintf("unknown connector %q", name)}
		}
		if !enabled {
			return &Error{Field: "retrieval.order", Reason: fmt.Sprintf("connector %q is not enabled", name)}
		}
	}
	if c.Retrieval.LimitPerConnector <= 0 {
		return &Error{Field: "retrieval.limit_per_connector", Reason: "must be positive"}
	}

	if c.Processing.OnError != OnErrorAbort && c.Processing.OnError != OnErrorSkip {
		return &Error{Field: "processing.on_error", Reason: fmt.Sprintf("want %q or %q, got %q", OnErrorAbort, OnErrorSkip, c.Processing.OnError)}
	}
	if c.Processing.MaxConcurrency < 0 {
		return &Error{Field: "processing.max_concurrency", Reason: "must not be negative"}
	}
	return nil
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
