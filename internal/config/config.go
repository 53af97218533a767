// Package config loads vercade configuration from an optional YAML file
// and VERCADE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order used when no
// explicit path is given.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "vercade", "config.yaml"))
	}
	return append(paths, "/etc/vercade/config.yaml")
}

// ErrNoConfigFile is returned by FindConfig when the search finds nothing.
// Callers may treat it as "configure from the environment only".
var ErrNoConfigFile = errors.New("no config file found")

// FindConfig locates a config file. An explicit path must exist.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}
	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (searched: %v)", ErrNoConfigFile, DefaultSearchPaths())
}

// Config holds all vercade configuration.
type Config struct {
	Agent     AgentConfig     `yaml:"agent"`
	LLM       LLMConfig       `yaml:"llm"`
	Providers ProvidersConfig `yaml:"providers"`
	Schedule  ScheduleConfig  `yaml:"schedule"`
	Discord   DiscordConfig   `yaml:"discord"`
	MCP       MCPConfig       `yaml:"mcp"`
	Memory    MemoryConfig    `yaml:"memory"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	DataDir   string          `yaml:"data_dir" env:"VERCADE_DATA_DIR"`
	LogLevel  string          `yaml:"log_level" env:"VERCADE_LOG_LEVEL"`
	LogFormat string          `yaml:"log_format" env:"VERCADE_LOG_FORMAT"`

	// Pricing maps a model name (without provider) to its token prices.
	// Models not listed cost nothing in the usage ledger.
	Pricing map[string]PricingEntry `yaml:"pricing"`
}

// AgentConfig describes who the agent is.
type AgentConfig struct {
	// Name must match the bot's account name on the chat platform.
	Name string `yaml:"name" env:"VERCADE_NAME"`
	// Identity is the system prompt.
	Identity string `yaml:"identity" env:"VERCADE_IDENTITY"`
	// Activity is an optional presence status shown on the platform.
	Activity string `yaml:"activity" env:"VERCADE_ACTIVITY"`
}

// LLMConfig selects the model and its sampling settings.
type LLMConfig struct {
	// Model is "provider/model", e.g. "anthropic/claude-sonnet-4-5" or
	// "ollama/qwen3:8b". A bare name routes to the openai provider.
	Model           string   `yaml:"model" env:"VERCADE_LLM"`
	Temperature     *float64 `yaml:"temperature" env:"VERCADE_LLM_TEMPERATURE"`
	ReasoningEffort string   `yaml:"reasoning_effort" env:"VERCADE_LLM_REASONING_EFFORT"`
	MaxTokens       int      `yaml:"max_tokens" env:"VERCADE_LLM_MAX_TOKENS"`
	// MaxRounds caps model rounds per invocation. Zero disables the cap.
	MaxRounds int `yaml:"max_rounds" env:"VERCADE_MAX_ROUNDS"`
	// Timeout bounds a whole invocation. Zero disables it.
	Timeout time.Duration `yaml:"timeout" env:"VERCADE_INVOCATION_TIMEOUT"`
}

// ProvidersConfig holds credentials and endpoints per model provider.
type ProvidersConfig struct {
	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	Ollama    OllamaConfig    `yaml:"ollama"`
}

// AnthropicConfig configures the Anthropic provider.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key" env:"ANTHROPIC_API_KEY"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env:"OPENAI_API_KEY"`
	BaseURL string `yaml:"base_url" env:"OPENAI_BASE_URL"`
}

// OllamaConfig configures the Ollama provider.
type OllamaConfig struct {
	URL string `yaml:"url" env:"OLLAMA_URL"`
}

// ScheduleConfig controls idle ticks and follow-ups.
type ScheduleConfig struct {
	// Interval is the idle tick interval; see [ParseInterval].
	Interval string `yaml:"interval" env:"VERCADE_SCHEDULE_INTERVAL"`
	// IdleInterval is Interval after Validate. Zero means disabled.
	IdleInterval time.Duration `yaml:"-"`
	// ReplyDelay is the upper bound of the random pause before a reply.
	ReplyDelay time.Duration  `yaml:"reply_delay" env:"VERCADE_REPLY_DELAY"`
	FollowUp   FollowUpConfig `yaml:"follow_up"`
}

// FollowUpConfig configures the optional second look at a conversation
// after the agent has acted on a message.
type FollowUpConfig struct {
	Probability float64       `yaml:"probability" env:"VERCADE_FOLLOW_UP_PROBABILITY"`
	MinDelay    time.Duration `yaml:"min_delay" env:"VERCADE_FOLLOW_UP_MIN_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"VERCADE_FOLLOW_UP_MAX_DELAY"`
}

// DiscordConfig configures the Discord connection.
type DiscordConfig struct {
	Token string `yaml:"token" env:"DISCORD_TOKEN"`
}

// MCPConfig points at an MCP server definition file.
type MCPConfig struct {
	Path string `yaml:"path" env:"MCP_PATH"`
}

// MemoryConfig configures the long-term memory store. Embedder is
// "openai" or "ollama"; empty disables memory.
type MemoryConfig struct {
	Embedder string `yaml:"embedder" env:"VERCADE_MEMORY_EMBEDDER"`
	Model    string `yaml:"model" env:"VERCADE_MEMORY_MODEL"`
	Path     string `yaml:"path" env:"VERCADE_MEMORY_PATH"`
}

// Enabled reports whether a memory embedder is configured.
func (m MemoryConfig) Enabled() bool { return m.Embedder != "" }

// MQTTConfig configures event publishing to an MQTT broker. An empty
// Broker disables it.
type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"VERCADE_MQTT_BROKER"`
	Username string `yaml:"username" env:"VERCADE_MQTT_USERNAME"`
	Password string `yaml:"password" env:"VERCADE_MQTT_PASSWORD"`
	Prefix   string `yaml:"prefix" env:"VERCADE_MQTT_PREFIX"`
}

// Configured reports whether a broker is set.
func (m MQTTConfig) Configured() bool { return m.Broker != "" }

// APIConfig configures the status API. Port 0 disables it.
type APIConfig struct {
	Address string `yaml:"address" env:"VERCADE_API_ADDRESS"`
	Port    int    `yaml:"port" env:"VERCADE_API_PORT"`
}

// PricingEntry is the USD price per million tokens of one model.
type PricingEntry struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads path (if non-empty), expands ${VAR} references in it,
// applies environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.Providers.Ollama.URL == "" {
		c.Providers.Ollama.URL = "http://localhost:11434"
	}
	if c.Memory.Path == "" {
		c.Memory.Path = filepath.Join(c.DataDir, "memory")
	}
	if c.MQTT.Prefix == "" {
		c.MQTT.Prefix = "vercade"
	}
	if c.Schedule.FollowUp.MinDelay == 0 {
		c.Schedule.FollowUp.MinDelay = 60 * time.Second
	}
	if c.Schedule.FollowUp.MaxDelay == 0 {
		c.Schedule.FollowUp.MaxDelay = 300 * time.Second
	}
}

var knownProviders = map[string]bool{"anthropic": true, "openai": true, "ollama": true}

// modelProvider returns the provider prefix of a "provider/model" name,
// or "" for a bare model name.
func modelProvider(model string) string {
	provider, _, ok := strings.Cut(strings.TrimSpace(model), "/")
	if !ok {
		return ""
	}
	return provider
}

// UsagePath is the SQLite file of the usage ledger.
func (c *Config) UsagePath() string {
	return filepath.Join(c.DataDir, "usage.db")
}

// Validate checks the configuration and resolves derived values. Every
// problem is reported, not only the first.
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Agent.Name) == "" {
		errs = append(errs, errors.New("agent.name (VERCADE_NAME) is required"))
	}
	if strings.TrimSpace(c.Agent.Identity) == "" {
		errs = append(errs, errors.New("agent.identity (VERCADE_IDENTITY) is required"))
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		errs = append(errs, errors.New("llm.model (VERCADE_LLM) is required"))
	}
	if provider := modelProvider(c.LLM.Model); provider != "" && !knownProviders[provider] {
		errs = append(errs, fmt.Errorf("llm.model %q: unknown provider %q (want anthropic, openai or ollama)", c.LLM.Model, provider))
	}
	if c.LLM.MaxRounds < 0 {
		errs = append(errs, fmt.Errorf("llm.max_rounds must not be negative, got %d", c.LLM.MaxRounds))
	}

	interval, err := ParseInterval(c.Schedule.Interval)
	if err != nil {
		errs = append(errs, fmt.Errorf("schedule.interval: %w", err))
	}
	c.Schedule.IdleInterval = interval

	f := c.Schedule.FollowUp
	if f.Probability < 0 || f.Probability > 1 {
		errs = append(errs, fmt.Errorf("schedule.follow_up.probability must be within [0, 1], got %g", f.Probability))
	}
	if f.MinDelay > f.MaxDelay {
		errs = append(errs, fmt.Errorf("schedule.follow_up.min_delay %s exceeds max_delay %s", f.MinDelay, f.MaxDelay))
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}

	switch c.Memory.Embedder {
	case "", "openai", "ollama":
	default:
		errs = append(errs, fmt.Errorf("memory.embedder must be openai or ollama, got %q", c.Memory.Embedder))
	}

	if c.API.Port < 0 || c.API.Port > 65535 {
		errs = append(errs, fmt.Errorf("api.port out of range: %d", c.API.Port))
	}

	return errors.Join(errs...)
}
