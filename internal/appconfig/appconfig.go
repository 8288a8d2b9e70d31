// internal/appconfig/appconfig.go
// Package appconfig manages loading and interpreting application configuration.
package appconfig

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// DefaultConfigPath is the default path to the application's configuration file.
	DefaultConfigPath = "config/config.json"
	// DefaultEnvFile is the dotenv file consulted for credentials.
	DefaultEnvFile = ".env"
	// DefaultMaxLength is the Discord message-size ceiling.
	DefaultMaxLength = 2000
	// DefaultErrorReply is sent when the model backend fails.
	DefaultErrorReply = "Sorry, an error occurred while processing your request."

	// defaultRequestTimeout is the default timeout for HTTP requests.
	defaultRequestTimeout = 600 * time.Second
	defaultMaxTokens      = 1500
	defaultHistoryKeep    = 20
	defaultHistoryTrimAt  = 25
	defaultServerAddr     = ":8080"
	defaultRedisPrefix    = "relay:history"
)

// Provider names accepted in the "provider" key.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config represents the top-level application configuration.
type Config struct {
	Provider       string        `json:"provider"`
	Host           Host          `json:"host"`
	APIKey         string        `json:"apiKey,omitempty"`
	SystemPrompt   string        `json:"systemPrompt,omitempty"`
	MaxTokens      int           `json:"maxTokens,omitempty"`
	Parameters     Parameters    `json:"parameters"`
	MaxLength      int           `json:"maxLength"`
	FencePolicy    string        `json:"fencePolicy,omitempty"`
	ErrorReply     string        `json:"errorReply,omitempty"`
	BotID          string        `json:"botId,omitempty"`
	History        HistoryConfig `json:"history"`
	Discord        DiscordConfig `json:"discord"`
	Server         ServerConfig  `json:"server"`
	Debug          bool          `json:"debug"`
	Metrics        bool          `json:"metrics"`
	TimeoutSeconds int           `json:"timeout,omitempty" mapstructure:"timeout"`
	LogFile        string        `json:"logFile,omitempty"`
	ConfigPath     string        `json:"-" mapstructure:"-"`
}

// Host represents the model endpoint replies are generated on.
type Host struct {
	Name  string `json:"name"`
	URL   string `json:"url"`
	Model string `json:"model"`
}

// Parameters defines the sampling parameters forwarded to the model.
type Parameters struct {
	TopK             *int     `json:"top_k,omitempty" mapstructure:"top_k"`
	TopP             *float64 `json:"top_p,omitempty" mapstructure:"top_p"`
	MinP             *float64 `json:"min_p,omitempty" mapstructure:"min_p"`
	Temperature      *float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	RepeatPenalty    *float64 `json:"repeat_penalty,omitempty" mapstructure:"repeat_penalty"`
	PresencePenalty  *float64 `json:"presence_penalty,omitempty" mapstructure:"presence_penalty"`
	FrequencyPenalty *float64 `json:"frequency_penalty,omitempty" mapstructure:"frequency_penalty"`
}

// HistoryConfig selects the conversation store and its retention policy.
type HistoryConfig struct {
	Backend    string `json:"backend"`
	Keep       int    `json:"keep"`
	TrimAt     int    `json:"trimAt"`
	RedisAddr  string `json:"redisAddr,omitempty"`
	RedisDB    int    `json:"redisDb,omitempty"`
	RedisKey   string `json:"redisPrefix,omitempty" mapstructure:"redisPrefix"`
	TTLSeconds int    `json:"ttl,omitempty" mapstructure:"ttl"`
}

// DiscordConfig holds the outbound webhook settings.
type DiscordConfig struct {
	WebhookURL string `json:"webhookURL,omitempty"`
	Username   string `json:"username,omitempty"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Addr         string `json:"addr"`
	MaxBodyBytes int64  `json:"maxBodyBytes,omitempty"`
}

// Defaults returns a configuration with every default applied.
func Defaults() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if strings.TrimSpace(c.Provider) == "" {
		c.Provider = ProviderOllama
	}
	if c.Host.URL == "" && c.Provider == ProviderOllama {
		c.Host.URL = "http://127.0.0.1:11434"
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.MaxLength == 0 {
		c.MaxLength = DefaultMaxLength
	}
	if strings.TrimSpace(c.ErrorReply) == "" {
		c.ErrorReply = DefaultErrorReply
	}
	if c.History.Backend == "" {
		c.History.Backend = "memory"
	}
	if c.History.Keep == 0 {
		c.History.Keep = defaultHistoryKeep
	}
	if c.History.TrimAt == 0 {
		c.History.TrimAt = defaultHistoryTrimAt
	}
	if c.History.RedisKey == "" {
		c.History.RedisKey = defaultRedisPrefix
	}
	if c.Server.Addr == "" {
		c.Server.Addr = defaultServerAddr
	}
	if c.Server.MaxBodyBytes <= 0 {
		c.Server.MaxBodyBytes = 1 << 20
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = int(defaultRequestTimeout.Seconds())
	}
}

// Validate reports configuration values that cannot work together.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderOllama, ProviderOpenAI:
	default:
		return fmt.Errorf("unknown provider %q (want %q or %q)", c.Provider, ProviderOllama, ProviderOpenAI)
	}
	if c.MaxLength <= 0 {
		return fmt.Errorf("maxLength must be positive, got %d", c.MaxLength)
	}
	switch c.History.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown history backend %q", c.History.Backend)
	}
	if c.History.Keep <= 0 || c.History.TrimAt < c.History.Keep {
		return fmt.Errorf("history policy keep=%d trimAt=%d: trimAt must be at least keep and keep positive", c.History.Keep, c.History.TrimAt)
	}
	return nil
}

// RequestTimeout returns the timeout duration for HTTP requests, falling back to the default if not specified.
func (c Config) RequestTimeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return defaultRequestTimeout
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HistoryTTL returns how long a stored conversation survives without activity. Zero means forever.
func (c Config) HistoryTTL() time.Duration {
	if c.History.TTLSeconds <= 0 {
		return 0
	}
	return time.Duration(c.History.TTLSeconds) * time.Second
}

// LogFilePath returns the path to the application log file, applying a default if not set.
func (c Config) LogFilePath() string {
	if path := c.LogFile; strings.TrimSpace(path) != "" {
		return path
	}
	return "relay.log"
}

// Redacted returns a copy safe for printing.
func (c Config) Redacted() Config {
	if c.APIKey != "" {
		c.APIKey = mask(c.APIKey)
	}
	if c.Discord.WebhookURL != "" {
		c.Discord.WebhookURL = mask(c.Discord.WebhookURL)
	}
	return c
}

func mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "****" + secret[len(secret)-4:]
}

// LoadEnv loads KEY=VALUE pairs from a dotenv file without overriding variables
// already present in the environment. A missing file is not an error.
func LoadEnv(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %q: %w", path, err)
	}
	return nil
}

// Load reads, validates and defaults the configuration stored at path.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("no configuration file found at %q", path)
		}
		return Config{}, fmt.Errorf("could not read config file %q: %w", path, err)
	}
	if err := ValidateDocument(data); err != nil {
		return Config{}, fmt.Errorf("config file %q: %w", path, err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("decode config file %q: %w", path, err)
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return Config{}, fmt.Errorf("config file %q: %w", path, err)
	}
	config.ConfigPath = path
	return config, nil
}
