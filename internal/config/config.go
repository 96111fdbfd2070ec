package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Config is the root configuration for SofIA.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Server    ServerConfig    `json:"server"`
	Broker    BrokerConfig    `json:"broker"`
	AI        AIConfig        `json:"ai"`
	Knowledge KnowledgeConfig `json:"knowledge"`
	Store     StoreConfig     `json:"store"`
	Channels  ChannelsConfig  `json:"channels"`
	Worker    WorkerConfig    `json:"worker"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	Environment string `json:"environment"` // "production" | "development"
	LogLevel    string `json:"logLevel"`
}

// Production reports whether the unsafe signature bypass must stay disabled.
func (g GeneralConfig) Production() bool {
	return strings.EqualFold(g.Environment, "production")
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// BrokerConfig points at the external task broker. The URL scheme selects the
// backend: amqp:// / amqps:// for RabbitMQ, redis:// / rediss:// for Redis.
type BrokerConfig struct {
	URL       string `json:"url"`
	Queue     string `json:"queue"`
	Workers   int    `json:"workers"`
	Prefetch  int    `json:"prefetch"`
}

type AIConfig struct {
	APIKey          string  `json:"apiKey"`
	Model           string  `json:"model"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
	TimeoutSeconds  int     `json:"timeoutSeconds"`
	CacheSize       int     `json:"cacheSize"`
}

type KnowledgeConfig struct {
	Path string `json:"path"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type ChannelsConfig struct {
	WhatsApp  WhatsAppConfig  `json:"whatsapp"`
	Messenger MessengerConfig `json:"messenger"`
}

// WhatsAppConfig holds WhatsApp Cloud API credentials.
type WhatsAppConfig struct {
	VerifyToken   string `json:"verifyToken"`
	AppSecret     string `json:"appSecret"`
	AccessToken   string `json:"accessToken"`
	PhoneNumberID string `json:"phoneNumberId"`
}

// MessengerConfig holds page credentials shared by Facebook and Instagram.
type MessengerConfig struct {
	VerifyToken string `json:"verifyToken"`
	AppSecret   string `json:"appSecret"`
	AccessToken string `json:"accessToken"`
	PageID      string `json:"pageId"`
}

type WorkerConfig struct {
	MaxAttempts       int    `json:"maxAttempts"`
	RetryDelaySeconds int    `json:"retryDelaySeconds"`
	RepliesPath       string `json:"repliesPath"` // optional YAML fallback-reply catalog
}

type MetricsConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.sofia).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sofia"
	}
	return filepath.Join(home, ".sofia")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("cannot resolve home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks structural config values. Credential presence is checked
// separately per process role (receiver vs worker).
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.Environment) {
	case "", "production", "development":
		// valid
	default:
		errs = append(errs, "general.environment must be one of: production, development")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Broker.Workers < 1 || cfg.Broker.Workers > 100 {
		errs = append(errs, "broker.workers must be between 1 and 100")
	}
	if cfg.Broker.Prefetch < 1 {
		errs = append(errs, "broker.prefetch must be >= 1")
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		errs = append(errs, "ai.temperature must be between 0 and 2")
	}
	if cfg.AI.MaxOutputTokens < 1 {
		errs = append(errs, "ai.maxOutputTokens must be >= 1")
	}
	if cfg.AI.CacheSize < 1 {
		errs = append(errs, "ai.cacheSize must be >= 1")
	}
	if cfg.Worker.MaxAttempts < 1 || cfg.Worker.MaxAttempts > 10 {
		errs = append(errs, "worker.maxAttempts must be between 1 and 10")
	}
	if cfg.Worker.RetryDelaySeconds < 1 {
		errs = append(errs, "worker.retryDelaySeconds must be >= 1")
	}

	if u := cfg.Broker.URL; u != "" && !strings.HasPrefix(u, "${") {
		switch {
		case strings.HasPrefix(u, "amqp://"), strings.HasPrefix(u, "amqps://"),
			strings.HasPrefix(u, "redis://"), strings.HasPrefix(u, "rediss://"):
			// valid
		default:
			errs = append(errs, "broker.url must use an amqp(s):// or redis(s):// scheme")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Unset reports whether a config value is effectively missing: empty, or an
// environment placeholder that never got expanded.
func Unset(v string) bool {
	return v == "" || strings.HasPrefix(v, "${")
}

// RequireReceiver checks the credentials the webhook receiver cannot run
// without. App secrets are allowed to be empty outside production; the
// verifier then warns and allows.
func RequireReceiver(cfg *Config) error {
	var errs []string

	if Unset(cfg.Broker.URL) {
		errs = append(errs, "broker.url is required")
	}
	if Unset(cfg.Channels.WhatsApp.VerifyToken) {
		errs = append(errs, "channels.whatsapp.verifyToken is required")
	}
	if Unset(cfg.Channels.Messenger.VerifyToken) {
		errs = append(errs, "channels.messenger.verifyToken is required")
	}
	if cfg.General.Production() {
		if Unset(cfg.Channels.WhatsApp.AppSecret) {
			errs = append(errs, "channels.whatsapp.appSecret is required in production")
		}
		if Unset(cfg.Channels.Messenger.AppSecret) {
			errs = append(errs, "channels.messenger.appSecret is required in production")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("missing required configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireWorker checks the credentials the worker cannot run without.
func RequireWorker(cfg *Config) error {
	var errs []string

	if Unset(cfg.Broker.URL) {
		errs = append(errs, "broker.url is required")
	}
	if Unset(cfg.AI.APIKey) {
		errs = append(errs, "ai.apiKey is required")
	}
	if Unset(cfg.Channels.WhatsApp.AccessToken) {
		errs = append(errs, "channels.whatsapp.accessToken is required")
	}
	if Unset(cfg.Channels.WhatsApp.PhoneNumberID) {
		errs = append(errs, "channels.whatsapp.phoneNumberId is required")
	}
	if Unset(cfg.Channels.Messenger.AccessToken) {
		errs = append(errs, "channels.messenger.accessToken is required")
	}
	if Unset(cfg.Channels.Messenger.PageID) {
		errs = append(errs, "channels.messenger.pageId is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("missing required configuration:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
