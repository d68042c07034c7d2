// Package config loads typed application configuration from the environment,
// including file-backed secrets.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment
// variables with BOT_* prefixes per the external configuration surface.
type Config struct {
	// Secrets (file-backed; see loadSecrets).
	DiscordToken string `env:"-"`
	ClaudeAPIKey string `env:"-"`
	RedisToken   string `env:"-"`

	DiscordTokenFile string `env:"BOT_DISCORD_TOKEN_FILE"`
	ClaudeAPIKeyFile string `env:"CLAUDE_API_KEY_FILE"`
	RedisTokenFile   string `env:"REDIS_TOKEN_FILE"`

	// Topology.
	MonitoredChannels        []string `env:"BOT_MONITORED_CHANNELS" envSeparator:","`
	AlertChannelCrisis       string   `env:"BOT_ALERT_CHANNEL_CRISIS"`
	AlertChannelMonitor      string   `env:"BOT_ALERT_CHANNEL_MONITOR"`
	CRTRoleID                string   `env:"BOT_CRT_ROLE_ID"`
	CRTLeadUserID            string   `env:"BOT_CRT_LEAD_USER_ID"`
	DefaultChannelSensitivity float64 `env:"BOT_DEFAULT_CHANNEL_SENSITIVITY" envDefault:"1.0"`

	// Severity thresholds (§3); operator-tunable defaults per spec.
	ThresholdCritical float64 `env:"BOT_THRESHOLD_CRITICAL" envDefault:"0.85"`
	ThresholdHigh     float64 `env:"BOT_THRESHOLD_HIGH" envDefault:"0.55"`
	ThresholdMedium   float64 `env:"BOT_THRESHOLD_MEDIUM" envDefault:"0.28"`
	ThresholdLow      float64 `env:"BOT_THRESHOLD_LOW" envDefault:"0.16"`

	// Cooldown windows, keyed implicitly by severity below.
	CooldownMediumMinutes   int `env:"BOT_COOLDOWN_MEDIUM_MINUTES" envDefault:"15"`
	CooldownHighMinutes     int `env:"BOT_COOLDOWN_HIGH_MINUTES" envDefault:"10"`
	CooldownCriticalMinutes int `env:"BOT_COOLDOWN_CRITICAL_MINUTES" envDefault:"5"`

	// Per-user queue size (§5 backpressure).
	UserQueueSize int `env:"BOT_USER_QUEUE_SIZE" envDefault:"16"`

	// Auto-initiate.
	AutoInitiateEnabled     bool   `env:"BOT_AUTO_INITIATE_ENABLED" envDefault:"true"`
	AutoInitiateDelayMinutes int   `env:"BOT_AUTO_INITIATE_DELAY_MINUTES" envDefault:"3"`
	AutoInitiateMinSeverity string `env:"BOT_AUTO_INITIATE_MIN_SEVERITY" envDefault:"medium"`

	// Opt-out.
	UserOptOutEnabled bool `env:"BOT_USER_OPTOUT_ENABLED" envDefault:"true"`
	UserOptOutTTLDays int  `env:"BOT_USER_OPTOUT_TTL_DAYS" envDefault:"30"`

	// History.
	HistoryTTLDays     int    `env:"BOT_HISTORY_TTL_DAYS" envDefault:"14"`
	HistoryMaxMessages int    `env:"BOT_HISTORY_MAX_MESSAGES" envDefault:"50"`
	HistoryMinSeverity string `env:"BOT_HISTORY_MIN_SEVERITY" envDefault:"low"`

	// Endpoints.
	NLPBaseURL string `env:"BOT_NLP_BASE_URL" envDefault:"http://localhost:8000"`
	LLMBaseURL string `env:"BOT_LLM_BASE_URL" envDefault:"https://api.anthropic.com"`
	RedisHost  string `env:"BOT_REDIS_HOST" envDefault:"localhost"`
	RedisPort  int    `env:"BOT_REDIS_PORT" envDefault:"6379"`
	RedisDB    int    `env:"BOT_REDIS_DB" envDefault:"0"`

	// Ops.
	LogLevel   string `env:"BOT_LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"BOT_LOG_FORMAT" envDefault:"json"`
	HealthPort int    `env:"BOT_HEALTH_PORT" envDefault:"8882"`
	HealthHost string `env:"BOT_HEALTH_HOST" envDefault:"0.0.0.0"`

	// Open-question #1: interactive control set is config, not hard-coded.
	AlertControls []string `env:"BOT_ALERT_CONTROLS" envDefault:"acknowledge,talk,history" envSeparator:","`

	CORSAllowedOrigins []string `env:"BOT_CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Load reads configuration from environment variables and resolves any
// file-backed secrets. It does not validate required fields — callers decide
// what's fatal for their mode of operation.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	if err := cfg.loadSecrets(); err != nil {
		return nil, fmt.Errorf("loading secrets: %w", err)
	}
	return cfg, nil
}

// loadSecrets resolves the three _FILE-backed secrets by reading the file each
// _FILE env var names. The secret fields themselves are not read from the
// environment, so a secret cannot be supplied through a non-file env var; a
// secret whose _FILE var is unset stays empty.
func (c *Config) loadSecrets() error {
	var err error
	if c.DiscordToken, err = readSecretFile(c.DiscordTokenFile, c.DiscordToken); err != nil {
		return fmt.Errorf("discord token: %w", err)
	}
	if c.ClaudeAPIKey, err = readSecretFile(c.ClaudeAPIKeyFile, c.ClaudeAPIKey); err != nil {
		return fmt.Errorf("claude api key: %w", err)
	}
	if c.RedisToken, err = readSecretFile(c.RedisTokenFile, c.RedisToken); err != nil {
		return fmt.Errorf("redis token: %w", err)
	}
	return nil
}

func readSecretFile(path, fallback string) (string, error) {
	if path == "" {
		return fallback, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate checks that the fields required to run the bot are present.
// Missing a required secret at boot is a fatal condition (§7): refuse to
// start, non-zero exit.
func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("BOT_DISCORD_TOKEN_FILE is required")
	}
	if c.ClaudeAPIKey == "" {
		return fmt.Errorf("CLAUDE_API_KEY_FILE is required")
	}
	if len(c.MonitoredChannels) == 0 {
		return fmt.Errorf("BOT_MONITORED_CHANNELS must name at least one channel")
	}
	if c.AlertChannelCrisis == "" || c.AlertChannelMonitor == "" {
		return fmt.Errorf("BOT_ALERT_CHANNEL_CRISIS and BOT_ALERT_CHANNEL_MONITOR are required")
	}
	if c.CRTRoleID == "" {
		return fmt.Errorf("BOT_CRT_ROLE_ID is required")
	}
	if c.AutoInitiateDelayMinutes < 1 || c.AutoInitiateDelayMinutes > 60 {
		return fmt.Errorf("BOT_AUTO_INITIATE_DELAY_MINUTES must be in [1,60]")
	}
	if c.UserOptOutTTLDays < 1 || c.UserOptOutTTLDays > 365 {
		return fmt.Errorf("BOT_USER_OPTOUT_TTL_DAYS must be in [1,365]")
	}
	return nil
}

// RedisAddr returns the host:port Redis address.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// HealthAddr returns the address the health/metrics HTTP server listens on.
func (c *Config) HealthAddr() string {
	return fmt.Sprintf("%s:%d", c.HealthHost, c.HealthPort)
}
