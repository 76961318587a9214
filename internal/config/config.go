package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Gateway kinds.
const (
	GatewayDiscord = "discord"
	GatewayConsole = "console"
)

// Access policy profiles.
const (
	PolicyAllowList = "allowlist"
	PolicyFixedRoom = "fixed-room"
)

// Config holds all configuration for the voice reader bot
type Config struct {
	// Messaging gateway
	Gateway       string `envconfig:"GATEWAY" default:"discord"` // discord, console
	DiscordToken  string `envconfig:"DISCORD_TOKEN" default:""`
	CommandPrefix string `envconfig:"COMMAND_PREFIX" default:"!"`

	// Access control
	AccessPolicy      string `envconfig:"ACCESS_POLICY" default:"allowlist"` // allowlist, fixed-room
	SuperUserID       string `envconfig:"SUPER_USER_ID" default:""`
	FixedChannelID    string `envconfig:"FIXED_CHANNEL_ID" default:""`
	ReadPlainMessages bool   `envconfig:"READ_PLAIN_MESSAGES" default:"false"`

	// Speech engine (VOICEVOX compatible)
	SpeechURL      string `envconfig:"SPEECH_URL" default:"http://127.0.0.1:50021"`
	SpeechTimeout  int    `envconfig:"SPEECH_TIMEOUT" default:"30"` // seconds
	DefaultVoiceID int    `envconfig:"DEFAULT_VOICE_ID" default:"0"`

	// Voice playback
	VoiceQueueSize int `envconfig:"VOICE_QUEUE_SIZE" default:"16"` // tracks queued per scope

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	StartupMaxAttempts         int `envconfig:"STARTUP_MAX_ATTEMPTS" default:"10"`          // Attempts to reach the speech engine and gateway
	StartupBackoff             int `envconfig:"STARTUP_BACKOFF" default:"1000"`             // Initial startup backoff in milliseconds

	// HTTP server for health, metrics and the console gateway
	Port string `envconfig:"PORT" default:"8080"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables.
// It first loads envFile if it exists, then the environment. Variables already
// present in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	_ = godotenv.Load(envFile)

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	switch c.Gateway {
	case GatewayDiscord:
		if c.DiscordToken == "" {
			return fmt.Errorf("DISCORD_TOKEN is required")
		}
	case GatewayConsole:
	default:
		return fmt.Errorf("GATEWAY must be %q or %q, got %q", GatewayDiscord, GatewayConsole, c.Gateway)
	}

	switch c.AccessPolicy {
	case PolicyAllowList:
	case PolicyFixedRoom:
		if c.FixedChannelID == "" {
			return fmt.Errorf("FIXED_CHANNEL_ID is required with ACCESS_POLICY=%s", PolicyFixedRoom)
		}
	default:
		return fmt.Errorf("ACCESS_POLICY must be %q or %q, got %q", PolicyAllowList, PolicyFixedRoom, c.AccessPolicy)
	}

	if c.CommandPrefix == "" {
		return fmt.Errorf("COMMAND_PREFIX must not be empty")
	}
	if c.DefaultVoiceID < 0 {
		return fmt.Errorf("DEFAULT_VOICE_ID must not be negative")
	}
	if c.SpeechTimeout <= 0 {
		return fmt.Errorf("SPEECH_TIMEOUT must be positive")
	}
	if c.VoiceQueueSize <= 0 {
		return fmt.Errorf("VOICE_QUEUE_SIZE must be positive")
	}

	return nil
}

// SpeechTimeoutDuration returns SpeechTimeout as a time.Duration.
func (c *Config) SpeechTimeoutDuration() time.Duration {
	return time.Duration(c.SpeechTimeout) * time.Second
}

// ResetTimeoutDuration returns CircuitBreakerResetTimeout as a time.Duration.
func (c *Config) ResetTimeoutDuration() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// StartupBackoffDuration returns StartupBackoff as a time.Duration.
func (c *Config) StartupBackoffDuration() time.Duration {
	return time.Duration(c.StartupBackoff) * time.Millisecond
}
