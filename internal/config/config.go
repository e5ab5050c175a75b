package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env     string
	API     APIConfig
	Channel ChannelConfig
	Sync    SyncConfig
	Token   TokenConfig
	OpenAI  OpenAIConfig
	Logger  LoggerConfig
}

type APIConfig struct {
	BaseURL string
}

type ChannelConfig struct {
	URL               string
	ReconnectDelay    time.Duration
	HeartbeatOutgoing time.Duration
	HeartbeatIncoming time.Duration
}

type SyncConfig struct {
	// PollInterval is the fallback dialog list refresh period; 0 disables it.
	PollInterval time.Duration
}

type TokenConfig struct {
	Path string
}

type OpenAIConfig struct {
	APIKey string
	Model  string
}

type LoggerConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment. In development a .env file
// in the working directory is loaded first, without overriding variables that
// are already set.
func Load() (Config, error) {
	if getEnv("YCYW_ENV", "development") == "development" {
		_ = godotenv.Load()
	}

	cfg := Config{
		Env: getEnv("YCYW_ENV", "development"),
		API: APIConfig{
			BaseURL: strings.TrimRight(getEnv("API_URL", "http://localhost:8080"), "/"),
		},
		Channel: ChannelConfig{
			URL:               getEnv("WS_URL", "ws://localhost:8080/ws/websocket"),
			ReconnectDelay:    getEnvDuration("RECONNECT_DELAY", 5*time.Second),
			HeartbeatOutgoing: getEnvDuration("HEARTBEAT_OUTGOING", 5*time.Second),
			HeartbeatIncoming: getEnvDuration("HEARTBEAT_INCOMING", 0),
		},
		Sync: SyncConfig{
			PollInterval: getEnvDuration("DIALOG_POLL_INTERVAL", 0),
		},
		Token: TokenConfig{
			Path: getEnv("TOKEN_FILE", defaultTokenPath()),
		},
		OpenAI: OpenAIConfig{
			APIKey: getEnv("OPENAI_API_KEY", ""),
			Model:  getEnv("OPENAI_MODEL", "gpt-4o"),
		},
		Logger: LoggerConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	if cfg.Channel.ReconnectDelay <= 0 {
		return Config{}, fmt.Errorf("RECONNECT_DELAY must be positive, got %s", cfg.Channel.ReconnectDelay)
	}
	if cfg.Token.Path == "" {
		return Config{}, fmt.Errorf("TOKEN_FILE is required when no user config directory is available")
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

func defaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "ycyw", "token")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
