package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Config represents the agent configuration
type Config struct {
	Device   DeviceConfig   `json:"device"`
	API      APIConfig      `json:"api"`
	Agent    AgentConfig    `json:"agent"`
	Status   StatusConfig   `json:"status"`
	Telegram TelegramConfig `json:"telegram"`
	Log      LogConfig      `json:"log"`
}

// DeviceConfig identifies this device and its user
type DeviceConfig struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	FamilyID string `json:"family_id"`
	UserID   string `json:"user_id"`
}

// APIConfig contains backend connection settings
type APIConfig struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token"`
}

// AgentConfig contains monitoring loop settings
type AgentConfig struct {
	PollIntervalSeconds     int    `json:"poll_interval_seconds"`
	WhitelistRefreshSeconds int    `json:"whitelist_refresh_seconds"`
	CacheDir                string `json:"cache_dir"`
}

// StatusConfig contains local status API settings
type StatusConfig struct {
	Enabled    bool   `json:"enabled"`
	ListenAddr string `json:"listen_addr"`
}

// TelegramConfig contains optional parent alert settings
type TelegramConfig struct {
	BotToken string `json:"bot_token"`
	ChatID   int64  `json:"chat_id"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Path   string `json:"path"`
}

// Validate validates the configuration and fills in defaults
func (c *Config) Validate() error {
	if c.Device.ID == "" {
		return fmt.Errorf("%w: device id is required", ErrInvalidConfig)
	}
	if c.Device.FamilyID == "" {
		return fmt.Errorf("%w: family id is required", ErrInvalidConfig)
	}
	if c.Device.UserID == "" {
		return fmt.Errorf("%w: user id is required", ErrInvalidConfig)
	}
	if c.Device.Name == "" {
		c.Device.Name = c.Device.ID
	}

	if c.API.BaseURL == "" {
		return fmt.Errorf("%w: API base URL is required", ErrInvalidConfig)
	}
	if c.API.Token == "" {
		return fmt.Errorf("%w: API token is required", ErrInvalidConfig)
	}

	if c.Agent.PollIntervalSeconds < 0 || c.Agent.WhitelistRefreshSeconds < 0 {
		return fmt.Errorf("%w: intervals must be positive", ErrInvalidConfig)
	}
	if c.Agent.PollIntervalSeconds == 0 {
		c.Agent.PollIntervalSeconds = 10
	}
	if c.Agent.WhitelistRefreshSeconds == 0 {
		c.Agent.WhitelistRefreshSeconds = 60
	}
	if c.Agent.CacheDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("%w: cache dir is required when no home directory is available", ErrInvalidConfig)
		}
		c.Agent.CacheDir = filepath.Join(home, ".screentime", "cache")
	}

	if c.Status.ListenAddr == "" {
		c.Status.ListenAddr = "127.0.0.1:7878"
	}

	// Telegram alerts are optional, but a token without a chat is a
	// misconfiguration rather than "disabled"
	if c.Telegram.BotToken != "" && c.Telegram.ChatID == 0 {
		return fmt.Errorf("%w: telegram chat_id is required when bot_token is set", ErrInvalidConfig)
	}

	return nil
}

// AlertsEnabled reports whether Telegram parent alerts are configured
func (c *Config) AlertsEnabled() bool {
	return c.Telegram.BotToken != "" && c.Telegram.ChatID != 0
}

// Load loads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigFileNotFound
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFromEnv loads configuration from environment variables
// This is useful for provisioning via an installer or fleet manager
func LoadFromEnv() (*Config, error) {
	config := &Config{
		Device: DeviceConfig{
			ID:       getEnv("SCREENTIME_DEVICE_ID", ""),
			Name:     getEnv("SCREENTIME_DEVICE_NAME", ""),
			FamilyID: getEnv("SCREENTIME_FAMILY_ID", ""),
			UserID:   getEnv("SCREENTIME_USER_ID", ""),
		},
		API: APIConfig{
			BaseURL: getEnv("SCREENTIME_API_BASE_URL", ""),
			Token:   getEnv("SCREENTIME_API_TOKEN", ""),
		},
		Agent: AgentConfig{
			PollIntervalSeconds:     getEnvInt("SCREENTIME_POLL_INTERVAL_SECONDS", 10),
			WhitelistRefreshSeconds: getEnvInt("SCREENTIME_WHITELIST_REFRESH_SECONDS", 60),
			CacheDir:                getEnv("SCREENTIME_CACHE_DIR", ""),
		},
		Status: StatusConfig{
			Enabled:    getEnvBool("SCREENTIME_STATUS_ENABLED", true),
			ListenAddr: getEnv("SCREENTIME_STATUS_LISTEN_ADDR", "127.0.0.1:7878"),
		},
		Telegram: TelegramConfig{
			BotToken: getEnv("SCREENTIME_TELEGRAM_BOT_TOKEN", ""),
			ChatID:   int64(getEnvInt("SCREENTIME_TELEGRAM_CHAT_ID", 0)),
		},
		Log: LogConfig{
			Level:  getEnv("SCREENTIME_LOG_LEVEL", "info"),
			Format: getEnv("SCREENTIME_LOG_FORMAT", "text"),
			Path:   getEnv("SCREENTIME_LOG_PATH", ""),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		fmt.Sscanf(value, "%d", &intVal)
		return intVal
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1"
	}
	return defaultValue
}
