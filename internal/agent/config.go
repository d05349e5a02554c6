// Package agent implements the device-side monitoring agent: a fixed-cadence
// reconciliation loop that merges local elapsed time, remote budget state and
// the remote whitelist into one local decision (lock or don't lock).
package agent

import (
	"errors"
	"time"
)

var (
	ErrMissingDeviceID     = errors.New("device_id is required")
	ErrMissingFamilyID     = errors.New("family_id is required")
	ErrMissingUserID       = errors.New("user_id is required")
	ErrMissingCacheDir     = errors.New("cache_dir is required")
	ErrInvalidPollInterval = errors.New("poll_interval must be positive")
	ErrInvalidRefresh      = errors.New("whitelist_refresh must be positive")
)

// Config holds the monitoring agent configuration
type Config struct {
	DeviceID         string        // Device ID registered in the backend
	DeviceName       string        // Human-readable device name
	FamilyID         string        // Family this device belongs to
	UserID           string        // Child user whose budget this device consumes
	PollInterval     time.Duration // Tick interval (default: 10s)
	WhitelistRefresh time.Duration // Whitelist refresh interval (default: 60s)
	CacheDir         string        // Directory for the local offline cache
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		PollInterval:     10 * time.Second,
		WhitelistRefresh: 60 * time.Second,
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if c.FamilyID == "" {
		return ErrMissingFamilyID
	}
	if c.UserID == "" {
		return ErrMissingUserID
	}
	if c.CacheDir == "" {
		return ErrMissingCacheDir
	}
	if c.PollInterval <= 0 {
		return ErrInvalidPollInterval
	}
	if c.WhitelistRefresh <= 0 {
		return ErrInvalidRefresh
	}
	return nil
}
