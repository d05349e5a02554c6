//go:build !windows && !darwin

package agent

import (
	"errors"
	"log/slog"
)

var ErrUnsupportedPlatform = errors.New("session control is not supported on this platform")

// StubPlatform implements Platform for platforms without session control.
// It logs actions but cannot perform an actual lock.
type StubPlatform struct {
	logger *slog.Logger
}

// NewStubPlatform creates a new stub platform implementation
func NewStubPlatform(logger *slog.Logger) *StubPlatform {
	return &StubPlatform{
		logger: logger.With("component", "platform-stub"),
	}
}

// LockWorkstation logs the lock attempt but returns an error on unsupported platforms
func (p *StubPlatform) LockWorkstation() error {
	p.logger.Warn("LockWorkstation called on unsupported platform")
	return ErrUnsupportedPlatform
}

// ShowWarningNotification logs the notification but returns an error on unsupported platforms
func (p *StubPlatform) ShowWarningNotification(title, message string) error {
	p.logger.Warn("ShowWarningNotification called on unsupported platform",
		"title", title,
		"message", message,
	)
	return ErrUnsupportedPlatform
}

// NewPlatform creates a new platform implementation for the current OS
func NewPlatform(logger *slog.Logger) Platform {
	return NewStubPlatform(logger)
}

// Ensure StubPlatform implements Platform
var _ Platform = (*StubPlatform)(nil)
