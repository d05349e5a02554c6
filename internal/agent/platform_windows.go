//go:build windows

package agent

import (
	"errors"
	"log/slog"
	"syscall"
)

var ErrLockFailed = errors.New("LockWorkStation failed")

// WindowsPlatform implements Platform for Windows
type WindowsPlatform struct {
	logger *slog.Logger
}

// NewWindowsPlatform creates a new Windows platform implementation
func NewWindowsPlatform(logger *slog.Logger) *WindowsPlatform {
	return &WindowsPlatform{
		logger: logger.With("component", "platform"),
	}
}

// LockWorkstation locks the Windows workstation using user32.dll
func (p *WindowsPlatform) LockWorkstation() error {
	user32 := syscall.NewLazyDLL("user32.dll")
	lockWorkStation := user32.NewProc("LockWorkStation")

	ret, _, err := lockWorkStation.Call()
	if ret == 0 {
		// LockWorkStation returns 0 on failure
		p.logger.Error("failed to lock workstation", "error", err)
		return ErrLockFailed
	}

	p.logger.Info("workstation locked")
	return nil
}

// ShowWarningNotification displays a time-remaining warning.
// For now this logs the warning so it lands in the agent's log file.
// TODO: native toast via PowerShell or github.com/go-toast/toast.
func (p *WindowsPlatform) ShowWarningNotification(title, message string) error {
	p.logger.Warn("screen time warning",
		"title", title,
		"message", message,
	)
	return nil
}

// NewPlatform creates a new platform implementation for the current OS
func NewPlatform(logger *slog.Logger) Platform {
	return NewWindowsPlatform(logger)
}

// Ensure WindowsPlatform implements Platform
var _ Platform = (*WindowsPlatform)(nil)
