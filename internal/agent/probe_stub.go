//go:build !windows

package agent

import "log/slog"

// StubProbe implements Probe for platforms without foreground detection.
// It always reports no activity, so no time is ever counted.
type StubProbe struct{}

// CurrentActivity always reports no detectable activity
func (StubProbe) CurrentActivity() (string, bool) {
	return "", false
}

// NewProbe creates a new probe implementation for the current OS
func NewProbe(logger *slog.Logger) Probe {
	logger.Warn("foreground activity detection not supported on this platform")
	return StubProbe{}
}

// Ensure StubProbe implements Probe
var _ Probe = StubProbe{}
