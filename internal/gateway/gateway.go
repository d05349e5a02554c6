// Package gateway abstracts the remote shared store that holds the family's
// whitelist, budgets, and extension requests. Every call may fail; the
// monitor treats failure as a first-class outcome and falls back to its
// local cache.
package gateway

import (
	"context"

	"screentime/internal/core"
)

// Client is the remote surface the monitor needs from the backend
type Client interface {
	// GetWhitelist fetches the whitelist entries for this device's family
	// and platform.
	GetWhitelist(ctx context.Context) ([]core.WhitelistItem, error)

	// GetUserBudget fetches the authoritative budget state for the user.
	GetUserBudget(ctx context.Context) (*core.UserBudget, error)

	// AddUsedTime atomically adds seconds to the user's used time and
	// returns the new total in minutes. This is a single remote
	// read-modify-write so concurrent devices never lose updates.
	AddUsedTime(ctx context.Context, seconds float64) (float64, error)

	// ResetDailyCounter zeroes the user's used time for a new day.
	ResetDailyCounter(ctx context.Context, date string) error

	// ClaimApprovedExtensions returns approved extension requests for this
	// device and marks them processed in the same call, so a request is
	// never applied twice.
	ClaimApprovedExtensions(ctx context.Context) ([]core.ExtensionRequest, error)

	// CreateExtensionRequest files a new extension request and returns its ID.
	CreateExtensionRequest(ctx context.Context, minutes int, reason string) (string, error)

	// PushDeviceStatus reports the current foreground activity as a heartbeat.
	PushDeviceStatus(ctx context.Context, currentActivity string) error

	// LogUsageSample records one tick's usage for analytics.
	LogUsageSample(ctx context.Context, sample core.UsageSample) error
}
