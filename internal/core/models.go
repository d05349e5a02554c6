package core

import (
	"errors"
	"runtime"
	"strings"
	"time"
)

// Platform identifies which client platform a whitelist entry applies to
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformDarwin  Platform = "darwin"
	PlatformBoth    Platform = "both"
)

// CurrentPlatform returns the Platform value for the running OS
func CurrentPlatform() Platform {
	if runtime.GOOS == "darwin" {
		return PlatformDarwin
	}
	return PlatformWindows
}

// RequestStatus represents the lifecycle of an extension request
type RequestStatus string

const (
	RequestStatusPending   RequestStatus = "pending"
	RequestStatusApproved  RequestStatus = "approved"
	RequestStatusDenied    RequestStatus = "denied"
	RequestStatusProcessed RequestStatus = "processed"
)

// WhitelistItem is an app exempt from time accounting
type WhitelistItem struct {
	FamilyID    string    `json:"family_id"`
	Platform    Platform  `json:"platform"`
	Identifier  string    `json:"identifier"` // exe name (Windows) or bundle/package name
	DisplayName string    `json:"display_name"`
	AddedAt     time.Time `json:"added_at"`
}

// UserBudget is the daily screen-time budget state for a user
type UserBudget struct {
	DailyLimitMinutes int     `json:"daily_limit_minutes"`
	TodayUsedMinutes  float64 `json:"today_used_minutes"`
	LastResetDate     string  `json:"last_reset_date"` // YYYY-MM-DD
}

// ExtensionRequest is a request for extra daily minutes
type ExtensionRequest struct {
	ID               string        `json:"id,omitempty"`
	RequestedMinutes int           `json:"requested_minutes"`
	Reason           string        `json:"reason,omitempty"`
	Status           RequestStatus `json:"status,omitempty"`
}

// UsageSample is one tick's worth of observed app usage, logged for analytics
type UsageSample struct {
	Identifier     string  `json:"identifier"`
	DisplayName    string  `json:"display_name"`
	Minutes        float64 `json:"minutes"`
	WasWhitelisted bool    `json:"was_whitelisted"`
}

// Validation errors
var (
	ErrInvalidLimit      = errors.New("daily limit must not be negative")
	ErrInvalidUsedTime   = errors.New("used time must not be negative")
	ErrInvalidResetDate  = errors.New("last reset date must be YYYY-MM-DD")
	ErrInvalidIdentifier = errors.New("whitelist identifier cannot be empty")
	ErrInvalidMinutes    = errors.New("requested minutes must be positive")
)

// Validate validates a UserBudget
func (b *UserBudget) Validate() error {
	if b.DailyLimitMinutes < 0 {
		return ErrInvalidLimit
	}
	if b.TodayUsedMinutes < 0 {
		return ErrInvalidUsedTime
	}
	if b.LastResetDate != "" {
		if _, err := time.Parse("2006-01-02", b.LastResetDate); err != nil {
			return ErrInvalidResetDate
		}
	}
	return nil
}

// MinutesRemaining returns the remaining budget, never negative
func (b *UserBudget) MinutesRemaining() float64 {
	remaining := float64(b.DailyLimitMinutes) - b.TodayUsedMinutes
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Exhausted reports whether the used time has reached the daily limit
func (b *UserBudget) Exhausted() bool {
	return b.TodayUsedMinutes >= float64(b.DailyLimitMinutes)
}

// Validate validates a WhitelistItem
func (w *WhitelistItem) Validate() error {
	if w.Identifier == "" {
		return ErrInvalidIdentifier
	}
	return nil
}

// Validate validates an ExtensionRequest
func (r *ExtensionRequest) Validate() error {
	if r.RequestedMinutes <= 0 {
		return ErrInvalidMinutes
	}
	return nil
}

// MatchesIdentifier checks whether identifier is whitelisted.
// Matching is case-insensitive because Windows exe names are not case-stable.
func MatchesIdentifier(whitelist []WhitelistItem, identifier string) bool {
	for _, item := range whitelist {
		if strings.EqualFold(item.Identifier, identifier) {
			return true
		}
	}
	return false
}

// DisplayNames returns the display names of all whitelist items, for presentation
func DisplayNames(whitelist []WhitelistItem) []string {
	names := make([]string, 0, len(whitelist))
	for _, item := range whitelist {
		name := item.DisplayName
		if name == "" {
			name = item.Identifier
		}
		names = append(names, name)
	}
	return names
}
