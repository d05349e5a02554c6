package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"screentime/internal/core"

	"github.com/google/uuid"
)

// HTTPClient implements Client against the backend agent API
type HTTPClient struct {
	baseURL    string
	token      string
	deviceID   string
	deviceName string
	familyID   string
	userID     string
	platform   core.Platform
	httpClient *http.Client
	logger     *slog.Logger
}

// ClientInfo identifies this device/user to the backend
type ClientInfo struct {
	DeviceID   string
	DeviceName string
	FamilyID   string
	UserID     string
	Platform   core.Platform
}

// NewHTTPClient creates a new HTTP gateway client
func NewHTTPClient(baseURL, token string, info ClientInfo, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		token:      token,
		deviceID:   info.DeviceID,
		deviceName: info.DeviceName,
		familyID:   info.FamilyID,
		userID:     info.UserID,
		platform:   info.Platform,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.With("component", "gateway"),
	}
}

// doJSON executes a request against the agent API and decodes the JSON
// response into out (skipped when out is nil or the body is empty).
func (c *HTTPClient) doJSON(ctx context.Context, method, path string, query url.Values, payload, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u.Path = path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return fmt.Errorf("unauthorized: invalid or disabled token")
	}
	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("forbidden: not authorized for this device")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(body))
	}

	if out != nil && len(body) > 0 {
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// GetWhitelist fetches the family whitelist for this platform
func (c *HTTPClient) GetWhitelist(ctx context.Context) ([]core.WhitelistItem, error) {
	q := url.Values{}
	q.Set("family_id", c.familyID)
	q.Set("platform", string(c.platform))

	var resp struct {
		Items []core.WhitelistItem `json:"items"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/agent/whitelist", q, nil, &resp); err != nil {
		return nil, err
	}

	c.logger.Debug("whitelist fetched", "items", len(resp.Items))
	return resp.Items, nil
}

// GetUserBudget fetches the user's budget state
func (c *HTTPClient) GetUserBudget(ctx context.Context) (*core.UserBudget, error) {
	q := url.Values{}
	q.Set("user_id", c.userID)

	var budget core.UserBudget
	if err := c.doJSON(ctx, http.MethodGet, "/v1/agent/user", q, nil, &budget); err != nil {
		return nil, err
	}
	if err := budget.Validate(); err != nil {
		return nil, fmt.Errorf("invalid budget from backend: %w", err)
	}

	c.logger.Debug("user budget fetched",
		"limit", budget.DailyLimitMinutes,
		"used", budget.TodayUsedMinutes,
		"reset_date", budget.LastResetDate,
	)
	return &budget, nil
}

// AddUsedTime atomically increments used time and returns the new total minutes
func (c *HTTPClient) AddUsedTime(ctx context.Context, seconds float64) (float64, error) {
	q := url.Values{}
	q.Set("user_id", c.userID)

	payload := map[string]float64{"seconds": seconds}
	var resp struct {
		TodayUsedMinutes float64 `json:"today_used_minutes"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/agent/time", q, payload, &resp); err != nil {
		return 0, err
	}

	return resp.TodayUsedMinutes, nil
}

// ResetDailyCounter zeroes the user's counter for the given date
func (c *HTTPClient) ResetDailyCounter(ctx context.Context, date string) error {
	payload := map[string]string{
		"user_id": c.userID,
		"date":    date,
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/agent/reset", nil, payload, nil)
}

// ClaimApprovedExtensions fetches approved extensions for this device and
// marks them processed server-side in the same call
func (c *HTTPClient) ClaimApprovedExtensions(ctx context.Context) ([]core.ExtensionRequest, error) {
	q := url.Values{}
	q.Set("device_id", c.deviceID)

	var resp struct {
		Extensions []core.ExtensionRequest `json:"extensions"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/agent/extensions/claim", q, nil, &resp); err != nil {
		return nil, err
	}

	return resp.Extensions, nil
}

// CreateExtensionRequest files a new extension request
func (c *HTTPClient) CreateExtensionRequest(ctx context.Context, minutes int, reason string) (string, error) {
	req := core.ExtensionRequest{RequestedMinutes: minutes, Reason: reason}
	if err := req.Validate(); err != nil {
		return "", err
	}

	payload := map[string]any{
		"family_id":         c.familyID,
		"user_id":           c.userID,
		"device_id":         c.deviceID,
		"device_name":       c.deviceName,
		"platform":          c.platform,
		"requested_minutes": minutes,
		"reason":            reason,
		// Client-generated reference lets the backend deduplicate retries
		"client_reference": uuid.New().String(),
	}

	var resp struct {
		RequestID string `json:"request_id"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/agent/extensions", nil, payload, &resp); err != nil {
		return "", err
	}

	c.logger.Info("extension request created", "request_id", resp.RequestID, "minutes", minutes)
	return resp.RequestID, nil
}

// PushDeviceStatus reports the current foreground activity as a heartbeat
func (c *HTTPClient) PushDeviceStatus(ctx context.Context, currentActivity string) error {
	payload := map[string]string{
		"device_id":        c.deviceID,
		"current_activity": currentActivity,
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/agent/heartbeat", nil, payload, nil)
}

// LogUsageSample records one tick's usage for analytics
func (c *HTTPClient) LogUsageSample(ctx context.Context, sample core.UsageSample) error {
	payload := map[string]any{
		"family_id":       c.familyID,
		"user_id":         c.userID,
		"device_id":       c.deviceID,
		"platform":        c.platform,
		"identifier":      sample.Identifier,
		"display_name":    sample.DisplayName,
		"minutes":         sample.Minutes,
		"was_whitelisted": sample.WasWhitelisted,
	}
	return c.doJSON(ctx, http.MethodPost, "/v1/agent/usage", nil, payload, nil)
}

// Ensure HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)
