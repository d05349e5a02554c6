package statusapi

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"screentime/internal/agent"
)

type mockController struct {
	extensions []int
	quits      int
}

func (c *mockController) RequestExtension(minutes int) {
	c.extensions = append(c.extensions, minutes)
}

func (c *mockController) RequestQuit() {
	c.quits++
}

func newTestServer() (*Server, *mockController) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	controller := &mockController{}
	return NewServer("127.0.0.1:0", controller, logger), controller
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(w, req)
	return w
}

func TestGetHealth(t *testing.T) {
	s, _ := newTestServer()

	w := doRequest(s, http.MethodGet, "/health", "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "UP") {
		t.Errorf("Expected UP status, got %s", w.Body.String())
	}
}

func TestGetStatus_NotReadyBeforeFirstPublish(t *testing.T) {
	s, _ := newTestServer()

	w := doRequest(s, http.MethodGet, "/v1/status", "")

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 before first snapshot, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "NOT_READY") {
		t.Errorf("Expected NOT_READY code, got %s", w.Body.String())
	}
}

func TestGetStatus_ReturnsLatestSnapshot(t *testing.T) {
	s, _ := newTestServer()

	s.Publish(agent.Snapshot{
		MinutesRemaining: 45.5,
		MinutesUsed:      74.5,
		DailyLimit:       120,
		CurrentActivity:  "game.exe",
		IsOnline:         true,
		WhitelistNames:   []string{"VS Code"},
	})
	// A second publish must replace the first
	s.Publish(agent.Snapshot{
		MinutesRemaining: 45.0,
		MinutesUsed:      75.0,
		DailyLimit:       120,
		CurrentActivity:  "game.exe",
		IsOnline:         true,
		WhitelistNames:   []string{"VS Code"},
	})

	w := doRequest(s, http.MethodGet, "/v1/status", "")

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Status    agent.Snapshot `json:"status"`
		UpdatedAt string         `json:"updated_at"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status.MinutesUsed != 75.0 {
		t.Errorf("Expected latest snapshot (75.0 used), got %.1f", resp.Status.MinutesUsed)
	}
	if resp.Status.CurrentActivity != "game.exe" {
		t.Errorf("Expected activity game.exe, got %s", resp.Status.CurrentActivity)
	}
	if resp.UpdatedAt == "" {
		t.Error("Expected updated_at timestamp")
	}
}

func TestPostExtension(t *testing.T) {
	s, controller := newTestServer()

	w := doRequest(s, http.MethodPost, "/v1/extension", `{"minutes": 30}`)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(controller.extensions) != 1 || controller.extensions[0] != 30 {
		t.Errorf("Expected extension request for 30 minutes, got %v", controller.extensions)
	}
}

func TestPostExtension_RejectsInvalidMinutes(t *testing.T) {
	s, controller := newTestServer()

	cases := []struct {
		name string
		body string
	}{
		{"zero", `{"minutes": 0}`},
		{"negative", `{"minutes": -5}`},
		{"too large", `{"minutes": 1000}`},
		{"missing", `{}`},
		{"malformed", `{not json`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(s, http.MethodPost, "/v1/extension", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected 400, got %d", w.Code)
			}
		})
	}

	if len(controller.extensions) != 0 {
		t.Errorf("Expected no extension requests forwarded, got %v", controller.extensions)
	}
}

func TestPostQuit(t *testing.T) {
	s, controller := newTestServer()

	w := doRequest(s, http.MethodPost, "/v1/quit", "")

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", w.Code)
	}
	if controller.quits != 1 {
		t.Errorf("Expected 1 quit request, got %d", controller.quits)
	}
}
