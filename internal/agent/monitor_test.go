package agent

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	"screentime/internal/core"
	"screentime/internal/store"
)

var errNetwork = errors.New("network error")

// mockGateway simulates the backend, including the authoritative used-time
// counter that AddUsedTime mutates atomically
type mockGateway struct {
	mu sync.Mutex

	whitelist   []core.WhitelistItem
	limit       int
	usedMinutes float64
	resetDate   string

	failWhitelist bool
	failBudget    bool
	failAdd       bool
	failReset     bool
	failClaim     bool
	failCreate    bool

	pendingExtensions []core.ExtensionRequest

	heartbeats int
	samples    []core.UsageSample
	created    []int
	resetCalls int
}

func (g *mockGateway) setAllFail(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failWhitelist = fail
	g.failBudget = fail
	g.failAdd = fail
	g.failReset = fail
	g.failClaim = fail
	g.failCreate = fail
}

func (g *mockGateway) GetWhitelist(ctx context.Context) ([]core.WhitelistItem, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failWhitelist {
		return nil, errNetwork
	}
	return append([]core.WhitelistItem(nil), g.whitelist...), nil
}

func (g *mockGateway) GetUserBudget(ctx context.Context) (*core.UserBudget, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failBudget {
		return nil, errNetwork
	}
	return &core.UserBudget{
		DailyLimitMinutes: g.limit,
		TodayUsedMinutes:  g.usedMinutes,
		LastResetDate:     g.resetDate,
	}, nil
}

func (g *mockGateway) AddUsedTime(ctx context.Context, seconds float64) (float64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAdd {
		return 0, errNetwork
	}
	g.usedMinutes += seconds / 60.0
	return g.usedMinutes, nil
}

func (g *mockGateway) ResetDailyCounter(ctx context.Context, date string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetCalls++
	if g.failReset {
		return errNetwork
	}
	g.usedMinutes = 0
	g.resetDate = date
	return nil
}

func (g *mockGateway) ClaimApprovedExtensions(ctx context.Context) ([]core.ExtensionRequest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failClaim {
		return nil, errNetwork
	}
	approved := g.pendingExtensions
	g.pendingExtensions = nil
	return approved, nil
}

func (g *mockGateway) CreateExtensionRequest(ctx context.Context, minutes int, reason string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failCreate {
		return "", errNetwork
	}
	g.created = append(g.created, minutes)
	return "req-1", nil
}

func (g *mockGateway) PushDeviceStatus(ctx context.Context, currentActivity string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.heartbeats++
	return nil
}

func (g *mockGateway) LogUsageSample(ctx context.Context, sample core.UsageSample) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.samples = append(g.samples, sample)
	return nil
}

// mockProbe is a test double for Probe
type mockProbe struct {
	activity string
	detected bool
}

func (p *mockProbe) CurrentActivity() (string, bool) {
	return p.activity, p.detected
}

// mockPlatform is a test double for Platform
type mockPlatform struct {
	LockCallCount    int
	LockError        error
	WarningCallCount int
	LastWarningTitle string
}

func (p *mockPlatform) LockWorkstation() error {
	p.LockCallCount++
	return p.LockError
}

func (p *mockPlatform) ShowWarningNotification(title, message string) error {
	p.WarningCallCount++
	p.LastWarningTitle = title
	return nil
}

// mockSink records published snapshots
type mockSink struct {
	count int
	last  Snapshot
}

func (s *mockSink) Publish(snapshot Snapshot) {
	s.count++
	s.last = snapshot
}

type testFixture struct {
	monitor  *Monitor
	gw       *mockGateway
	probe    *mockProbe
	platform *mockPlatform
	clock    *MockClock
	sink     *mockSink
}

func newTestMonitor(t *testing.T, gw *mockGateway) *testFixture {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	cache, err := store.New(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	clock := &MockClock{CurrentTime: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	probe := &mockProbe{activity: "game.exe", detected: true}
	platform := &mockPlatform{}
	sink := &mockSink{}

	config := &Config{
		DeviceID:         "test-device",
		DeviceName:       "Test PC",
		FamilyID:         "fam-1",
		UserID:           "user-1",
		PollInterval:     10 * time.Second,
		WhitelistRefresh: 60 * time.Second,
		CacheDir:         t.TempDir(),
	}

	m := NewMonitor(gw, cache, probe, platform, clock, config, logger)
	m.AttachSink(sink)

	return &testFixture{monitor: m, gw: gw, probe: probe, platform: platform, clock: clock, sink: sink}
}

// runTicks advances the clock by one poll interval and ticks, n times
func (f *testFixture) runTicks(n int) {
	ctx := context.Background()
	for i := 0; i < n; i++ {
		f.clock.Advance(f.monitor.config.PollInterval)
		f.monitor.safeTick(ctx)
	}
}

func todayFor(f *testFixture) string {
	return Today(f.clock)
}

func TestTick_CountsNonWhitelistedTime(t *testing.T) {
	gw := &mockGateway{limit: 120, resetDate: "2025-06-01"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())

	f.runTicks(3)

	want := 30.0 / 60.0
	if math.Abs(gw.usedMinutes-want) > 1e-9 {
		t.Errorf("Expected remote total %.4f minutes, got %.4f", want, gw.usedMinutes)
	}
	if math.Abs(f.monitor.state.budget.TodayUsedMinutes-want) > 1e-9 {
		t.Errorf("Expected local total %.4f minutes, got %.4f", want, f.monitor.state.budget.TodayUsedMinutes)
	}
}

func TestTick_WhitelistSuppressesAccountingAndWarnings(t *testing.T) {
	gw := &mockGateway{
		limit:     5, // small enough that a warning would fire if counted
		resetDate: "2025-06-01",
		whitelist: []core.WhitelistItem{{Identifier: "Game.EXE", DisplayName: "Game"}},
	}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())

	f.runTicks(5)

	if gw.usedMinutes != 0 {
		t.Errorf("Expected no time counted for whitelisted app, got %.4f", gw.usedMinutes)
	}
	if f.monitor.state.budget.TodayUsedMinutes != 0 {
		t.Errorf("Expected local total unchanged, got %.4f", f.monitor.state.budget.TodayUsedMinutes)
	}
	if f.platform.WarningCallCount != 0 {
		t.Errorf("Expected no warnings for whitelisted app, got %d", f.platform.WarningCallCount)
	}
	if f.platform.LockCallCount != 0 {
		t.Errorf("Expected no lock for whitelisted app, got %d", f.platform.LockCallCount)
	}

	// Whitelisted ticks are still logged for analytics
	if len(gw.samples) != 5 {
		t.Fatalf("Expected 5 usage samples, got %d", len(gw.samples))
	}
	if !gw.samples[0].WasWhitelisted {
		t.Error("Expected sample to be marked whitelisted")
	}
}

func TestTick_IdleShortCircuit(t *testing.T) {
	gw := &mockGateway{limit: 120, resetDate: "2025-06-01"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())
	f.probe.detected = false
	f.probe.activity = ""

	f.runTicks(3)

	if gw.usedMinutes != 0 {
		t.Errorf("Expected no time counted while idle, got %.4f", gw.usedMinutes)
	}
	if len(gw.samples) != 0 {
		t.Errorf("Expected no usage samples while idle, got %d", len(gw.samples))
	}
	if f.sink.count != 0 {
		t.Errorf("Expected no snapshots while idle, got %d", f.sink.count)
	}
	// Heartbeats still go out before the short-circuit
	if gw.heartbeats != 3 {
		t.Errorf("Expected 3 heartbeats, got %d", gw.heartbeats)
	}
}

func TestConservation_AcrossOfflineStretch(t *testing.T) {
	gw := &mockGateway{limit: 120, resetDate: "2025-06-01"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())

	// Two online ticks
	f.runTicks(2)

	// Backend goes dark for three ticks; usage is queued locally
	gw.setAllFail(true)
	f.runTicks(3)

	if f.monitor.state.isOnline {
		t.Fatal("Expected monitor to be offline after sync failures")
	}

	// Backend recovers; the next due whitelist refresh flushes the queue.
	// Six poll intervals put us past the 60s refresh interval.
	gw.setAllFail(false)
	f.runTicks(1)

	if !f.monitor.state.isOnline {
		t.Fatal("Expected monitor to be back online")
	}

	// All six non-whitelisted ticks must be accounted exactly once
	want := 6 * 10.0 / 60.0
	if math.Abs(gw.usedMinutes-want) > 1e-9 {
		t.Errorf("Conservation violated: expected remote total %.4f, got %.4f", want, gw.usedMinutes)
	}
}

func TestOfflineUsage_SurvivesRestart(t *testing.T) {
	gw := &mockGateway{limit: 120, resetDate: "2025-06-01"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())

	gw.setAllFail(true)
	f.runTicks(2) // 20 seconds queued

	// Simulate a restart: a new monitor over the same cache directory
	gw.setAllFail(false)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	m2 := NewMonitor(gw, f.monitor.cache, f.probe, f.platform, f.clock, f.monitor.config, logger)
	m2.initialSync(context.Background())

	want := 20.0 / 60.0
	if math.Abs(gw.usedMinutes-want) > 1e-9 {
		t.Errorf("Expected queued time flushed at startup: want %.4f, got %.4f", want, gw.usedMinutes)
	}
}

func TestDailyReset_Idempotent(t *testing.T) {
	gw := &mockGateway{limit: 120, usedMinutes: 45, resetDate: "2025-05-31"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())
	f.monitor.state.isLocked = true

	// Clock is on 2025-06-01: the first tick resets the counter
	f.runTicks(1)

	if f.monitor.state.budget.LastResetDate != todayFor(f) {
		t.Errorf("Expected reset date %s, got %s", todayFor(f), f.monitor.state.budget.LastResetDate)
	}
	if gw.resetCalls != 1 {
		t.Errorf("Expected 1 remote reset call, got %d", gw.resetCalls)
	}
	if f.monitor.state.isLocked {
		t.Error("Expected lock cleared on daily reset")
	}

	// Usage recorded after the reset must not be zeroed by later ticks
	f.runTicks(2)
	afterReset := f.monitor.state.budget.TodayUsedMinutes

	f.runTicks(1)
	if gw.resetCalls != 1 {
		t.Errorf("Expected no second reset on the same day, got %d calls", gw.resetCalls)
	}
	if f.monitor.state.budget.TodayUsedMinutes < afterReset {
		t.Errorf("Reset lost usage recorded in between: %.4f < %.4f",
			f.monitor.state.budget.TodayUsedMinutes, afterReset)
	}
}

func TestDailyReset_WorksOffline(t *testing.T) {
	gw := &mockGateway{limit: 120, usedMinutes: 45, resetDate: "2025-05-31"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())

	gw.setAllFail(true)
	f.runTicks(1)

	// Local reset happens unconditionally even when the remote reset fails
	if f.monitor.state.budget.LastResetDate != todayFor(f) {
		t.Errorf("Expected local reset despite backend failure")
	}
}

func TestLockHysteresis(t *testing.T) {
	gw := &mockGateway{limit: 1, resetDate: "2025-06-01"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())

	// Six 10-second ticks exhaust the 1-minute budget
	f.runTicks(6)

	if !f.monitor.state.isLocked {
		t.Fatal("Expected locked state after budget exhausted")
	}
	if f.platform.LockCallCount != 1 {
		t.Errorf("Expected exactly one lock call per crossing, got %d", f.platform.LockCallCount)
	}

	// Still over budget: no repeated lock calls
	f.runTicks(3)
	if f.platform.LockCallCount != 1 {
		t.Errorf("Expected no repeated lock calls, got %d", f.platform.LockCallCount)
	}

	// An approved extension raises the limit above usage and un-pauses
	// enforcement without a day boundary
	gw.mu.Lock()
	gw.pendingExtensions = []core.ExtensionRequest{{RequestedMinutes: 30, Status: core.RequestStatusApproved}}
	gw.mu.Unlock()

	f.runTicks(1)

	if f.monitor.state.budget.DailyLimitMinutes != 31 {
		t.Errorf("Expected limit raised to 31, got %d", f.monitor.state.budget.DailyLimitMinutes)
	}
	if f.monitor.state.isLocked {
		t.Error("Expected lock cleared after extension raised the limit")
	}
}

func TestLock_SetEvenWhenActionFails(t *testing.T) {
	gw := &mockGateway{limit: 1, resetDate: "2025-06-01"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())
	f.platform.LockError = errors.New("lock failed")

	f.runTicks(7)

	// Locked state sticks even though the action failed; the failed call
	// is not retried while the state holds
	if !f.monitor.state.isLocked {
		t.Error("Expected locked state despite failed lock action")
	}
	if f.platform.LockCallCount != 1 {
		t.Errorf("Expected single lock attempt, got %d", f.platform.LockCallCount)
	}
}

func TestWarnings_FireOncePerLevelPerDay(t *testing.T) {
	gw := &mockGateway{limit: 11, resetDate: "2025-06-01"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())

	// Six ticks use one minute: remaining hits exactly 10 -> first warning
	f.runTicks(6)
	if f.platform.WarningCallCount != 1 {
		t.Fatalf("Expected 1 warning at ten-minute threshold, got %d", f.platform.WarningCallCount)
	}

	// Staying inside the same band never repeats the warning
	f.runTicks(3)
	if f.platform.WarningCallCount != 1 {
		t.Errorf("Expected warning not to repeat, got %d", f.platform.WarningCallCount)
	}
}

func TestInitialSync_FallsBackToCache(t *testing.T) {
	ctx := context.Background()

	gw := &mockGateway{limit: 90, resetDate: "2025-06-01",
		whitelist: []core.WhitelistItem{{Identifier: "code.exe", DisplayName: "VS Code"}}}
	f := newTestMonitor(t, gw)

	// First run populates the cache
	f.monitor.initialSync(ctx)
	if !f.monitor.state.isOnline {
		t.Fatal("Expected online after successful initial sync")
	}

	// Second monitor starts while the backend is down
	gw.setAllFail(true)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	m2 := NewMonitor(gw, f.monitor.cache, f.probe, f.platform, f.clock, f.monitor.config, logger)
	m2.initialSync(ctx)

	if m2.state.isOnline {
		t.Error("Expected offline when backend is unreachable")
	}
	if len(m2.state.whitelist) != 1 || m2.state.whitelist[0].Identifier != "code.exe" {
		t.Errorf("Expected whitelist restored from cache, got %v", m2.state.whitelist)
	}
	if m2.state.budget.DailyLimitMinutes != 90 {
		t.Errorf("Expected limit 90 from cache, got %d", m2.state.budget.DailyLimitMinutes)
	}
}

func TestInitialSync_DefaultsWhenNoCache(t *testing.T) {
	gw := &mockGateway{}
	gw.setAllFail(true)
	f := newTestMonitor(t, gw)

	f.monitor.initialSync(context.Background())

	if f.monitor.state.isOnline {
		t.Error("Expected offline")
	}
	if f.monitor.state.budget.DailyLimitMinutes != 120 {
		t.Errorf("Expected default limit 120, got %d", f.monitor.state.budget.DailyLimitMinutes)
	}
}

func TestIntents_ExtensionRequest(t *testing.T) {
	gw := &mockGateway{limit: 120, resetDate: "2025-06-01"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())

	f.monitor.RequestExtension(15)
	f.monitor.RequestExtension(30)

	quit := f.monitor.drainIntents(context.Background())

	if quit {
		t.Error("Expected no quit from extension intents")
	}
	if len(gw.created) != 2 || gw.created[0] != 15 || gw.created[1] != 30 {
		t.Errorf("Expected extension requests [15 30], got %v", gw.created)
	}
}

func TestIntents_Quit(t *testing.T) {
	gw := &mockGateway{limit: 120, resetDate: "2025-06-01"}
	f := newTestMonitor(t, gw)

	f.monitor.RequestQuit()

	if !f.monitor.drainIntents(context.Background()) {
		t.Error("Expected quit intent to be reported")
	}
}

func TestSnapshot_PublishedEachActiveTick(t *testing.T) {
	gw := &mockGateway{limit: 120, resetDate: "2025-06-01",
		whitelist: []core.WhitelistItem{{Identifier: "code.exe", DisplayName: "VS Code"}}}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())

	f.runTicks(2)

	if f.sink.count != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", f.sink.count)
	}

	snap := f.sink.last
	if snap.CurrentActivity != "game.exe" {
		t.Errorf("Expected activity 'game.exe', got %s", snap.CurrentActivity)
	}
	if snap.DailyLimit != 120 {
		t.Errorf("Expected limit 120, got %d", snap.DailyLimit)
	}
	if snap.IsWhitelisted {
		t.Error("Expected non-whitelisted activity")
	}
	if !snap.IsOnline {
		t.Error("Expected online snapshot")
	}
	if len(snap.WhitelistNames) != 1 || snap.WhitelistNames[0] != "VS Code" {
		t.Errorf("Expected whitelist names ['VS Code'], got %v", snap.WhitelistNames)
	}
	if math.Abs(snap.MinutesUsed+snap.MinutesRemaining-120) > 1e-9 {
		t.Errorf("Expected used+remaining to equal the limit, got %.4f + %.4f",
			snap.MinutesUsed, snap.MinutesRemaining)
	}
}

func TestSafeTick_RecoversFromPanic(t *testing.T) {
	gw := &mockGateway{limit: 120, resetDate: "2025-06-01"}
	f := newTestMonitor(t, gw)
	f.monitor.initialSync(context.Background())

	// A sink that panics must not kill the loop
	f.monitor.sink = panicSink{}
	f.runTicks(1)

	// Reaching here means the panic was contained; state is still sane
	if f.monitor.state.budget.TodayUsedMinutes == 0 {
		t.Error("Expected tick work before the panic to have been applied")
	}
}

type panicSink struct{}

func (panicSink) Publish(Snapshot) { panic("sink exploded") }
