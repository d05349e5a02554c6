package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"screentime/internal/core"
	"screentime/internal/gateway"
	"screentime/internal/notify"
	"screentime/internal/store"
)

const intentQueueSize = 16

// monitorState is the in-memory session state, owned exclusively by the
// monitor goroutine. It is derived from and flushed to the local store and
// the remote gateway; it is never shared by reference.
type monitorState struct {
	whitelist            []core.WhitelistItem
	lastWhitelistRefresh time.Time // zero value means never refreshed
	lastForeground       string
	budget               core.UserBudget
	isLocked             bool
	isOnline             bool
}

type intentKind int

const (
	intentQuit intentKind = iota
	intentExtension
)

// intent is a user action submitted asynchronously by the presentation sink
type intent struct {
	kind    intentKind
	minutes int
}

// Monitor drives the reconciliation loop: once per poll interval it reads
// the foreground activity, reconciles local and remote budget state, and
// decides whether to lock the session.
type Monitor struct {
	client   gateway.Client
	cache    *store.Store
	probe    Probe
	platform Platform
	clock    Clock
	config   *Config
	logger   *slog.Logger

	state   monitorState
	notices *notify.State

	sink    Sink    // optional
	alerter Alerter // optional

	intents  chan intent
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewMonitor creates a new monitor. Sink and alerter are optional and can be
// attached before Start.
func NewMonitor(client gateway.Client, cache *store.Store, probe Probe, platform Platform, clock Clock, config *Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		client:   client,
		cache:    cache,
		probe:    probe,
		platform: platform,
		clock:    clock,
		config:   config,
		logger:   logger.With("component", "monitor"),
		state: monitorState{
			// Conservative default until the first successful sync
			budget: core.UserBudget{DailyLimitMinutes: 120},
		},
		notices:  notify.NewState(),
		intents:  make(chan intent, intentQueueSize),
		stopChan: make(chan struct{}),
	}
}

// AttachSink sets the presentation sink. Must be called before Start.
func (m *Monitor) AttachSink(sink Sink) {
	m.sink = sink
}

// AttachAlerter sets the alert hook. Must be called before Start.
func (m *Monitor) AttachAlerter(alerter Alerter) {
	m.alerter = alerter
}

// Start runs the monitoring loop (blocking). It returns only on context
// cancellation, Stop, or a quit intent.
func (m *Monitor) Start(ctx context.Context) {
	m.initialSync(ctx)

	m.logger.Info("starting monitoring loop",
		"device_id", m.config.DeviceID,
		"poll_interval", m.config.PollInterval,
		"whitelist_refresh", m.config.WhitelistRefresh,
		"online", m.state.isOnline,
	)

	ticker := m.clock.NewTicker(m.config.PollInterval)
	defer ticker.Stop()

	// Do an initial tick immediately
	m.safeTick(ctx)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitoring loop stopped (context cancelled)")
			return
		case <-m.stopChan:
			m.logger.Info("monitoring loop stopped")
			return
		case <-ticker.C:
			// Intents are drained only here, at the top of the iteration:
			// a quit request never preempts an in-flight tick.
			if m.drainIntents(ctx) {
				m.logger.Info("monitoring loop stopped (quit requested)")
				return
			}
			m.safeTick(ctx)
		}
	}
}

// Stop signals the monitor to stop
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopChan)
	})
}

// RequestExtension submits an extension request intent. Safe to call
// concurrently with a running tick; the request is sent on the next
// loop iteration.
func (m *Monitor) RequestExtension(minutes int) {
	select {
	case m.intents <- intent{kind: intentExtension, minutes: minutes}:
	default:
		m.logger.Warn("intent queue full, dropping extension request", "minutes", minutes)
	}
}

// RequestQuit asks the loop to exit after the current tick completes
func (m *Monitor) RequestQuit() {
	select {
	case m.intents <- intent{kind: intentQuit}:
	default:
		// Queue full means a tick is about to run anyway; fall back to Stop
		m.Stop()
	}
}

// drainIntents processes all queued user intents. Returns true when a quit
// was requested.
func (m *Monitor) drainIntents(ctx context.Context) bool {
	for {
		select {
		case in := <-m.intents:
			switch in.kind {
			case intentQuit:
				return true
			case intentExtension:
				// Fire-and-forget: the request lives remotely and does not
				// touch session state until a parent approves it.
				id, err := m.client.CreateExtensionRequest(ctx, in.minutes, "")
				if err != nil {
					m.logger.Warn("failed to create extension request",
						"minutes", in.minutes,
						"error", err,
					)
					continue
				}
				m.logger.Info("extension requested", "request_id", id, "minutes", in.minutes)
			}
		default:
			return false
		}
	}
}

// initialSync loads starting state: flush any pending time left over from a
// previous run, then fetch fresh state from the backend, falling back to the
// local cache when unreachable.
func (m *Monitor) initialSync(ctx context.Context) {
	m.flushPendingTime(ctx)

	wlErr := m.refreshWhitelist(ctx)
	budgetErr := m.syncUserState(ctx)

	if wlErr == nil && budgetErr == nil {
		m.state.isOnline = true
		return
	}

	m.logger.Warn("backend unreachable at startup, using cached data",
		"whitelist_error", wlErr,
		"budget_error", budgetErr,
	)
	m.state.isOnline = false
	m.loadFromCache(ctx)
}

// loadFromCache restores best-effort state from the local store
func (m *Monitor) loadFromCache(ctx context.Context) {
	items, ok, err := m.cache.LoadWhitelist(ctx)
	if err != nil {
		m.logger.Warn("failed to load whitelist cache", "error", err)
	} else if ok {
		m.state.whitelist = items
		m.logger.Info("loaded whitelist from cache", "items", len(items))
	}

	budget, ok, err := m.cache.LoadUserState(ctx)
	if err != nil {
		m.logger.Warn("failed to load user state cache", "error", err)
	} else if ok {
		m.state.budget = budget
		m.logger.Info("loaded user state from cache",
			"limit", budget.DailyLimitMinutes,
			"used", budget.TodayUsedMinutes,
		)
	}
}

// safeTick runs one tick; a panic inside the tick is logged and the loop
// lives on. Only an explicit stop ends the loop.
func (m *Monitor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("tick panicked",
				"panic", r,
				"activity", m.state.lastForeground,
				"online", m.state.isOnline,
			)
		}
	}()
	m.tick(ctx)
}

// tick is a single iteration of the reconciliation loop
func (m *Monitor) tick(ctx context.Context) {
	now := m.clock.Now()

	// Refresh whitelist periodically; this doubles as the connectivity probe
	if m.shouldRefreshWhitelist(now) {
		if err := m.refreshWhitelist(ctx); err != nil {
			if m.state.isOnline {
				m.logger.Warn("lost connection to backend, switching to offline mode", "error", err)
				m.alertWentOffline()
			}
			m.state.isOnline = false
		} else {
			if !m.state.isOnline {
				m.logger.Info("connection to backend restored")
				m.flushPendingTime(ctx)
				m.alertBackOnline()
			}
			m.state.isOnline = true
		}
	}

	// Daily reset. The date-equality guard makes this idempotent: ticking
	// twice on the same new day does not zero twice.
	today := Today(m.clock)
	m.notices.ResetIfNewDay(today)
	if m.state.budget.LastResetDate != today {
		m.handleDailyReset(ctx, today)
	}

	activity, detected := m.probe.CurrentActivity()
	m.state.lastForeground = activity

	if m.state.isOnline {
		if err := m.client.PushDeviceStatus(ctx, activity); err != nil {
			m.logger.Debug("failed to push device status", "error", err)
		}
	}

	// Idle or undeterminable focus never counts against the budget
	if !detected {
		return
	}

	isWhitelisted := core.MatchesIdentifier(m.state.whitelist, activity)

	if !isWhitelisted {
		m.incrementTime(ctx, m.config.PollInterval.Seconds())
	}

	if m.state.isOnline {
		sample := core.UsageSample{
			Identifier:     activity,
			DisplayName:    activity,
			Minutes:        m.config.PollInterval.Minutes(),
			WasWhitelisted: isWhitelisted,
		}
		if err := m.client.LogUsageSample(ctx, sample); err != nil {
			m.logger.Debug("failed to log usage sample", "error", err)
		}
	}

	if m.state.isOnline {
		m.applyApprovedExtensions(ctx)
	}

	remaining := m.state.budget.MinutesRemaining()
	if level := notify.ShouldShow(remaining, isWhitelisted, m.notices); level != notify.LevelNone {
		if err := m.platform.ShowWarningNotification(notify.Title(level), notify.Message(level, remaining)); err != nil {
			m.logger.Error("failed to show warning notification", "error", err)
		}
		m.notices.MarkShown(level)
	}

	if m.state.budget.Exhausted() {
		if !m.state.isLocked {
			m.logger.Warn("time limit exceeded, locking workstation",
				"used_minutes", m.state.budget.TodayUsedMinutes,
				"limit_minutes", m.state.budget.DailyLimitMinutes,
			)
			// Locked state is set regardless of the lock call outcome; the
			// OS-level action is idempotent and a failed call is only logged.
			m.state.isLocked = true
			if err := m.platform.LockWorkstation(); err != nil {
				m.logger.Error("failed to lock workstation", "error", err)
			}
			m.alertDeviceLocked()
		}
	} else {
		// Dropping below the limit (e.g. an approved extension raised it)
		// un-pauses enforcement without waiting for a new day
		m.state.isLocked = false
	}

	m.publishSnapshot(activity, isWhitelisted)
}

func (m *Monitor) shouldRefreshWhitelist(now time.Time) bool {
	if m.state.lastWhitelistRefresh.IsZero() {
		return true
	}
	return now.Sub(m.state.lastWhitelistRefresh) >= m.config.WhitelistRefresh
}

// refreshWhitelist fetches the whitelist and updates the durable snapshot
func (m *Monitor) refreshWhitelist(ctx context.Context) error {
	items, err := m.client.GetWhitelist(ctx)
	if err != nil {
		return err
	}

	m.state.whitelist = items
	m.state.lastWhitelistRefresh = m.clock.Now()
	if err := m.cache.SaveWhitelist(ctx, items); err != nil {
		m.logger.Warn("failed to cache whitelist", "error", err)
	}
	m.logger.Debug("whitelist refreshed", "items", len(items))
	return nil
}

// syncUserState fetches the authoritative budget and caches it
func (m *Monitor) syncUserState(ctx context.Context) error {
	budget, err := m.client.GetUserBudget(ctx)
	if err != nil {
		return err
	}

	m.state.budget = *budget
	m.saveUserState(ctx)
	m.logger.Debug("user state synced",
		"limit", budget.DailyLimitMinutes,
		"used", budget.TodayUsedMinutes,
		"reset_date", budget.LastResetDate,
	)
	return nil
}

// handleDailyReset zeroes the day's counter. The remote reset is best-effort;
// the local reset happens unconditionally so the device is usable on a new
// day even while offline.
func (m *Monitor) handleDailyReset(ctx context.Context, today string) {
	m.logger.Info("new day detected, resetting counter", "date", today)

	if m.state.isOnline {
		if err := m.client.ResetDailyCounter(ctx, today); err != nil {
			m.logger.Warn("failed to reset counter on backend", "error", err)
		}
	}

	m.state.budget.TodayUsedMinutes = 0
	m.state.budget.LastResetDate = today
	m.state.isLocked = false
	m.saveUserState(ctx)
}

// incrementTime accounts one tick's worth of usage. Online, the remote total
// is authoritative; offline, the increment is queued durably and the local
// total is an optimistic approximation until the next successful sync.
func (m *Monitor) incrementTime(ctx context.Context, seconds float64) {
	if m.state.isOnline {
		newTotal, err := m.client.AddUsedTime(ctx, seconds)
		if err == nil {
			m.state.budget.TodayUsedMinutes = newTotal
			m.saveUserState(ctx)
			m.logger.Debug("synced time", "total_used_minutes", newTotal)
			return
		}
		// Fall through to the offline path exactly once; the increment is
		// not applied twice.
		m.logger.Debug("failed to sync time, queueing locally", "error", err)
		m.state.isOnline = false
	}

	if err := m.cache.AddPending(ctx, seconds); err != nil {
		m.logger.Warn("failed to queue pending time", "error", err)
	}
	m.state.budget.TodayUsedMinutes += seconds / 60.0
	m.saveUserState(ctx)
	m.logger.Debug("queued time locally", "local_total_minutes", m.state.budget.TodayUsedMinutes)
}

// flushPendingTime drains the pending queue and pushes the total to the
// backend in one atomic add. On failure the total is re-enqueued as a single
// entry; only the sum matters for conservation, not individual timestamps.
func (m *Monitor) flushPendingTime(ctx context.Context) {
	total, err := m.cache.DrainPending(ctx)
	if err != nil {
		m.logger.Warn("failed to drain pending time queue", "error", err)
		return
	}
	if total == 0 {
		return
	}

	if _, err := m.client.AddUsedTime(ctx, total); err != nil {
		if reErr := m.cache.AddPending(ctx, total); reErr != nil {
			m.logger.Error("failed to re-enqueue pending time",
				"seconds", total,
				"error", reErr,
			)
		}
		m.logger.Warn("failed to sync pending time, will retry later",
			"seconds", total,
			"error", err,
		)
		return
	}

	m.logger.Info("synced pending time from offline operation", "seconds", total)
}

// applyApprovedExtensions claims approved extension requests and raises the
// daily limit. The claim marks requests processed remotely, so each is
// applied at most once.
func (m *Monitor) applyApprovedExtensions(ctx context.Context) {
	approved, err := m.client.ClaimApprovedExtensions(ctx)
	if err != nil {
		m.logger.Debug("failed to check extension approvals", "error", err)
		return
	}

	for _, ext := range approved {
		m.state.budget.DailyLimitMinutes += ext.RequestedMinutes
		m.logger.Info("applied approved extension",
			"minutes", ext.RequestedMinutes,
			"new_limit", m.state.budget.DailyLimitMinutes,
		)
	}
	if len(approved) > 0 {
		m.saveUserState(ctx)
	}
}

func (m *Monitor) saveUserState(ctx context.Context) {
	if err := m.cache.SaveUserState(ctx, m.state.budget); err != nil {
		m.logger.Warn("failed to cache user state", "error", err)
	}
}

// publishSnapshot hands a copy of the current state to the presentation sink
func (m *Monitor) publishSnapshot(activity string, isWhitelisted bool) {
	if m.sink == nil {
		return
	}

	m.sink.Publish(Snapshot{
		MinutesRemaining: m.state.budget.MinutesRemaining(),
		MinutesUsed:      m.state.budget.TodayUsedMinutes,
		DailyLimit:       m.state.budget.DailyLimitMinutes,
		CurrentActivity:  activity,
		IsWhitelisted:    isWhitelisted,
		IsOnline:         m.state.isOnline,
		IsLocked:         m.state.isLocked,
		WhitelistNames:   core.DisplayNames(m.state.whitelist),
	})
}

func (m *Monitor) alertDeviceLocked() {
	if m.alerter == nil {
		return
	}
	m.alerter.DeviceLocked(m.state.budget.TodayUsedMinutes, m.state.budget.DailyLimitMinutes)
}

func (m *Monitor) alertWentOffline() {
	if m.alerter == nil {
		return
	}
	m.alerter.WentOffline()
}

func (m *Monitor) alertBackOnline() {
	if m.alerter == nil {
		return
	}
	m.alerter.BackOnline()
}
