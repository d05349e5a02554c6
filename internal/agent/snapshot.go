package agent

// Snapshot is an immutable copy of the monitor's state, published to the
// presentation sink after each tick. Consumers never share references with
// the monitor's own state.
type Snapshot struct {
	MinutesRemaining float64  `json:"minutes_remaining"`
	MinutesUsed      float64  `json:"minutes_used"`
	DailyLimit       int      `json:"daily_limit"`
	CurrentActivity  string   `json:"current_activity"`
	IsWhitelisted    bool     `json:"is_whitelisted"`
	IsOnline         bool     `json:"is_online"`
	IsLocked         bool     `json:"is_locked"`
	WhitelistNames   []string `json:"whitelist_names"`
}

// Sink consumes state snapshots. Publish is called once per tick from the
// monitor goroutine and must not block.
type Sink interface {
	Publish(Snapshot)
}

// Alerter receives notable agent events, e.g. to forward them to a parent.
// All methods are best-effort; implementations must not panic.
type Alerter interface {
	// DeviceLocked fires when the budget is exhausted and the session locks
	DeviceLocked(usedMinutes float64, limitMinutes int)
	// WentOffline fires on the online-to-offline transition edge
	WentOffline()
	// BackOnline fires when the backend becomes reachable again
	BackOnline()
}
