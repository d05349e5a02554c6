package agent

// Probe reports the application currently in the foreground.
// Platform-specific; where unsupported, the default implementation always
// reports no activity, and such ticks never count against the budget.
type Probe interface {
	// CurrentActivity returns the identifier of the foreground application
	// (the executable base name on Windows), or ok=false when it cannot
	// be determined.
	CurrentActivity() (identifier string, ok bool)
}
