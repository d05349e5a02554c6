package agent

// Platform abstracts OS-specific enforcement and notification actions.
// This allows testing on any platform with mock implementations.
type Platform interface {
	// LockWorkstation locks the local session. Idempotent: locking an
	// already-locked session is a no-op at the OS level.
	LockWorkstation() error

	// ShowWarningNotification displays a time-remaining warning to the user
	ShowWarningNotification(title, message string) error
}
