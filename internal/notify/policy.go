// Package notify decides when a time-remaining warning should fire.
// It is pure policy: showing the actual notification is the platform's job.
package notify

import "fmt"

// Level is a remaining-minutes warning threshold
type Level int

const (
	LevelNone Level = 0
	LevelOne  Level = 1
	LevelFive Level = 5
	LevelTen  Level = 10
)

// State tracks which warnings have already been shown today
type State struct {
	Shown         map[Level]bool
	LastResetDate string
}

// NewState creates an empty notification state
func NewState() *State {
	return &State{Shown: make(map[Level]bool)}
}

// ResetIfNewDay clears the shown set when the date changes. Must be called
// before evaluation each tick so warnings repeat correctly across days.
func (s *State) ResetIfNewDay(today string) {
	if s.LastResetDate != today {
		s.Shown = make(map[Level]bool)
		s.LastResetDate = today
	}
}

// MarkShown records that a warning level has been shown today
func (s *State) MarkShown(level Level) {
	s.Shown[level] = true
}

// GetLevel returns the tightest warning threshold that applies to the
// remaining time, or LevelNone when more than ten minutes remain.
func GetLevel(minutesRemaining float64) Level {
	switch {
	case minutesRemaining <= float64(LevelOne):
		return LevelOne
	case minutesRemaining <= float64(LevelFive):
		return LevelFive
	case minutesRemaining <= float64(LevelTen):
		return LevelTen
	default:
		return LevelNone
	}
}

// ShouldShow returns the warning level to show now, or LevelNone if the app
// is whitelisted, no threshold is crossed, or that level was already shown
// today. The caller must record a shown warning via State.MarkShown.
func ShouldShow(minutesRemaining float64, isWhitelisted bool, state *State) Level {
	if isWhitelisted {
		return LevelNone
	}

	level := GetLevel(minutesRemaining)
	if level == LevelNone {
		return LevelNone
	}

	if state.Shown[level] {
		return LevelNone
	}

	return level
}

// Title returns the notification title for a warning level
func Title(level Level) string {
	switch level {
	case LevelOne:
		return "1 Minute Left!"
	case LevelFive:
		return "5 Minutes Left"
	default:
		return "Screen Time Warning"
	}
}

// Message returns the notification body for a warning level
func Message(level Level, minutesRemaining float64) string {
	mins := int(minutesRemaining)
	switch level {
	case LevelOne:
		return "Your screen time is almost up. Save your work!"
	case LevelFive:
		return fmt.Sprintf("You have %d minutes of screen time remaining.", mins)
	default:
		return fmt.Sprintf("You have %d minutes of screen time remaining today.", mins)
	}
}
