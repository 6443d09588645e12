package agent

import "time"

// Status is the externally visible state of an analyst.
type Status string

const (
	StatusActive      Status = "active"
	StatusAnalyzing   Status = "analyzing"
	StatusSummarizing Status = "summarizing"
	StatusIdle        Status = "idle"
)

const (
	// IdleAfter is the inactivity after which Status reports idle regardless
	// of the stored state.
	IdleAfter = 120 * time.Second

	// DefaultIdleDelay is how long the analyst waits before going idle after
	// a turn. A turn starting within the delay cancels the pending transition.
	DefaultIdleDelay = 2 * time.Second
)

func (s Status) String() string {
	return string(s)
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusAnalyzing, StatusSummarizing, StatusIdle:
		return true
	}
	return false
}
