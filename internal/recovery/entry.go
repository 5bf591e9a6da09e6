package recovery

import "time"

// Entry is one tuple enqueued on the recovery channel by the
// Dispatcher on failure.
type Entry struct {
	AgentID    string
	EnqueuedAt time.Time
}
