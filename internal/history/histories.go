package history

import (
	"time"

	"github.com/google/uuid"

	"github.com/partarstu/agentic-qa-framework/internal/logging"
	"github.com/partarstu/agentic-qa-framework/internal/model"
)

// Default ring capacities for the task, error, and log histories.
const (
	DefaultTaskCapacity = 100
	DefaultErrorCapacity = 50
	DefaultLogCapacity   = 50000
)

// TaskHistory is the bounded ring of TaskRecord.
type TaskHistory struct {
	ring *Ring[model.TaskRecord]
}

// NewTaskHistory constructs a TaskHistory with the given capacity.
func NewTaskHistory(capacity int) *TaskHistory {
	return &TaskHistory{ring: NewRing[model.TaskRecord](capacity)}
}

// Add inserts a new TaskRecord.
func (h *TaskHistory) Add(r model.TaskRecord) { h.ring.Add(r) }

// Update finalises the record for taskID in place via mutate.
func (h *TaskHistory) Update(taskID string, mutate func(model.TaskRecord) model.TaskRecord) bool {
	return h.ring.Update(func(r model.TaskRecord) bool { return r.TaskID == taskID }, mutate)
}

// GetByID returns the record for taskID, if present.
func (h *TaskHistory) GetByID(taskID string) (model.TaskRecord, bool) {
	return h.ring.Find(func(r model.TaskRecord) bool { return r.TaskID == taskID })
}

// GetAll returns every record, newest first.
func (h *TaskHistory) GetAll() []model.TaskRecord { return h.ring.GetAll() }

// GetRecent returns up to n records, newest first.
func (h *TaskHistory) GetRecent(n int) []model.TaskRecord { return h.ring.GetRecent(n) }

// Len returns the number of held records.
func (h *TaskHistory) Len() int { return h.ring.Len() }

// ErrorHistory is the bounded ring of ErrorRecord.
type ErrorHistory struct {
	ring *Ring[model.ErrorRecord]
}

// NewErrorHistory constructs an ErrorHistory with the given capacity.
func NewErrorHistory(capacity int) *ErrorHistory {
	return &ErrorHistory{ring: NewRing[model.ErrorRecord](capacity)}
}

// Add records a new error, assigning it a fresh id and timestamp if
// unset.
func (h *ErrorHistory) Add(r model.ErrorRecord) model.ErrorRecord {
	if r.ErrorID == "" {
		r.ErrorID = uuid.NewString()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	h.ring.Add(r)
	return r
}

// GetAll returns every error record, newest first.
func (h *ErrorHistory) GetAll() []model.ErrorRecord { return h.ring.GetAll() }

// GetRecent returns up to n error records, newest first.
func (h *ErrorHistory) GetRecent(n int) []model.ErrorRecord { return h.ring.GetRecent(n) }

// LogHistory is the bounded ring of LogEntry. It implements
// logging.Hook so every line the process logger emits also lands here
// for the dashboard's unfiltered get_logs view.
type LogHistory struct {
	ring *Ring[model.LogEntry]
}

// NewLogHistory constructs a LogHistory with the given capacity.
func NewLogHistory(capacity int) *LogHistory {
	return &LogHistory{ring: NewRing[model.LogEntry](capacity)}
}

// Handle implements logging.Hook.
func (h *LogHistory) Handle(level, message string) {
	h.ring.Add(model.LogEntry{
		Timestamp:  time.Now(),
		Level:      level,
		LoggerName: "orchestrator",
		Message:    message,
	})
}

var _ logging.Hook = (*LogHistory)(nil)

// AddTaskLog records one log line attributed to a task/agent pair.
// The dashboard does not call it: it parses agent log artifacts from
// the task history on each read.
func (h *LogHistory) AddTaskLog(e model.LogEntry) { h.ring.Add(e) }

// FilterOpts narrows GetFiltered's result set; zero values mean "no
// filter on that dimension".
type FilterOpts struct {
	Level   string
	TaskID  string
	AgentID string
	Limit   int
}

// GetFiltered returns log entries matching every non-zero field of
// opts, newest first, capped at opts.Limit (0 = unbounded).
func (h *LogHistory) GetFiltered(opts FilterOpts) []model.LogEntry {
	all := h.ring.GetAll()
	out := make([]model.LogEntry, 0, len(all))
	for _, e := range all {
		if opts.Level != "" && e.Level != opts.Level {
			continue
		}
		if opts.TaskID != "" && e.TaskID != opts.TaskID {
			continue
		}
		if opts.AgentID != "" && e.AgentID != opts.AgentID {
			continue
		}
		out = append(out, e)
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
	}
	return out
}
