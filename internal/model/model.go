// Package model holds the data model shared across orchestrator
// components: agent cards, registry state, task/error/log records, and
// the artifact shape agents return.
package model

import "time"

// AgentCard is the opaque descriptor an agent advertises at
// <base_url>/.well-known/agent-card.json. Two cards with the same URL
// denote the same agent.
type AgentCard struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	URL          string   `json:"url"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	Skills       []Skill  `json:"skills"`
}

// Skill is one capability an agent advertises; Description is free text
// consumed by the routing oracle.
type Skill struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Status is the agent registry state machine's current state.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusBusy      Status = "BUSY"
	StatusBroken    Status = "BROKEN"
)

// BrokenReason is only meaningful when Status == StatusBroken.
type BrokenReason string

const (
	BrokenReasonOffline    BrokenReason = "OFFLINE"
	BrokenReasonTaskStuck  BrokenReason = "TASK_STUCK"
	BrokenReasonNone       BrokenReason = ""
)

// AgentContext is per-agent metadata cleared whenever the agent
// transitions to AVAILABLE.
type AgentContext struct {
	CurrentTaskID string
	BrokenReason  BrokenReason
	StuckTaskID   string
}

// AgentSnapshot is an owned copy of one registry entry, safe to hand to
// callers outside the registry's lock.
type AgentSnapshot struct {
	ID        string
	Card      AgentCard
	Status    Status
	Context   AgentContext
	FetchedAt time.Time
}

// TaskStatus is the lifecycle state of one dispatch attempt.
type TaskStatus string

const (
	TaskPending   TaskStatus = "PENDING"
	TaskRunning   TaskStatus = "RUNNING"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// TaskRecord is one entry in the task history ring buffer.
type TaskRecord struct {
	TaskID       string
	AgentID      string
	AgentName    string
	Description  string
	Status       TaskStatus
	StartTime    time.Time
	EndTime      time.Time
	ErrorMessage string
	AgentLogs    string
	Files        []FilePart
	// ResultText is the first text part of the completed task's
	// artifacts: by convention, the workflow-specific JSON payload to
	// hand to the next stage.
	ResultText string
}

// ErrorRecord is one entry in the error history ring buffer.
type ErrorRecord struct {
	ErrorID          string
	Timestamp        time.Time
	Message          string
	TaskID           string
	AgentID          string
	Module           string
	TracebackSnippet string
}

// LogEntry is one entry in the log ring buffer.
type LogEntry struct {
	Timestamp  time.Time
	Level      string
	LoggerName string
	Message    string
	TaskID     string
	AgentID    string
}

// PartKind distinguishes the two Artifact Part variants.
type PartKind string

const (
	PartText PartKind = "text"
	PartFile PartKind = "file"
)

// Part is one element of an Artifact's ordered parts list. Exactly one
// of Text or File is populated, selected by Kind.
type Part struct {
	Kind PartKind  `json:"kind"`
	Text string    `json:"text,omitempty"`
	File *FilePart `json:"file,omitempty"`
}

// FilePart carries a binary blob returned by an agent (screenshot, log
// file, video, etc). Bytes is the raw (already base64-decoded) content.
type FilePart struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Bytes    []byte `json:"bytes"`
}

// Artifact is the structured result of a completed task: an ordered
// list of parts.
type Artifact struct {
	Parts []Part `json:"parts"`
}

// TaskState is the terminal (or intermediate) state an agent reports
// for a task over the streaming RPC.
type TaskState string

const (
	TaskStateSubmitted TaskState = "submitted"
	TaskStateWorking   TaskState = "working"
	TaskStateCompleted TaskState = "completed"
	TaskStateFailed    TaskState = "failed"
	TaskStateRejected  TaskState = "rejected"
	TaskStateCanceled  TaskState = "canceled"
)

// IsTerminal reports whether a TaskState ends the stream.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateCompleted, TaskStateFailed, TaskStateRejected, TaskStateCanceled:
		return true
	default:
		return false
	}
}

// TaskSnapshot is the "task carries a state and an artifacts list"
// event variant.
type TaskSnapshot struct {
	TaskID    string
	State     TaskState
	Artifacts []Artifact
}
