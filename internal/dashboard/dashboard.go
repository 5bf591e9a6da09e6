// Package dashboard implements the read-only dashboard aggregator:
// summary counters and list views computed by iterating the Registry
// and Histories directly, plus the one non-trivial piece of logic,
// the log endpoint's canonical agent-log-line parser.
package dashboard

import (
	"strings"
	"time"

	"github.com/partarstu/agentic-qa-framework/internal/history"
	"github.com/partarstu/agentic-qa-framework/internal/model"
	"github.com/partarstu/agentic-qa-framework/internal/registry"
)

// Dashboard is a thin read-only view over the process's shared state.
// It owns nothing and mutates nothing.
type Dashboard struct {
	reg       *registry.Registry
	tasks     *history.TaskHistory
	errs      *history.ErrorHistory
	logs      *history.LogHistory
	startedAt time.Time
}

// New constructs a Dashboard bound to the process's shared registry,
// histories, and process start time (for uptime).
func New(reg *registry.Registry, tasks *history.TaskHistory, errs *history.ErrorHistory, logs *history.LogHistory, startedAt time.Time) *Dashboard {
	return &Dashboard{reg: reg, tasks: tasks, errs: errs, logs: logs, startedAt: startedAt}
}

// Summary is GET /dashboard/summary's response shape.
type Summary struct {
	AgentsByStatus map[model.Status]int     `json:"agents_by_status"`
	TasksByStatus  map[model.TaskStatus]int `json:"tasks_by_status"`
	UptimeSeconds  float64                  `json:"uptime_seconds"`
}

// Summary computes the counters by iterating the registry and task
// history; it holds no cache.
func (d *Dashboard) Summary() Summary {
	s := Summary{
		AgentsByStatus: make(map[model.Status]int),
		TasksByStatus:  make(map[model.TaskStatus]int),
		UptimeSeconds:  time.Since(d.startedAt).Seconds(),
	}
	for _, a := range d.reg.ListSnapshot() {
		s.AgentsByStatus[a.Status]++
	}
	for _, t := range d.tasks.GetAll() {
		s.TasksByStatus[t.Status]++
	}
	return s
}

// Agents is GET /dashboard/agents: the full registry snapshot.
func (d *Dashboard) Agents() []model.AgentSnapshot {
	return d.reg.ListSnapshot()
}

// AgentDetail is the supplemental GET /dashboard/agents/{id} response:
// one agent's registry entry plus its recent task history.
type AgentDetail struct {
	Agent        model.AgentSnapshot `json:"agent"`
	RecentTasks  []model.TaskRecord  `json:"recent_tasks"`
}

// AgentDetail narrows Agents to a single id, with its recent tasks.
func (d *Dashboard) AgentDetail(id string, taskLimit int) (AgentDetail, bool) {
	snap, ok := d.reg.Get(id)
	if !ok {
		return AgentDetail{}, false
	}
	var recent []model.TaskRecord
	for _, t := range d.tasks.GetAll() {
		if t.AgentID != id {
			continue
		}
		recent = append(recent, t)
		if taskLimit > 0 && len(recent) >= taskLimit {
			break
		}
	}
	return AgentDetail{Agent: snap, RecentTasks: recent}, true
}

// Tasks is GET /dashboard/tasks?limit. limit <= 0 returns every held
// record.
func (d *Dashboard) Tasks(limit int) []model.TaskRecord {
	if limit <= 0 {
		return d.tasks.GetAll()
	}
	return d.tasks.GetRecent(limit)
}

// Errors is GET /dashboard/errors?limit. limit <= 0 returns every held
// record.
func (d *Dashboard) Errors(limit int) []model.ErrorRecord {
	if limit <= 0 {
		return d.errs.GetAll()
	}
	return d.errs.GetRecent(limit)
}

// LogsQuery mirrors GET /dashboard/logs's query parameters.
type LogsQuery struct {
	Limit   int
	Level   string
	TaskID  string
	AgentID string
}

// ParsedLine is one line of a decoded agent_logs blob, parsed against
// the canonical shape "<timestamp> - <logger> - <level> - <message>".
type ParsedLine struct {
	Timestamp string `json:"timestamp"`
	Logger    string `json:"logger"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// Logs answers GET /dashboard/logs. Filtered by task or agent, it
// decodes the preserved agent_logs blob from the matching TaskRecord(s)
// and parses each line; otherwise it returns the in-process log ring,
// filtered by level and capped at q.Limit.
func (d *Dashboard) Logs(q LogsQuery) []ParsedLine {
	if q.TaskID == "" && q.AgentID == "" {
		entries := d.logs.GetFiltered(history.FilterOpts{Level: q.Level, Limit: q.Limit})
		out := make([]ParsedLine, 0, len(entries))
		for _, e := range entries {
			out = append(out, ParsedLine{
				Timestamp: e.Timestamp.Format(time.RFC3339),
				Logger:    e.LoggerName,
				Level:     e.Level,
				Message:   e.Message,
			})
		}
		return out
	}

	var out []ParsedLine
	for _, t := range d.tasks.GetAll() {
		if q.TaskID != "" && t.TaskID != q.TaskID {
			continue
		}
		if q.AgentID != "" && t.AgentID != q.AgentID {
			continue
		}
		if t.AgentLogs == "" {
			continue
		}
		for _, line := range strings.Split(t.AgentLogs, "\n") {
			line = strings.TrimRight(line, "\r")
			if line == "" {
				continue
			}
			parsed := parseLogLine(line)
			if q.Level != "" && parsed.Level != q.Level {
				continue
			}
			out = append(out, parsed)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out
			}
		}
	}
	return out
}

// parseLogLine decodes one line against the canonical
// "<timestamp> - <logger> - <level> - <message>" shape, degrading
// gracefully: a missing timestamp becomes an empty
// string, a missing level becomes INFO, and any line that doesn't fit
// the shape at all is returned whole as the message.
func parseLogLine(line string) ParsedLine {
	const sep = " - "
	parts := strings.SplitN(line, sep, 4)
	switch len(parts) {
	case 4:
		return ParsedLine{Timestamp: parts[0], Logger: parts[1], Level: parts[2], Message: parts[3]}
	case 3:
		// Logger - level - message, timestamp absent.
		return ParsedLine{Timestamp: "", Logger: parts[0], Level: parts[1], Message: parts[2]}
	case 2:
		// Logger - message, timestamp and level both absent.
		return ParsedLine{Timestamp: "", Logger: parts[0], Level: "INFO", Message: parts[1]}
	default:
		return ParsedLine{Timestamp: "", Logger: "", Level: "INFO", Message: line}
	}
}
