// Package registry implements the process-wide Agent Registry:
// agent_id -> (card, status, context), serialised under one mutex. The
// map holds discovered HTTP agents carrying a status state machine.
package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/partarstu/agentic-qa-framework/internal/model"
)

type entry struct {
	card    model.AgentCard
	status  model.Status
	ctx     model.AgentContext
	fetched time.Time
}

// Registry is the single process-global agent table. The zero value is
// not usable; construct with New.
type Registry struct {
	mu      sync.Mutex
	byID    map[string]*entry
	idByURL map[string]string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		byID:    make(map[string]*entry),
		idByURL: make(map[string]string),
	}
}

// Register is idempotent: if the URL is unknown, it creates a fresh id
// with status AVAILABLE; if known, it replaces the card in place and
// never downgrades a non-AVAILABLE status.
// It returns the agent id.
func (r *Registry) Register(card model.AgentCard) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.idByURL[card.URL]; ok {
		if e, ok := r.byID[id]; ok {
			e.card = card
			e.fetched = time.Now()
			return id
		}
	}

	id := uuid.NewString()
	r.byID[id] = &entry{card: card, status: model.StatusAvailable, fetched: time.Now()}
	r.idByURL[card.URL] = id
	return id
}

// UpdateStatus sets the status of id and maintains the agent context:
// a transition to BROKEN records reason/stuckTaskID; a transition to
// AVAILABLE clears BrokenReason, StuckTaskID, and CurrentTaskID.
// Calling UpdateStatus(id, AVAILABLE) on an entry already AVAILABLE is
// a no-op for the status itself but still clears context. Transitions
// are not checked against the state machine: any of the three statuses
// is accepted from any current status, and setting BUSY leaves the
// context unchanged.
func (r *Registry) UpdateStatus(id string, status model.Status, reason model.BrokenReason, stuckTaskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return false
	}

	switch status {
	case model.StatusAvailable:
		e.status = model.StatusAvailable
		e.ctx = model.AgentContext{}
	case model.StatusBroken:
		e.status = model.StatusBroken
		e.ctx.BrokenReason = reason
		e.ctx.StuckTaskID = stuckTaskID
	case model.StatusBusy:
		e.status = model.StatusBusy
	default:
		return false
	}
	return true
}

// SetCurrentTask sets or clears the CurrentTaskID on an agent's context.
func (r *Registry) SetCurrentTask(id string, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return false
	}
	e.ctx.CurrentTaskID = taskID
	return true
}

// Reserve atomically transitions id from AVAILABLE to BUSY and returns
// the card, only if it is still AVAILABLE at the moment of the call.
// This is the under-lock re-check that prevents two callers from
// reserving the same agent.
func (r *Registry) Reserve(id string) (model.AgentCard, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok || e.status != model.StatusAvailable {
		return model.AgentCard{}, false
	}
	e.status = model.StatusBusy
	return e.card, true
}

// Get returns an owned snapshot of one agent entry.
func (r *Registry) Get(id string) (model.AgentSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return model.AgentSnapshot{}, false
	}
	return snapshot(id, e), true
}

// GetAgentIDByURL is the lookup Discovery uses to find whether a base
// URL is already registered; it reads a URL-to-id map kept alongside
// the entries.
func (r *Registry) GetAgentIDByURL(url string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.idByURL[url]
	return id, ok
}

// GetAvailableAgents returns a snapshot of ids with status AVAILABLE.
func (r *Registry) GetAvailableAgents() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id, e := range r.byID {
		if e.status == model.StatusAvailable {
			ids = append(ids, id)
		}
	}
	return ids
}

// BrokenInfo is the reason/stuck-task-id pair for one broken agent.
type BrokenInfo struct {
	Reason      model.BrokenReason
	StuckTaskID string
}

// GetBrokenAgents returns a snapshot of id -> (reason, stuck_task_id)
// for every BROKEN agent.
func (r *Registry) GetBrokenAgents() map[string]BrokenInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]BrokenInfo)
	for id, e := range r.byID {
		if e.status == model.StatusBroken {
			out[id] = BrokenInfo{Reason: e.ctx.BrokenReason, StuckTaskID: e.ctx.StuckTaskID}
		}
	}
	return out
}

// ListSnapshot returns every agent as an owned AgentSnapshot, used by
// the dashboard and the single-agent detail endpoint.
func (r *Registry) ListSnapshot() []model.AgentSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AgentSnapshot, 0, len(r.byID))
	for id, e := range r.byID {
		out = append(out, snapshot(id, e))
	}
	return out
}

// Remove clears all per-agent state for id, used by Discovery on
// persistent unreachability.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	delete(r.idByURL, e.card.URL)
}

// Size returns the number of registered agents.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

func snapshot(id string, e *entry) model.AgentSnapshot {
	return model.AgentSnapshot{
		ID:        id,
		Card:      e.card,
		Status:    e.status,
		Context:   e.ctx,
		FetchedAt: e.fetched,
	}
}
