// Package router implements capability-based agent selection: it
// restricts the oracle to the AVAILABLE set, then re-validates
// whatever the oracle returns before handing an id back to the
// Dispatcher. The Router itself never talks to an agent.
package router

import (
	"context"

	"github.com/partarstu/agentic-qa-framework/internal/model"
	"github.com/partarstu/agentic-qa-framework/internal/registry"
	"github.com/partarstu/agentic-qa-framework/internal/router/oracle"
)

// Router picks agents for a task description via an Oracle, consulting
// only AVAILABLE agents and validating the answer against the
// registry's live state.
type Router struct {
	reg *registry.Registry
	ora oracle.Oracle
}

// New constructs a Router over reg, consulting ora for selection.
func New(reg *registry.Registry, ora oracle.Oracle) *Router {
	return &Router{reg: reg, ora: ora}
}

func (r *Router) availableCandidates() ([]oracle.Candidate, map[string]bool) {
	ids := r.reg.GetAvailableAgents()
	set := make(map[string]bool, len(ids))
	candidates := make([]oracle.Candidate, 0, len(ids))
	for _, id := range ids {
		snap, ok := r.reg.Get(id)
		if !ok || snap.Status != model.StatusAvailable {
			continue
		}
		set[id] = true
		skills := make([]string, 0, len(snap.Card.Skills))
		for _, s := range snap.Card.Skills {
			skills = append(skills, s.Description)
		}
		candidates = append(candidates, oracle.Candidate{
			ID:          id,
			Name:        snap.Card.Name,
			Description: snap.Card.Description,
			Skills:      skills,
		})
	}
	return candidates, set
}

// SelectOne asks the oracle for the single best agent for task,
// returning "" if the router has no AVAILABLE agents, the oracle
// declines, or the oracle's answer is stale by the time it's
// re-checked against the live registry: any id no longer AVAILABLE at
// validation time is dropped.
func (r *Router) SelectOne(ctx context.Context, task string) (string, error) {
	candidates, available := r.availableCandidates()
	if len(candidates) == 0 {
		return "", nil
	}
	id, err := r.ora.SelectOne(ctx, task, candidates)
	if err != nil {
		return "", err
	}
	if id == "" || !available[id] {
		return "", nil
	}
	if snap, ok := r.reg.Get(id); !ok || snap.Status != model.StatusAvailable {
		return "", nil
	}
	return id, nil
}

// SelectAll asks the oracle for every suitable agent for task
// (typically one capability label's work), filtering the answer down
// to ids that were both submitted and are still AVAILABLE.
func (r *Router) SelectAll(ctx context.Context, task string) ([]string, error) {
	candidates, available := r.availableCandidates()
	if len(candidates) == 0 {
		return nil, nil
	}
	ids, err := r.ora.SelectAll(ctx, task, candidates)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !available[id] {
			continue
		}
		if snap, ok := r.reg.Get(id); ok && snap.Status == model.StatusAvailable {
			out = append(out, id)
		}
	}
	return out, nil
}
