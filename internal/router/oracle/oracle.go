// Package oracle implements the routing oracle abstraction: an
// external rank(task, candidates) -> id|ids function the Router
// consults. Four backends satisfy the same interface so the LLM SDKs
// available to this project all have a
// concrete home, while tests run against the dependency-free Heuristic
// implementation.
package oracle

import "context"

// Candidate is the narrow agent view the Router passes to an oracle:
// only AVAILABLE agents' id/name/description/skills.
type Candidate struct {
	ID          string
	Name        string
	Description string
	Skills      []string
}

// Oracle picks one or more candidates for a task description. It must
// never fabricate an id outside the submitted candidate set; the
// Router is responsible for re-validating the answer regardless.
type Oracle interface {
	SelectOne(ctx context.Context, task string, candidates []Candidate) (id string, err error)
	SelectAll(ctx context.Context, task string, candidates []Candidate) (ids []string, err error)
}
