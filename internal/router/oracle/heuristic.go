package oracle

import (
	"context"
	"sort"
	"strings"
)

// Heuristic is the dependency-free oracle variant: it scores each
// candidate by keyword overlap between the task description and the
// candidate's name/description/skills, and ranks by score. It is the
// default provider and the one the test suite runs against, so tests
// never depend on a live LLM call.
type Heuristic struct{}

// NewHeuristic constructs the dependency-free oracle.
func NewHeuristic() *Heuristic { return &Heuristic{} }

func tokenize(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,:;!?()[]{}\"'")
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}

func (h *Heuristic) score(task string, c Candidate) int {
	taskWords := tokenize(task)
	haystack := strings.Join(append([]string{c.Name, c.Description}, c.Skills...), " ")
	candWords := tokenize(haystack)
	score := 0
	for w := range taskWords {
		if _, ok := candWords[w]; ok {
			score++
		}
	}
	return score
}

func (h *Heuristic) rank(task string, candidates []Candidate) []Candidate {
	ranked := make([]Candidate, len(candidates))
	copy(ranked, candidates)
	scores := make(map[string]int, len(candidates))
	for _, c := range candidates {
		scores[c.ID] = h.score(task, c)
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return scores[ranked[i].ID] > scores[ranked[j].ID]
	})
	return ranked
}

// SelectOne returns the single best-scoring candidate, or "" if the
// candidate set is empty.
func (h *Heuristic) SelectOne(_ context.Context, task string, candidates []Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", nil
	}
	return h.rank(task, candidates)[0].ID, nil
}

// SelectAll returns every candidate with a positive keyword-overlap
// score, ranked best-first; if none score positively, it falls back to
// the whole candidate set so a workflow is never starved by an
// over-strict heuristic.
func (h *Heuristic) SelectAll(_ context.Context, task string, candidates []Candidate) ([]string, error) {
	ranked := h.rank(task, candidates)
	var ids []string
	for _, c := range ranked {
		if h.score(task, c) > 0 {
			ids = append(ids, c.ID)
		}
	}
	if len(ids) == 0 {
		for _, c := range ranked {
			ids = append(ids, c.ID)
		}
	}
	return ids, nil
}

var _ Oracle = (*Heuristic)(nil)
