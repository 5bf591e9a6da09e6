package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// Anthropic is the Claude-backed oracle: one non-streaming
// Messages.New call asking the model to rank the candidate list and
// return a JSON array of ids.
type Anthropic struct {
	client anthropic.Client
	model  string
}

// NewAnthropic constructs an Anthropic-backed oracle.
func NewAnthropic(apiKey, model string) *Anthropic {
	if model == "" {
		model = defaultAnthropicModel
	}
	return &Anthropic{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (a *Anthropic) ask(ctx context.Context, task string, candidates []Candidate) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	prompt := rankingPrompt(task, candidates)
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic oracle request: %w", err)
	}
	var text strings.Builder
	for _, block := range msg.Content {
		if tb := block.AsAny(); tb != nil {
			if t, ok := tb.(anthropic.TextBlock); ok {
				text.WriteString(t.Text)
			}
		}
	}
	return parseIDList(text.String())
}

// SelectOne returns the first-ranked id, or "" when the model picks
// none from the candidate set.
func (a *Anthropic) SelectOne(ctx context.Context, task string, candidates []Candidate) (string, error) {
	ids, err := a.ask(ctx, task, candidates)
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

// SelectAll returns every id the model ranked as suitable.
func (a *Anthropic) SelectAll(ctx context.Context, task string, candidates []Candidate) ([]string, error) {
	return a.ask(ctx, task, candidates)
}

var _ Oracle = (*Anthropic)(nil)

func rankingPrompt(task string, candidates []Candidate) string {
	var b strings.Builder
	b.WriteString("You are selecting the best-suited agent(s) for a task from a fixed candidate list.\n")
	b.WriteString("Task: ")
	b.WriteString(task)
	b.WriteString("\nCandidates (JSON):\n")
	data, _ := json.Marshal(candidates)
	b.Write(data)
	b.WriteString("\nRespond with ONLY a JSON array of candidate ids, best match first, e.g. [\"id1\",\"id2\"]. " +
		"Return an empty array [] if none are suitable.")
	return b.String()
}

func parseIDList(text string) ([]string, error) {
	text = strings.TrimSpace(text)
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("oracle response did not contain a JSON array: %q", text)
	}
	var ids []string
	if err := json.Unmarshal([]byte(text[start:end+1]), &ids); err != nil {
		return nil, fmt.Errorf("parsing oracle response: %w", err)
	}
	return ids, nil
}
