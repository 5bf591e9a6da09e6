package oracle

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	defaultOllamaModel   = "qwen3:4b"
)

// Ollama is the local-model-backed oracle.
type Ollama struct {
	client *api.Client
	model  string
}

// NewOllama constructs an Ollama-backed oracle.
func NewOllama(baseURL, model string) *Ollama {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	if model == "" {
		model = defaultOllamaModel
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		parsed, _ = url.Parse(defaultOllamaBaseURL)
	}
	httpClient := &http.Client{Timeout: 60 * time.Second}
	return &Ollama{client: api.NewClient(parsed, httpClient), model: model}
}

func (o *Ollama) ask(ctx context.Context, task string, candidates []Candidate) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	prompt := rankingPrompt(task, candidates)
	stream := false
	var reply string
	req := &api.ChatRequest{
		Model:    o.model,
		Messages: []api.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
	}
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply += resp.Message.Content
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama oracle request: %w", err)
	}
	return parseIDList(reply)
}

// SelectOne returns the first-ranked id, or "" when none are suitable.
func (o *Ollama) SelectOne(ctx context.Context, task string, candidates []Candidate) (string, error) {
	ids, err := o.ask(ctx, task, candidates)
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

// SelectAll returns every id the model ranked as suitable.
func (o *Ollama) SelectAll(ctx context.Context, task string, candidates []Candidate) ([]string, error) {
	return o.ask(ctx, task, candidates)
}

var _ Oracle = (*Ollama)(nil)
