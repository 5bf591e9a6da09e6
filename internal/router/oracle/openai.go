package oracle

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const defaultOpenAIModel = openai.ChatModelGPT4o

// OpenAI is the Chat-Completions-backed oracle (option.WithAPIKey,
// optional base URL override for OpenAI-compatible endpoints).
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI constructs an OpenAI-backed oracle. baseURL may be empty.
func NewOpenAI(apiKey, model, baseURL string) *OpenAI {
	if model == "" {
		model = defaultOpenAIModel
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

func (o *OpenAI) ask(ctx context.Context, task string, candidates []Candidate) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	prompt := rankingPrompt(task, candidates)
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: o.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai oracle request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, nil
	}
	return parseIDList(resp.Choices[0].Message.Content)
}

// SelectOne returns the first-ranked id, or "" when none are suitable.
func (o *OpenAI) SelectOne(ctx context.Context, task string, candidates []Candidate) (string, error) {
	ids, err := o.ask(ctx, task, candidates)
	if err != nil || len(ids) == 0 {
		return "", err
	}
	return ids[0], nil
}

// SelectAll returns every id the model ranked as suitable.
func (o *OpenAI) SelectAll(ctx context.Context, task string, candidates []Candidate) ([]string, error) {
	return o.ask(ctx, task, candidates)
}

var _ Oracle = (*OpenAI)(nil)
