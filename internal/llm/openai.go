package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIGenerator calls the Chat Completions API. baseURL selects an OpenAI-compatible server.
type OpenAIGenerator struct {
	client openai.Client
	model  string
}

// NewOpenAIGenerator returns a generator for model.
func NewOpenAIGenerator(apiKey, baseURL, model string) (*OpenAIGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: OPENAI_API_KEY is not set", ErrUnavailable)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIGenerator{client: openai.NewClient(opts...), model: model}, nil
}

func (g *OpenAIGenerator) Name() string  { return "openai" }
func (g *OpenAIGenerator) Model() string { return g.model }

// Generate sends the system prompt (if any) and the prompt as a two-message chat.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (string, error) {
	var msgs []openai.ChatCompletionMessageParamUnion
	if req.SystemPrompt != "" {
		msgs = append(msgs, openai.SystemMessage(req.SystemPrompt))
	}
	msgs = append(msgs, openai.UserMessage(req.Prompt))
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(ModelFor(g, req)),
		Messages:    msgs,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", Classify(fmt.Errorf("openai: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty response")
	}
	return resp.Choices[0].Message.Content, nil
}
