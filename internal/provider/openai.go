package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/lumen-live/cohost/internal/models"
)

// OpenAICompatible serves any backend speaking the OpenAI chat completions
// protocol: the hosted OpenAI API, DeepSeek, and local inference servers.
type OpenAICompatible struct {
	name   string
	model  string
	client openai.Client
}

// NewOpenAICompatible creates a provider against an OpenAI-protocol backend.
// baseURL may be "" for the hosted OpenAI API.
func NewOpenAICompatible(name, apiKey, baseURL, model string) (*OpenAICompatible, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("provider %s: api key not configured", name)
	}
	if model == "" {
		return nil, fmt.Errorf("provider %s: model not configured", name)
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAICompatible{
		name:   name,
		model:  model,
		client: openai.NewClient(opts...),
	}, nil
}

// NewLocal creates a provider for a local OpenAI-protocol inference server,
// which requires no API key.
func NewLocal(baseURL, model string) (*OpenAICompatible, error) {
	if model == "" {
		return nil, errors.New("provider local: model not configured")
	}
	return &OpenAICompatible{
		name:  "local",
		model: model,
		client: openai.NewClient(
			option.WithAPIKey("unused"),
			option.WithBaseURL(baseURL),
		),
	}, nil
}

// Name returns the provider's routing name.
func (p *OpenAICompatible) Name() string { return p.name }

// Chat sends the conversation and returns the assistant reply.
func (p *OpenAICompatible) Chat(ctx context.Context, req models.ReplyRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Turns))
	for _, turn := range req.Turns {
		switch turn.Role {
		case models.RoleSystem:
			messages = append(messages, openai.SystemMessage(turn.Content))
		case models.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("provider %s: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("provider %s: no choices returned", p.name)
	}
	return resp.Choices[0].Message.Content, nil
}
