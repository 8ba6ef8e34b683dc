package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/lumen-live/cohost/internal/models"
)

// Gemini generates replies through the Google Gemini API.
type Gemini struct {
	model  string
	client *genai.Client
}

// NewGemini creates a Gemini provider.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, errors.New("provider gemini: api key not configured")
	}
	if model == "" {
		return nil, errors.New("provider gemini: model not configured")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("provider gemini: %w", err)
	}
	return &Gemini{model: model, client: client}, nil
}

// Name returns the provider's routing name.
func (p *Gemini) Name() string { return "gemini" }

// Chat sends the conversation and returns the model reply. Gemini takes a
// single prompt with a separate system instruction, so system turns become
// the instruction and the rest are flattened into the prompt.
func (p *Gemini) Chat(ctx context.Context, req models.ReplyRequest) (string, error) {
	var system []string
	var prompt strings.Builder
	for _, turn := range req.Turns {
		switch turn.Role {
		case models.RoleSystem:
			system = append(system, turn.Content)
		case models.RoleAssistant:
			fmt.Fprintf(&prompt, "assistant: %s\n", turn.Content)
		default:
			fmt.Fprintf(&prompt, "user: %s\n", turn.Content)
		}
	}

	cfg := &genai.GenerateContentConfig{}
	if len(system) > 0 {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n")}},
		}
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(prompt.String()), cfg)
	if err != nil {
		return "", fmt.Errorf("provider gemini: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", errors.New("provider gemini: empty response")
	}
	return text, nil
}
