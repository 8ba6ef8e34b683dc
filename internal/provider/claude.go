package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lumen-live/cohost/internal/models"
)

const (
	anthropicEndpoint = "https://api.anthropic.com/v1/messages"
	anthropicVersion  = "2023-06-01"
	claudeMaxTokens   = 1024
)

// Claude generates replies through the Anthropic Messages API.
type Claude struct {
	apiKey   string
	model    string
	endpoint string
	http     *http.Client
}

// NewClaude creates a Claude provider.
func NewClaude(apiKey, model string) (*Claude, error) {
	if apiKey == "" {
		return nil, errors.New("provider claude: api key not configured")
	}
	if model == "" {
		return nil, errors.New("provider claude: model not configured")
	}
	return &Claude{
		apiKey:   apiKey,
		model:    model,
		endpoint: anthropicEndpoint,
		http:     &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// Name returns the provider's routing name.
func (p *Claude) Name() string { return "claude" }

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Messages    []claudeMessage `json:"messages"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Chat sends the conversation and returns the assistant reply. The Messages
// API keeps system text outside the message list, so system turns are joined
// into the request's system field.
func (p *Claude) Chat(ctx context.Context, req models.ReplyRequest) (string, error) {
	var system []string
	var messages []claudeMessage
	for _, turn := range req.Turns {
		switch turn.Role {
		case models.RoleSystem:
			system = append(system, turn.Content)
		case models.RoleAssistant:
			messages = append(messages, claudeMessage{Role: "assistant", Content: turn.Content})
		default:
			messages = append(messages, claudeMessage{Role: "user", Content: turn.Content})
		}
	}

	body := claudeRequest{
		Model:       p.model,
		MaxTokens:   claudeMaxTokens,
		System:      strings.Join(system, "\n"),
		Temperature: req.Temperature,
		Messages:    messages,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("provider claude: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("provider claude: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("provider claude: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("provider claude: read response: %w", err)
	}
	var parsed claudeResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("provider claude: decode response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return "", fmt.Errorf("provider claude: api error: %s", msg)
	}
	for _, block := range parsed.Content {
		if block.Type == "text" && block.Text != "" {
			return block.Text, nil
		}
	}
	return "", errors.New("provider claude: empty response")
}
