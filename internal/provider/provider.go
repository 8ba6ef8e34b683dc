// Package provider routes reply generation across multiple LLM backends with
// ordered fallback.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lumen-live/cohost/internal/models"
)

// ErrNoProviderAvailable is returned when every configured provider failed
// or none is enabled.
var ErrNoProviderAvailable = errors.New("no reply provider available")

// ErrProviderNotFound is returned when a model hint names an unknown provider.
var ErrProviderNotFound = errors.New("provider not found")

// Provider generates one chat reply. Implementations wrap a single backend
// and return an error when the backend is unreachable or refuses the request.
type Provider interface {
	Name() string
	Chat(ctx context.Context, req models.ReplyRequest) (string, error)
}

// priority is the fallback order tried by the router.
var priority = []string{"gemini", "openai", "claude", "deepseek", "local"}

// Router tries providers in a fixed order until one succeeds.
type Router struct {
	providers []Provider
}

// NewRouter creates a Router over the given providers, tried in slice order.
func NewRouter(providers ...Provider) *Router {
	return &Router{providers: providers}
}

// Providers returns the configured provider names in fallback order.
func (r *Router) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Generate asks each provider in order and returns the first successful
// reply. A model hint pins the request to one named provider instead. All
// failures are logged; ErrNoProviderAvailable is returned when none succeeds.
func (r *Router) Generate(ctx context.Context, req models.ReplyRequest) (string, error) {
	if req.ModelHint != "" {
		for _, p := range r.providers {
			if p.Name() == req.ModelHint {
				return p.Chat(ctx, req)
			}
		}
		return "", fmt.Errorf("%w: %s", ErrProviderNotFound, req.ModelHint)
	}

	for _, p := range r.providers {
		reply, err := p.Chat(ctx, req)
		if err != nil {
			slog.Warn("provider.Router.Generate: provider failed, trying next", "provider", p.Name(), "error", err)
			continue
		}
		slog.Debug("provider.Router.Generate: reply produced", "provider", p.Name(), "length", len(reply))
		return reply, nil
	}
	return "", ErrNoProviderAvailable
}

// Settings is the configuration lookup the router factory reads from.
// Missing keys return "".
type Settings interface {
	GetSetting(ctx context.Context, key string) (string, error)
}

// FromSettings builds a Router from stored settings. Each backend is gated on
// "<name>.enable" being "yes"; the fallback order is gemini, openai, claude,
// deepseek, local. Backends with incomplete credentials are skipped with a
// warning rather than failing startup.
func FromSettings(ctx context.Context, s Settings) (*Router, error) {
	get := func(key string) string {
		v, err := s.GetSetting(ctx, key)
		if err != nil {
			slog.Warn("provider.FromSettings: setting lookup failed", "key", key, "error", err)
			return ""
		}
		return strings.TrimSpace(v)
	}

	var providers []Provider
	for _, name := range priority {
		if !strings.EqualFold(get(name+".enable"), "yes") {
			continue
		}
		p, err := buildProvider(ctx, name, get)
		if err != nil {
			slog.Warn("provider.FromSettings: backend skipped", "provider", name, "error", err)
			continue
		}
		providers = append(providers, p)
		slog.Info("provider.FromSettings: backend enabled", "provider", name)
	}
	return NewRouter(providers...), nil
}

func buildProvider(ctx context.Context, name string, get func(string) string) (Provider, error) {
	switch name {
	case "gemini":
		return NewGemini(ctx, get("gemini.api_key"), get("gemini.model"))
	case "openai":
		return NewOpenAICompatible("openai", get("openai.api_key"), get("openai.base_url"), get("openai.model"))
	case "claude":
		return NewClaude(get("claude.api_key"), get("claude.model"))
	case "deepseek":
		base := get("deepseek.base_url")
		if base == "" {
			base = "https://api.deepseek.com"
		}
		return NewOpenAICompatible("deepseek", get("deepseek.api_key"), base, get("deepseek.model"))
	case "local":
		base := get("local.base_url")
		if base == "" {
			base = "http://localhost:11434/v1"
		}
		return NewLocal(base, get("local.model"))
	default:
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
}
