// Package persona loads the host's character prompt from YAML preset files.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadPreset reads a YAML preset file and returns the persona prompt. Presets
// come in several shapes collected from the community:
//   - a plain string
//   - a list of strings, joined with newlines
//   - a mapping with "system", "input" or "prompt" fields, plus an optional
//     "prompts" list whose system-role entries contribute in order
func LoadPreset(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("persona: read preset: %w", err)
	}
	return ParsePreset(raw)
}

// ParsePreset parses preset YAML content. See LoadPreset for the accepted
// shapes.
func ParsePreset(raw []byte) (string, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return "", fmt.Errorf("persona: parse preset: %w", err)
	}

	switch v := doc.(type) {
	case map[string]any:
		var parts []string
		if prompts, ok := v["prompts"].([]any); ok {
			for _, item := range prompts {
				entry, ok := item.(map[string]any)
				if !ok || entry["role"] != "system" {
					continue
				}
				if s := flatten(entry["content"]); s != "" {
					parts = append(parts, s)
				}
			}
		}
		for _, key := range []string{"system", "input", "prompt"} {
			if val, ok := v[key]; ok {
				if s := flatten(val); s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, "\n"), nil
	default:
		return flatten(doc), nil
	}
}

func flatten(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		var lines []string
		for _, item := range val {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" {
				lines = append(lines, s)
			}
		}
		return strings.Join(lines, "\n")
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
