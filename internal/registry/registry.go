// Package registry is the static catalog of models the gateway serves. All of
// them resolve to the Responses backend; the catalog exists so the model
// listing endpoints answer in each protocol's shape and so aliases
// canonicalize to concrete upstream ids.
package registry

import "strings"

// ModelInfo describes one servable model.
type ModelInfo struct {
	// ID is the canonical upstream model id.
	ID string `json:"id"`
	// Object type, always "model".
	Object string `json:"object"`
	// Created timestamp for the OpenAI listing shape.
	Created int64 `json:"created"`
	// OwnedBy for the OpenAI listing shape.
	OwnedBy string `json:"owned_by"`
	// DisplayName is the human-readable name.
	DisplayName string `json:"display_name,omitempty"`
	// DefaultEffort is the reasoning effort used when the request carries no
	// hint. Empty defers to the config default.
	DefaultEffort string `json:"-"`
	// InputTokenLimit for the Gemini listing shape.
	InputTokenLimit int `json:"inputTokenLimit,omitempty"`
	// OutputTokenLimit for the Gemini listing shape.
	OutputTokenLimit int `json:"outputTokenLimit,omitempty"`
}

var catalog = []*ModelInfo{
	{
		ID:               "gpt-5-codex",
		Object:           "model",
		Created:          1757894400, // 2025-09-15
		OwnedBy:          "openai",
		DisplayName:      "GPT-5 Codex",
		DefaultEffort:    "medium",
		InputTokenLimit:  272000,
		OutputTokenLimit: 128000,
	},
	{
		ID:               "gpt-5",
		Object:           "model",
		Created:          1754524800, // 2025-08-07
		OwnedBy:          "openai",
		DisplayName:      "GPT-5",
		DefaultEffort:    "medium",
		InputTokenLimit:  272000,
		OutputTokenLimit: 128000,
	},
	{
		ID:               "codex-mini-latest",
		Object:           "model",
		Created:          1747353600, // 2025-05-16
		OwnedBy:          "openai",
		DisplayName:      "Codex Mini",
		DefaultEffort:    "low",
		InputTokenLimit:  200000,
		OutputTokenLimit: 100000,
	},
}

// aliases map client-facing shorthand to canonical ids.
var aliases = map[string]string{
	"codex":        "gpt-5-codex",
	"gpt5-codex":   "gpt-5-codex",
	"gpt-5-latest": "gpt-5",
	"codex-mini":   "codex-mini-latest",
}

// Models returns the full catalog.
func Models() []*ModelInfo {
	out := make([]*ModelInfo, len(catalog))
	copy(out, catalog)
	return out
}

// Canonical resolves an alias or id to the canonical model id. Unknown names
// fall through to fallback; a Gemini-style "models/" prefix is stripped
// first.
func Canonical(name, fallback string) string {
	name = strings.TrimPrefix(strings.TrimSpace(name), "models/")
	if name == "" {
		return fallback
	}
	if canonical, ok := aliases[strings.ToLower(name)]; ok {
		return canonical
	}
	for _, m := range catalog {
		if strings.EqualFold(m.ID, name) {
			return m.ID
		}
	}
	return fallback
}

// Lookup returns the catalog entry for a canonical id.
func Lookup(id string) (*ModelInfo, bool) {
	for _, m := range catalog {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// DefaultEffort returns the model's default reasoning effort, falling back to
// the supplied config default.
func DefaultEffort(id, fallback string) string {
	if m, ok := Lookup(id); ok && m.DefaultEffort != "" {
		return m.DefaultEffort
	}
	return fallback
}
