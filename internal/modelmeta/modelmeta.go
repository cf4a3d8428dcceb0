// Package modelmeta is the model catalog: per-model provider family, context
// limits and pricing. Pricing feeds the cost estimate on usage reports; the
// catalog also backs the models listing endpoint.
package modelmeta

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/finsight/reportstream/internal/chat"
)

// Entry describes one model.
type Entry struct {
	Model         string  `json:"model"`
	Provider      string  `json:"provider"`
	DisplayName   string  `json:"display_name,omitempty"`
	ContextTokens int     `json:"context_tokens,omitempty"`
	// Prices are USD per million tokens.
	InputPerMTok  float64 `json:"input_per_mtok,omitempty"`
	OutputPerMTok float64 `json:"output_per_mtok,omitempty"`
}

// Catalog holds model metadata with simple lookups. Safe for concurrent use.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCatalog returns a catalog seeded with the built-in model table.
func NewCatalog() *Catalog {
	c := &Catalog{entries: make(map[string]Entry)}
	for _, e := range builtinEntries() {
		c.entries[strings.ToLower(e.Model)] = e
	}
	return c
}

// Load overlays entries from a JSON file (an array of Entry objects).
// Returns the number of entries loaded.
func (c *Catalog) Load(path string) (int, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("modelmeta: empty path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var entries []Entry
	if err := json.Unmarshal(b, &entries); err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if e.Model == "" {
			continue
		}
		c.entries[strings.ToLower(e.Model)] = e
	}
	return len(entries), nil
}

// Lookup returns the entry for a model id.
func (c *Catalog) Lookup(model string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[strings.ToLower(strings.TrimSpace(model))]
	return e, ok
}

// List returns all entries sorted by model id.
func (c *Catalog) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Model < out[j].Model })
	return out
}

// EstimateCost prices a usage report in USD; zero when the model or its
// pricing is unknown.
func (c *Catalog) EstimateCost(model string, usage chat.UsageReport) float64 {
	e, ok := c.Lookup(model)
	if !ok {
		return 0
	}
	const mtok = 1_000_000
	return float64(usage.InputTokens)/mtok*e.InputPerMTok +
		float64(usage.OutputTokens)/mtok*e.OutputPerMTok
}

func builtinEntries() []Entry {
	return []Entry{
		{Model: "claude-3-5-sonnet-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Sonnet", ContextTokens: 200_000, InputPerMTok: 3, OutputPerMTok: 15},
		{Model: "claude-3-5-haiku-20241022", Provider: "anthropic", DisplayName: "Claude 3.5 Haiku", ContextTokens: 200_000, InputPerMTok: 0.8, OutputPerMTok: 4},
		{Model: "claude-3-opus-20240229", Provider: "anthropic", DisplayName: "Claude 3 Opus", ContextTokens: 200_000, InputPerMTok: 15, OutputPerMTok: 75},
		{Model: "gpt-4o", Provider: "openai", DisplayName: "GPT-4o", ContextTokens: 128_000, InputPerMTok: 2.5, OutputPerMTok: 10},
		{Model: "gpt-4o-mini", Provider: "openai", DisplayName: "GPT-4o mini", ContextTokens: 128_000, InputPerMTok: 0.15, OutputPerMTok: 0.6},
		{Model: "gpt-4-turbo", Provider: "openai", DisplayName: "GPT-4 Turbo", ContextTokens: 128_000, InputPerMTok: 10, OutputPerMTok: 30},
		{Model: "gemini-1.5-pro", Provider: "google", DisplayName: "Gemini 1.5 Pro", ContextTokens: 2_000_000, InputPerMTok: 1.25, OutputPerMTok: 5},
		{Model: "gemini-1.5-flash", Provider: "google", DisplayName: "Gemini 1.5 Flash", ContextTokens: 1_000_000, InputPerMTok: 0.075, OutputPerMTok: 0.3},
		{Model: "llama-3.3-70b-versatile", Provider: "groq", DisplayName: "Llama 3.3 70B", ContextTokens: 128_000, InputPerMTok: 0.59, OutputPerMTok: 0.79},
		{Model: "mixtral-8x7b-32768", Provider: "groq", DisplayName: "Mixtral 8x7B", ContextTokens: 32_768, InputPerMTok: 0.24, OutputPerMTok: 0.24},
	}
}
