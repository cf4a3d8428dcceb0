package registry

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/finsight/reportstream/internal/adapter"
)

// ErrUnknownModel reports a model id that matches no registered route. It is
// a configuration error, distinct from a missing credential.
var ErrUnknownModel = errors.New("registry: unknown model")

// MissingCredentialError reports that the route matched but the caller has no
// credential for the selected provider. Maps to a 4xx at the HTTP boundary.
type MissingCredentialError struct {
	Provider string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("registry: no %s credential configured", e.Provider)
}

// Credentials holds one caller's provider secrets, fetched once per request.
type Credentials map[string]string

// Factory constructs an adapter for a provider from a caller credential.
type Factory func(secret string) (adapter.StreamingAdapter, error)

// Resolution names the provider that won route selection alongside the
// adapter bound to the caller's credential.
type Resolution struct {
	Provider string
	Adapter  adapter.StreamingAdapter
}

// route is one pattern => provider rule.
type route struct {
	pattern  string
	provider string
}

// Registry maps logical model ids to vendor families. Routes and factories
// are registered once at startup; Resolve is safe for concurrent use.
// Wildcard rules keep registration order so overlapping patterns resolve the
// same way in every process.
type Registry struct {
	mu           sync.RWMutex
	factories    map[string]Factory
	exact        map[string]string // model id -> provider name
	wildcards    []route
	defaultModel string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		exact:     make(map[string]string),
	}
}

// RegisterProvider registers an adapter factory under a provider name.
func (r *Registry) RegisterProvider(name string, factory Factory) error {
	if name == "" {
		return errors.New("registry: provider name cannot be empty")
	}
	if factory == nil {
		return errors.New("registry: factory cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
	return nil
}

// RegisterRoute maps a model pattern to a provider. Patterns support exact
// match ("claude-3-5-sonnet-20241022"), prefix ("claude-*"), suffix
// ("*-instruct") and contains ("*llama*") forms. When several wildcard
// patterns match a model, the first one registered wins.
func (r *Registry) RegisterRoute(modelPattern, provider string) error {
	if modelPattern == "" {
		return errors.New("registry: model pattern cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[provider]; !ok {
		return fmt.Errorf("registry: provider %q not registered", provider)
	}
	pattern := strings.ToLower(modelPattern)
	if !strings.Contains(pattern, "*") {
		r.exact[pattern] = provider
		return nil
	}
	for i, rule := range r.wildcards {
		if rule.pattern == pattern {
			r.wildcards[i].provider = provider
			return nil
		}
	}
	r.wildcards = append(r.wildcards, route{pattern: pattern, provider: provider})
	return nil
}

// SetDefaultModel sets the model used when a request names none at all.
func (r *Registry) SetDefaultModel(model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultModel = model
}

// DefaultModel returns the configured default model, or "".
func (r *Registry) DefaultModel() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultModel
}

// Resolve selects a provider for the model id and binds it to the caller's
// credential. An empty model id falls back to the configured default; an id
// that matches nothing is ErrUnknownModel, never a silent default.
func (r *Registry) Resolve(modelID string, creds Credentials) (Resolution, error) {
	model := strings.ToLower(strings.TrimSpace(modelID))
	if model == "" {
		model = strings.ToLower(r.DefaultModel())
		if model == "" {
			return Resolution{}, fmt.Errorf("%w: no model specified and no default configured", ErrUnknownModel)
		}
	}

	provider, err := r.findProvider(model)
	if err != nil {
		return Resolution{}, err
	}

	secret := strings.TrimSpace(creds[provider])
	if secret == "" {
		return Resolution{}, &MissingCredentialError{Provider: provider}
	}

	r.mu.RLock()
	factory := r.factories[provider]
	r.mu.RUnlock()

	a, err := factory(secret)
	if err != nil {
		return Resolution{}, fmt.Errorf("registry: build %s adapter: %w", provider, err)
	}
	return Resolution{Provider: provider, Adapter: a}, nil
}

func (r *Registry) findProvider(model string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// Exact match first, then wildcards in registration order.
	if provider, ok := r.exact[model]; ok {
		return provider, nil
	}
	for _, rule := range r.wildcards {
		if matchPattern(model, rule.pattern) {
			return rule.provider, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownModel, model)
}

// matchPattern checks a lowercase model against a lowercase route pattern.
func matchPattern(model, pattern string) bool {
	if model == pattern {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return false
	}
	switch {
	case strings.HasSuffix(pattern, "*") && !strings.HasPrefix(pattern, "*"):
		return strings.HasPrefix(model, strings.TrimSuffix(pattern, "*"))
	case strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*"):
		return strings.HasSuffix(model, strings.TrimPrefix(pattern, "*"))
	case strings.HasPrefix(pattern, "*") && strings.HasSuffix(pattern, "*"):
		return strings.Contains(model, strings.Trim(pattern, "*"))
	}
	return false
}

// ListProviders returns all registered provider names.
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// ListRoutes returns a copy of the registered routes.
func (r *Registry) ListRoutes() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	routes := make(map[string]string, len(r.exact)+len(r.wildcards))
	for p, a := range r.exact {
		routes[p] = a
	}
	for _, rule := range r.wildcards {
		routes[rule.pattern] = rule.provider
	}
	return routes
}
