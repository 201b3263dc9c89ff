package registry

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// WireFormat identifies the API dialect a provider endpoint speaks.
type WireFormat string

const (
	WireAnthropic   WireFormat = "anthropic"
	WireOpenAI      WireFormat = "openai"
	WirePassthrough WireFormat = "passthrough"
)

// Provider is the static identity of a backend endpoint. Immutable after
// configuration load; mutable health state lives in the health tracker.
type Provider struct {
	Name                 string
	BaseURL              string
	Wire                 WireFormat
	PrimaryModel         string
	SecondaryModel       string
	MaxRequestsPerMinute int
	MaxTokensPerMinute   int
	CostMultiplier       float64
	Priority             int
	Timeout              time.Duration

	// ModelOverrides maps an exact requested model name to the provider
	// model id to use, taking precedence over the haiku-pattern rule.
	ModelOverrides map[string]string
}

// Registry holds the configured providers. It replaces the process-wide
// provider table of earlier designs: constructed once and passed by
// pointer to every component that needs it.
type Registry struct {
	providers map[string]*Provider
	names     []string
}

// New builds a registry from the given providers. Provider names must be
// unique and non-empty.
func New(providers []*Provider) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]*Provider, len(providers)),
	}

	for _, p := range providers {
		if p.Name == "" {
			return nil, fmt.Errorf("provider with empty name")
		}
		if _, exists := r.providers[p.Name]; exists {
			return nil, fmt.Errorf("duplicate provider %q", p.Name)
		}
		if p.CostMultiplier <= 0 {
			return nil, fmt.Errorf("provider %q: cost multiplier must be positive", p.Name)
		}
		r.providers[p.Name] = p
		r.names = append(r.names, p.Name)
	}

	// Deterministic iteration order for scoring and tie-breaking.
	sort.Strings(r.names)

	return r, nil
}

// Get returns a provider by name.
func (r *Registry) Get(name string) (*Provider, bool) {
	p, ok := r.providers[name]
	return p, ok
}

// Names returns all provider names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// Len returns the number of configured providers.
func (r *Registry) Len() int {
	return len(r.names)
}

// SelectModel maps a requested model name to the provider-specific model
// id. Exact-name overrides win; otherwise "haiku"-pattern requests map to
// the secondary (small) model and everything else to the primary.
func (p *Provider) SelectModel(requestedModel string) string {
	if mapped, ok := p.ModelOverrides[requestedModel]; ok {
		return mapped
	}
	if strings.Contains(strings.ToLower(requestedModel), "haiku") && p.SecondaryModel != "" {
		return p.SecondaryModel
	}
	return p.PrimaryModel
}
