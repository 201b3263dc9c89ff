package routing

import "time"

// Decision is the immutable result of one routing call: the primary
// provider/model pair plus an ordered fallback list. Created fresh per
// request and consumed once by the dispatch loop.
type Decision struct {
	// The selected provider and its provider-specific model id
	SelectedProvider string `json:"selected_provider"`
	SelectedModel    string `json:"selected_model"`

	// Human-readable reasoning for the decision
	Reasoning string `json:"reasoning"`

	// Ordered (provider, model) pairs to try when the primary fails.
	// Deduplicated, never contains the selected provider, at most
	// maxFallbacks entries.
	Fallbacks []Fallback `json:"fallback_options"`

	// Cost and pacing estimates
	EstimatedCost  float64       `json:"estimated_cost"`
	EstimatedDelay time.Duration `json:"estimated_delay"`
}

// Fallback is one alternate (provider, model) pair.
type Fallback struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Attempts returns the full ordered attempt list, primary first.
func (d *Decision) Attempts() []Fallback {
	attempts := make([]Fallback, 0, len(d.Fallbacks)+1)
	attempts = append(attempts, Fallback{Provider: d.SelectedProvider, Model: d.SelectedModel})
	attempts = append(attempts, d.Fallbacks...)
	return attempts
}
