package routing

import (
	"fmt"

	"github.com/multimodel-ai/intelligent-proxy/internal/health"
	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/types"
)

// Strategy selects the scoring policy used to rank providers.
type Strategy string

const (
	StrategyIntelligent  Strategy = "intelligent"
	StrategyCost         Strategy = "cost"
	StrategyPerformance  Strategy = "performance"
	StrategyAvailability Strategy = "availability"
)

// ParseStrategy validates a strategy name.
func ParseStrategy(name string) (Strategy, error) {
	switch Strategy(name) {
	case StrategyIntelligent, StrategyCost, StrategyPerformance, StrategyAvailability:
		return Strategy(name), nil
	default:
		return "", fmt.Errorf("invalid routing strategy: %s", name)
	}
}

// ScoreInput carries the per-candidate facts the engine computes before
// scoring: the mapped model, estimated cost, and current limit proximity.
type ScoreInput struct {
	SelectedModel  string
	EstimatedCost  float64
	Approaching    bool
	ModelAvailable bool
	Preferences    *types.Preferences
}

// Scorer ranks a provider for the active strategy. Higher is better.
// Implementations must be pure functions of their inputs so repeated
// routing calls over identical health state rank identically.
type Scorer interface {
	Strategy() Strategy
	Score(p *registry.Provider, snap health.Snapshot, in ScoreInput) float64
}

// ScorerFor returns the scorer implementing the given strategy.
func ScorerFor(strategy Strategy) (Scorer, error) {
	switch strategy {
	case StrategyIntelligent:
		return intelligentScorer{}, nil
	case StrategyCost:
		return costScorer{}, nil
	case StrategyPerformance:
		return performanceScorer{}, nil
	case StrategyAvailability:
		return availabilityScorer{}, nil
	default:
		return nil, fmt.Errorf("invalid routing strategy: %s", strategy)
	}
}

// statusFactor is the base health ladder shared by the intelligent
// scorer: available > overloaded > rate_limited > anything else.
func statusFactor(status health.Status) float64 {
	switch status {
	case health.StatusAvailable:
		return 1.0
	case health.StatusOverloaded:
		return 0.7
	case health.StatusRateLimited:
		return 0.3
	default:
		return 0.1
	}
}

// intelligentScorer is the full composite: priority base, then health,
// speed, success rate, cost, limit penalties, model availability, and
// user preference bonuses, applied in that fixed order.
type intelligentScorer struct{}

func (intelligentScorer) Strategy() Strategy { return StrategyIntelligent }

func (intelligentScorer) Score(p *registry.Provider, snap health.Snapshot, in ScoreInput) float64 {
	score := float64(p.Priority) / 10.0

	score *= statusFactor(snap.Status)

	if snap.AvgResponseTime > 0 {
		score *= maxFloat(0.5, 2.0/(1+snap.AvgResponseTime))
	}

	if snap.SuccessCount+snap.ErrorCount > 0 {
		score *= snap.SuccessRate()
	}

	score *= maxFloat(0.5, 1.0/(1+in.EstimatedCost))

	if in.Approaching {
		score *= 0.3
	} else if snap.Status == health.StatusRateLimited {
		score *= 0.1
	}

	if !in.ModelAvailable {
		score *= 0.2
	}

	if prefs := in.Preferences; prefs != nil {
		if prefs.PreferFast && snap.AvgResponseTime < 2.0 {
			score *= 1.2
		}
		if prefs.PreferCheap {
			score *= 1.0 / p.CostMultiplier
		}
		if prefs.PreferredProvider == p.Name {
			score *= 1.5
		}
	}

	return score
}

// costScorer ranks purely by estimated cost; cheaper ranks higher.
type costScorer struct{}

func (costScorer) Strategy() Strategy { return StrategyCost }

func (costScorer) Score(p *registry.Provider, snap health.Snapshot, in ScoreInput) float64 {
	return -in.EstimatedCost
}

// performanceScorer ranks by response speed weighted by success rate.
type performanceScorer struct{}

func (performanceScorer) Strategy() Strategy { return StrategyPerformance }

func (performanceScorer) Score(p *registry.Provider, snap health.Snapshot, in ScoreInput) float64 {
	score := 1.0
	if snap.AvgResponseTime > 0 {
		score = 10.0 / (1 + snap.AvgResponseTime)
	}

	if snap.SuccessCount+snap.ErrorCount > 0 {
		score *= snap.SuccessRate()
	}

	return score
}

// availabilityScorer ranks by the health-state ladder, with a bonus for
// providers whose most recent outcome was a success.
type availabilityScorer struct{}

func (availabilityScorer) Strategy() Strategy { return StrategyAvailability }

func (availabilityScorer) Score(p *registry.Provider, snap health.Snapshot, in ScoreInput) float64 {
	var score float64
	switch snap.Status {
	case health.StatusAvailable:
		score = 1.0
	case health.StatusOverloaded:
		score = 0.5
	case health.StatusRateLimited:
		score = 0.2
	default:
		score = 0.1
	}

	if !snap.LastSuccess.IsZero() && !snap.LastError.IsZero() && snap.LastSuccess.After(snap.LastError) {
		score *= 1.2
	}

	return score
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
