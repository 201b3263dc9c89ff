package routing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/multimodel-ai/intelligent-proxy/internal/health"
	"github.com/multimodel-ai/intelligent-proxy/internal/metrics"
	"github.com/multimodel-ai/intelligent-proxy/internal/registry"
	"github.com/multimodel-ai/intelligent-proxy/internal/types"
)

// ErrNoProvidersAvailable is returned when every configured provider is
// rate limited or in an error state.
var ErrNoProvidersAvailable = errors.New("no providers available")

// maxFallbacks bounds the fallback list per decision.
const maxFallbacks = 3

// Engine turns a model request into a routing decision: it refreshes
// health, filters out unusable providers, scores the rest under the
// active strategy, and assembles the primary plus ordered fallbacks.
// The engine keeps no per-request state; only the strategy is mutable,
// behind a lock, for runtime swaps.
type Engine struct {
	registry *registry.Registry
	tracker  *health.Tracker
	logger   *logrus.Logger

	mu     sync.RWMutex
	scorer Scorer

	// modelAvailable reports whether a provider currently serves a
	// model. Defaults to always true; replaceable when a provider
	// publishes model availability.
	modelAvailable func(provider, model string) bool
}

// NewEngine creates a routing engine with the given strategy.
func NewEngine(reg *registry.Registry, tracker *health.Tracker, strategy Strategy, logger *logrus.Logger) (*Engine, error) {
	scorer, err := ScorerFor(strategy)
	if err != nil {
		return nil, err
	}

	return &Engine{
		registry:       reg,
		tracker:        tracker,
		logger:         logger,
		scorer:         scorer,
		modelAvailable: func(string, string) bool { return true },
	}, nil
}

// Strategy returns the active routing strategy.
func (e *Engine) Strategy() Strategy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.scorer.Strategy()
}

// SetStrategy swaps the active routing strategy.
func (e *Engine) SetStrategy(strategy Strategy) error {
	scorer, err := ScorerFor(strategy)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.scorer = scorer
	e.mu.Unlock()

	e.logger.WithField("strategy", strategy).Info("Routing strategy updated")
	return nil
}

// candidate is one scored provider with its mapped model.
type candidate struct {
	name        string
	model       string
	cost        float64
	score       float64
	avgResponse float64 // seconds
}

// Route produces a Decision for the requested model. Providers that are
// rate limited or in an error state are excluded entirely; the remainder
// are ranked by the active strategy. Given identical health state and
// inputs, Route always returns the same decision.
func (e *Engine) Route(ctx context.Context, requestedModel string, req *types.MessageRequest, prefs *types.Preferences) (*Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.tracker.RefreshAll()

	e.mu.RLock()
	scorer := e.scorer
	e.mu.RUnlock()

	var messages []types.Message
	if req != nil {
		messages = req.Messages
	}

	candidates := e.scoreCandidates(scorer, requestedModel, messages, prefs)
	if len(candidates) == 0 {
		return nil, ErrNoProvidersAvailable
	}

	// Descending by score; ties broken by name so ranking is stable.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].name < candidates[j].name
	})

	best := candidates[0]

	fallbacks := make([]Fallback, 0, maxFallbacks)
	for _, c := range candidates[1:] {
		if len(fallbacks) == maxFallbacks {
			break
		}
		fallbacks = append(fallbacks, Fallback{Provider: c.name, Model: c.model})
	}

	decision := &Decision{
		SelectedProvider: best.name,
		SelectedModel:    best.model,
		Reasoning:        e.reasoning(scorer.Strategy(), best),
		Fallbacks:        fallbacks,
		EstimatedCost:    best.cost,
		EstimatedDelay:   time.Duration(best.avgResponse * float64(time.Second)),
	}

	metrics.RouteDecisions.WithLabelValues(string(scorer.Strategy()), best.name).Inc()

	e.logger.WithFields(logrus.Fields{
		"strategy":       scorer.Strategy(),
		"provider":       decision.SelectedProvider,
		"model":          decision.SelectedModel,
		"estimated_cost": decision.EstimatedCost,
		"fallbacks":      len(decision.Fallbacks),
	}).Info("Routing decision made")

	return decision, nil
}

// scoreCandidates filters to usable providers and scores each one. The
// registry's sorted name order keeps iteration deterministic.
func (e *Engine) scoreCandidates(scorer Scorer, requestedModel string, messages []types.Message, prefs *types.Preferences) []candidate {
	var candidates []candidate

	for _, name := range e.registry.Names() {
		snap, ok := e.tracker.Health(name)
		if !ok {
			continue
		}
		if snap.Status != health.StatusAvailable && snap.Status != health.StatusOverloaded {
			continue
		}

		p, _ := e.registry.Get(name)
		model := p.SelectModel(requestedModel)

		in := ScoreInput{
			SelectedModel:  model,
			EstimatedCost:  EstimateCost(p, messages),
			Approaching:    e.tracker.IsApproachingLimit(name),
			ModelAvailable: e.modelAvailable(name, model),
			Preferences:    prefs,
		}

		candidates = append(candidates, candidate{
			name:        name,
			model:       model,
			cost:        in.EstimatedCost,
			score:       scorer.Score(p, snap, in),
			avgResponse: snap.AvgResponseTime,
		})
	}

	return candidates
}

func (e *Engine) reasoning(strategy Strategy, best candidate) string {
	switch strategy {
	case StrategyCost:
		return fmt.Sprintf("Cost optimization: $%.4f", best.cost)
	case StrategyPerformance:
		return fmt.Sprintf("Performance optimization: score=%.2f", best.score)
	case StrategyAvailability:
		return fmt.Sprintf("Availability optimization: score=%.2f", best.score)
	default:
		return fmt.Sprintf("Intelligent routing: score=%.2f, factors=rate_limits+cost+performance", best.score)
	}
}
