package capability

import (
	"context"

	"github.com/polisai/polis-safety/internal/governance"
	"github.com/polisai/polis-safety/pkg/domain"
)

// Guarded wraps a Provider with a circuit breaker shared by all three
// capabilities. While the circuit is open calls fail fast with
// domain.ErrDetectionUnavailable wrapping governance.ErrCircuitOpen.
type Guarded struct {
	next    Provider
	breaker *governance.CircuitBreaker
}

var _ Provider = (*Guarded)(nil)

// NewGuarded returns next wrapped in a breaker built from cfg.
func NewGuarded(next Provider, cfg governance.CircuitBreakerConfig) *Guarded {
	return &Guarded{next: next, breaker: governance.NewCircuitBreaker(cfg)}
}

// State exposes the breaker state.
func (g *Guarded) State() governance.CircuitBreakerState {
	return g.breaker.State()
}

// FindSpans implements SpanFinder.
func (g *Guarded) FindSpans(ctx context.Context, goal string, input domain.PolicyInput) ([]string, error) {
	var spans []string
	err := g.run(ctx, func(ctx context.Context) error {
		var err error
		spans, err = g.next.FindSpans(ctx, goal, input)
		return err
	})
	return spans, err
}

// Explain implements Explainer.
func (g *Guarded) Explain(ctx context.Context, category string) (string, error) {
	var msg string
	err := g.run(ctx, func(ctx context.Context) error {
		var err error
		msg, err = g.next.Explain(ctx, category)
		return err
	})
	return msg, err
}

// DetectLanguage implements LanguageDetector.
func (g *Guarded) DetectLanguage(ctx context.Context, input domain.PolicyInput) (string, error) {
	var lang string
	err := g.run(ctx, func(ctx context.Context) error {
		var err error
		lang, err = g.next.DetectLanguage(ctx, input)
		return err
	})
	return lang, err
}

func (g *Guarded) run(ctx context.Context, fn func(context.Context) error) error {
	err := g.breaker.ExecuteContext(ctx, fn)
	if err == nil || domain.IsUnavailable(err) {
		return err
	}
	return domain.Unavailable(err)
}
