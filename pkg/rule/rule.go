// Package rule implements the detection side of a policy: rules inspect a
// PolicyInput and emit a confidence-scored RuleOutput.
//
// Rules hold only read-only state after construction (compiled matchers,
// keyword lists, prepared queries) so one instance can serve concurrent
// executions. Per-call state lives on the stack of Process.
package rule

import (
	"context"
	"math"

	"github.com/polisai/polis-safety/pkg/domain"
)

// Rule detects a policy-relevant pattern in the input.
type Rule interface {
	Metadata() Metadata
	Process(ctx context.Context, input domain.PolicyInput) (domain.RuleOutput, error)
}

// Localizer is implemented by rules with locale-specific behaviour. Localize
// returns a view of the rule bound to lang; unknown languages fall back to the
// rule's default language.
type Localizer interface {
	Localize(lang string) Rule
}

// Metadata identifies a rule for logging and selection.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Language    string `json:"language,omitempty"`
	ContentType string `json:"content_type"`
}

// Scorer maps a count of independent pieces of evidence to a confidence. It
// must be non-decreasing in evidence and bounded to [0, 1].
type Scorer interface {
	Score(evidence int) float64
}

// DefaultStep is the per-keyword confidence increment of the reference keyword detector.
const DefaultStep = 0.3

// DefaultFinderConfidence is the confidence reported by capability-backed rules on any match.
const DefaultFinderConfidence = 0.9

// Linear adds Step per piece of evidence, capped at 1.0. Scores are rounded to
// nine decimals so 3 x 0.3 compares equal to a 0.9 threshold.
type Linear struct {
	Step float64
}

// Score implements Scorer.
func (l Linear) Score(evidence int) float64 {
	if evidence <= 0 || l.Step <= 0 {
		return 0
	}
	raw := math.Min(1.0, float64(evidence)*l.Step)
	return domain.ClampConfidence(math.Round(raw*1e9) / 1e9)
}

// Fixed reports Value whenever there is any evidence.
type Fixed struct {
	Value float64
}

// Score implements Scorer.
func (f Fixed) Score(evidence int) float64 {
	if evidence <= 0 {
		return 0
	}
	return domain.ClampConfidence(f.Value)
}

func scorerOrDefault(s Scorer) Scorer {
	if s == nil {
		return Linear{Step: DefaultStep}
	}
	return s
}
