package rule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/polisai/polis-safety/pkg/capability"
	"github.com/polisai/polis-safety/pkg/domain"
)

// FinderConfig configures a capability-augmented rule.
type FinderConfig struct {
	Name        string
	Description string
	ContentType string
	Language    string
	// Goal is the detection goal handed to the span finder,
	// e.g. "cryptocurrency related keywords".
	Goal   string
	Finder capability.SpanFinder
	// Confidence reported when any span is found. Zero selects DefaultFinderConfidence.
	Confidence float64
	// Timeout bounds each capability call. Zero leaves the caller's deadline in charge.
	Timeout time.Duration
}

// FinderRule delegates detection to an external span finder. Its confidence
// is binary: Confidence when any span is located in the input, 0 otherwise.
type FinderRule struct {
	meta    Metadata
	goal    string
	finder  capability.SpanFinder
	scorer  Scorer
	timeout time.Duration
}

// NewFinderRule validates cfg and returns a FinderRule.
func NewFinderRule(cfg FinderConfig) (*FinderRule, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("rule: %w: finder rule name is required", domain.ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Goal) == "" {
		return nil, fmt.Errorf("rule: %w: finder rule %s requires a goal", domain.ErrInvalidConfig, name)
	}
	if cfg.Finder == nil {
		return nil, fmt.Errorf("rule: %w: finder rule %s: span finder %v", domain.ErrInvalidConfig, name, capability.ErrNotConfigured)
	}
	confidence := cfg.Confidence
	if confidence == 0 {
		confidence = DefaultFinderConfidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("rule: %w: finder rule %s confidence %v outside [0,1]", domain.ErrInvalidConfig, name, confidence)
	}

	return &FinderRule{
		meta: Metadata{
			Name:        name,
			Description: cfg.Description,
			Language:    cfg.Language,
			ContentType: cfg.ContentType,
		},
		goal:    cfg.Goal,
		finder:  cfg.Finder,
		scorer:  Fixed{Value: confidence},
		timeout: cfg.Timeout,
	}, nil
}

// Metadata implements Rule.
func (r *FinderRule) Metadata() Metadata { return r.meta }

// Process implements Rule. Capability failures, timeouts and cancellation
// surface as domain.ErrDetectionUnavailable and never as a zero-confidence result.
func (r *FinderRule) Process(ctx context.Context, input domain.PolicyInput) (domain.RuleOutput, error) {
	if len(input.Texts) == 0 {
		if err := ctx.Err(); err != nil {
			return domain.RuleOutput{}, domain.Unavailable(err)
		}
		return domain.NoMatch(r.meta.ContentType, "no text to inspect"), nil
	}

	spans, err := capability.Call(ctx, r.timeout, func(ctx context.Context) ([]string, error) {
		return r.finder.FindSpans(ctx, r.goal, input)
	})
	if err != nil {
		return domain.RuleOutput{}, fmt.Errorf("rule %s: %w", r.meta.Name, err)
	}

	triggered := locateSpans(input, spans).values()
	if len(triggered) == 0 {
		return domain.NoMatch(r.meta.ContentType, fmt.Sprintf("no spans found for %q", r.goal)), nil
	}
	details := fmt.Sprintf("span finder located %d span(s) for %q", len(triggered), r.goal)
	return output(r.meta.ContentType, details, r.scorer.Score(len(triggered)), triggered), nil
}
