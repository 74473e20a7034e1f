package rule

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/polisai/polis-safety/internal/textmatch"
	"github.com/polisai/polis-safety/pkg/domain"
)

// Pattern declares a named regular expression.
type Pattern struct {
	Name string
	Expr string
}

// PatternConfig configures a PatternRule.
type PatternConfig struct {
	Name        string
	Description string
	ContentType string
	Language    string
	Patterns    []Pattern
	// Scorer maps distinct matched values to confidence. Nil selects
	// Linear{Step: DefaultStep}.
	Scorer Scorer
}

// PatternRule applies regular expressions to each text item. Every distinct
// matched value is one piece of evidence.
type PatternRule struct {
	meta     Metadata
	patterns []compiledPattern
	scorer   Scorer
}

// compiledPattern is an internal representation of a Pattern with a compiled regex.
type compiledPattern struct {
	name string
	expr *regexp.Regexp
}

// NewPatternRule compiles cfg into a PatternRule.
func NewPatternRule(cfg PatternConfig) (*PatternRule, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("rule: %w: pattern rule name is required", domain.ErrInvalidConfig)
	}
	if len(cfg.Patterns) == 0 {
		return nil, fmt.Errorf("rule: %w: pattern rule %s has no patterns", domain.ErrInvalidConfig, name)
	}
	if l, ok := cfg.Scorer.(Linear); ok && l.Step <= 0 {
		return nil, fmt.Errorf("rule: %w: pattern rule %s step must be positive", domain.ErrInvalidConfig, name)
	}

	compiled := make([]compiledPattern, 0, len(cfg.Patterns))
	for i, p := range cfg.Patterns {
		pname := strings.TrimSpace(p.Name)
		if pname == "" {
			pname = fmt.Sprintf("%s[%d]", name, i)
		}
		src := strings.TrimSpace(p.Expr)
		if src == "" {
			return nil, fmt.Errorf("rule: %w: pattern is required for %s", domain.ErrInvalidConfig, pname)
		}
		expr, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("rule: invalid pattern for %s: %w", pname, err)
		}
		compiled = append(compiled, compiledPattern{name: pname, expr: expr})
	}

	return &PatternRule{
		meta: Metadata{
			Name:        name,
			Description: cfg.Description,
			Language:    cfg.Language,
			ContentType: cfg.ContentType,
		},
		patterns: compiled,
		scorer:   scorerOrDefault(cfg.Scorer),
	}, nil
}

// Metadata implements Rule.
func (r *PatternRule) Metadata() Metadata { return r.meta }

// Process implements Rule.
func (r *PatternRule) Process(ctx context.Context, input domain.PolicyInput) (domain.RuleOutput, error) {
	if err := ctx.Err(); err != nil {
		return domain.RuleOutput{}, err
	}
	if len(input.Texts) == 0 {
		return domain.NoMatch(r.meta.ContentType, "no text to inspect"), nil
	}

	ev := newEvidence()
	protected := protectedRanges(input)
	for i, text := range input.Texts {
		var found []textmatch.Match
		for _, p := range r.patterns {
			for _, loc := range p.expr.FindAllStringIndex(text, -1) {
				if loc[0] == loc[1] || !textmatch.Bounded(text, loc[0], loc[1]) {
					continue
				}
				m := textmatch.Match{Start: loc[0], End: loc[1], Text: text[loc[0]:loc[1]]}
				if textmatch.Overlaps(m, protected[i]) {
					continue
				}
				found = append(found, m)
			}
		}
		// Overlapping hits from different patterns are one value.
		for _, m := range textmatch.Resolve(found) {
			ev.add(i, m.Start, m.Text)
		}
	}

	triggered := ev.values()
	if len(triggered) == 0 {
		return domain.NoMatch(r.meta.ContentType, fmt.Sprintf("no %s values found", r.meta.Name)), nil
	}
	details := fmt.Sprintf("found %d %s value(s)", len(triggered), r.meta.Name)
	return output(r.meta.ContentType, details, r.scorer.Score(len(triggered)), triggered), nil
}
