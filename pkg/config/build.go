package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polisai/polis-safety/pkg/action"
	"github.com/polisai/polis-safety/pkg/capability"
	"github.com/polisai/polis-safety/pkg/domain"
	"github.com/polisai/polis-safety/pkg/policy"
	"github.com/polisai/polis-safety/pkg/policy/builtin"
	"github.com/polisai/polis-safety/pkg/rule"
	"github.com/polisai/polis-safety/pkg/telemetry"
)

// Dependencies are the collaborators Build binds into policies.
type Dependencies struct {
	// Capabilities may be nil when no policy needs one.
	Capabilities capability.Provider
	Registry     *builtin.Registry
	Logger       *slog.Logger
	Recorder     telemetry.Recorder
	// Timeout bounds each capability call; zero uses the capability config timeout.
	Timeout time.Duration
}

// Build turns the policy declarations of cfg into bound policies, in order.
func Build(ctx context.Context, cfg *Config, deps Dependencies) ([]*policy.Policy, error) {
	if deps.Registry == nil {
		deps.Registry = builtin.Default()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Timeout == 0 {
		deps.Timeout = cfg.Capability.Timeout
	}

	policies := make([]*policy.Policy, 0, len(cfg.Policies))
	for i := range cfg.Policies {
		spec := &cfg.Policies[i]
		if err := spec.Validate(); err != nil {
			return nil, fmt.Errorf("policy %d: %w", i, err)
		}
		p, err := buildPolicy(ctx, spec, deps)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", spec.DisplayName(), err)
		}
		policies = append(policies, p)
	}
	return policies, nil
}

func buildPolicy(ctx context.Context, spec *PolicySpec, deps Dependencies) (*policy.Policy, error) {
	if spec.NeedsCapability() && deps.Capabilities == nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, capability.ErrNotConfigured)
	}

	if spec.Builtin != "" {
		bd := builtin.Deps{
			Language: spec.Language,
			Timeout:  deps.Timeout,
			Logger:   deps.Logger,
			Recorder: deps.Recorder,
		}
		if deps.Capabilities != nil {
			bd.Finder = deps.Capabilities
			bd.Explainer = deps.Capabilities
			bd.Detector = deps.Capabilities
		}
		return deps.Registry.Build(spec.Builtin, bd)
	}

	r, err := buildRule(ctx, spec, deps)
	if err != nil {
		return nil, err
	}
	a, err := buildAction(spec, deps)
	if err != nil {
		return nil, err
	}

	opts := policy.Options{
		Name:          spec.Name,
		Description:   spec.Description,
		Rule:          r,
		Action:        a,
		Language:      spec.Language,
		DetectTimeout: deps.Timeout,
		Logger:        deps.Logger,
		Recorder:      deps.Recorder,
	}
	if deps.Capabilities != nil {
		opts.Detector = deps.Capabilities
	}
	return policy.New(opts)
}

func buildRule(ctx context.Context, spec *PolicySpec, deps Dependencies) (rule.Rule, error) {
	rs := spec.Rule
	name := rs.Name
	if name == "" {
		name = spec.Name + ".rule"
	}
	var scorer rule.Scorer
	if rs.Step > 0 {
		scorer = rule.Linear{Step: rs.Step}
	}

	switch strings.ToLower(rs.Type) {
	case RuleKeyword:
		return rule.NewKeywordRule(rule.KeywordConfig{
			Name:            name,
			Description:     spec.Description,
			ContentType:     rs.ContentType,
			DefaultLanguage: rs.Language,
			Keywords:        rule.KeywordSet(rs.Keywords),
			Scorer:          scorer,
		})
	case RulePattern:
		patterns := make([]rule.Pattern, 0, len(rs.Patterns))
		for _, p := range rs.Patterns {
			patterns = append(patterns, rule.Pattern{Name: p.Name, Expr: p.Expr})
		}
		return rule.NewPatternRule(rule.PatternConfig{
			Name:        name,
			Description: spec.Description,
			ContentType: rs.ContentType,
			Language:    rs.Language,
			Patterns:    patterns,
			Scorer:      scorer,
		})
	case RuleFinder:
		return rule.NewFinderRule(rule.FinderConfig{
			Name:        name,
			Description: spec.Description,
			ContentType: rs.ContentType,
			Language:    rs.Language,
			Goal:        rs.Goal,
			Finder:      deps.Capabilities,
			Confidence:  rs.Confidence,
			Timeout:     deps.Timeout,
		})
	case RuleRego:
		return rule.NewRegoRule(ctx, rule.RegoConfig{
			Name:            name,
			Description:     spec.Description,
			ContentType:     rs.ContentType,
			DefaultLanguage: rs.Language,
			Modules:         rs.Modules,
			Query:           rs.Query,
			Scorer:          scorer,
		})
	default:
		return nil, fmt.Errorf("%w: unknown rule type %q", domain.ErrInvalidConfig, rs.Type)
	}
}

func buildAction(spec *PolicySpec, deps Dependencies) (action.Action, error) {
	as := spec.Action
	name := as.Name
	if name == "" {
		name = spec.Name + ".action"
	}
	cfg := action.Config{
		Name:        name,
		Description: spec.Description,
		Kind:        as.Kind(),
		Threshold:   as.Threshold,
		Placeholder: as.Placeholder,
		Logger:      deps.Logger,
	}
	switch {
	case as.Explained:
		cfg.Message = action.ExplainedMessage{
			Explainer: deps.Capabilities,
			Timeout:   deps.Timeout,
			Logger:    deps.Logger,
		}
	case as.Message != "":
		cfg.Message = action.StaticMessage(as.Message)
	}
	if as.Seed != nil {
		cfg.Source = action.SeededSource(*as.Seed)
	}
	return action.New(cfg)
}
