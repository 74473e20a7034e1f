// Package action implements the decision side of a policy. An action compares
// a rule's confidence with its threshold once per call and either passes the
// content through or applies its configured outcome: block, replace,
// anonymize or raise.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/polisai/polis-safety/pkg/domain"
)

// Action decides what happens to content given a detection result.
type Action interface {
	Metadata() Metadata
	Apply(ctx context.Context, input domain.PolicyInput, result domain.RuleOutput) (domain.PolicyOutput, error)
}

// Metadata identifies an action for logging and selection.
type Metadata struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Language    string             `json:"language,omitempty"`
	Kind        domain.ActionTaken `json:"kind"`
	Threshold   float64            `json:"threshold"`
}

// Config configures a Gate.
type Config struct {
	Name        string
	Description string
	Language    string
	// Kind is the outcome applied when confidence reaches Threshold. ALLOW is
	// accepted and yields an action that never alters content.
	Kind domain.ActionTaken
	// Threshold is inclusive and must lie in (0, 1].
	Threshold float64
	// Placeholder replaces triggered keywords for REPLACE. Empty selects DefaultPlaceholder.
	Placeholder string
	// Message renders the failure message for BLOCK and RAISE. Nil selects a
	// static default per kind.
	Message Message
	// Source seeds the synthetic value generator for ANONYMIZE. Nil selects a
	// randomly seeded source per call.
	Source SourceFunc
	Logger *slog.Logger
}

// DefaultPlaceholder is written by REPLACE when no placeholder is configured.
const DefaultPlaceholder = "[REDACTED]"

// Gate is the threshold-gated Action. It holds only configuration and is safe
// for concurrent use; transformation state is local to each Apply call.
type Gate struct {
	meta    Metadata
	outcome outcome
	logger  *slog.Logger
}

// outcome is the strategy applied once the threshold is reached.
type outcome interface {
	apply(ctx context.Context, input domain.PolicyInput, result domain.RuleOutput) (domain.PolicyOutput, error)
}

// New validates cfg and returns a Gate.
func New(cfg Config) (*Gate, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("action: %w: name is required", domain.ErrInvalidConfig)
	}
	if cfg.Threshold <= 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("action: %w: %s threshold %v outside (0,1]", domain.ErrInvalidConfig, name, cfg.Threshold)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var oc outcome
	switch cfg.Kind {
	case domain.ActionAllow:
		oc = allowOutcome{}
	case domain.ActionBlock:
		oc = stopOutcome{
			kind:    domain.ActionBlock,
			message: messageOrDefault(cfg.Message, DefaultBlockMessage),
			fail: func(msg, ct string) error {
				return domain.Disallowed(msg, ct)
			},
		}
	case domain.ActionRaise:
		oc = stopOutcome{
			kind:    domain.ActionRaise,
			message: messageOrDefault(cfg.Message, DefaultRaiseMessage),
			fail: func(msg, ct string) error {
				return domain.Violation(msg, ct)
			},
		}
	case domain.ActionReplace:
		placeholder := cfg.Placeholder
		if placeholder == "" {
			placeholder = DefaultPlaceholder
		}
		oc = replaceOutcome{placeholder: placeholder}
	case domain.ActionAnonymize:
		source := cfg.Source
		if source == nil {
			source = RandomSource
		}
		oc = anonymizeOutcome{source: source}
	default:
		return nil, fmt.Errorf("action: %w: %s has unknown kind %q", domain.ErrInvalidConfig, name, cfg.Kind)
	}

	return &Gate{
		meta: Metadata{
			Name:        name,
			Description: cfg.Description,
			Language:    cfg.Language,
			Kind:        cfg.Kind,
			Threshold:   cfg.Threshold,
		},
		outcome: oc,
		logger:  logger,
	}, nil
}

// Metadata implements Action.
func (g *Gate) Metadata() Metadata { return g.meta }

// Triggered reports whether result reaches the threshold.
func (g *Gate) Triggered(result domain.RuleOutput) bool {
	return domain.ClampConfidence(result.Confidence) >= g.meta.Threshold
}

// Apply implements Action. Below the threshold the input passes through with
// ALLOW. At or above it the configured outcome runs; BLOCK and RAISE return
// a stopped output together with a typed error.
func (g *Gate) Apply(ctx context.Context, input domain.PolicyInput, result domain.RuleOutput) (domain.PolicyOutput, error) {
	if err := ctx.Err(); err != nil {
		return domain.PolicyOutput{}, err
	}
	if !g.Triggered(result) {
		return domain.PassThrough(input, domain.ActionOutput{ActionTaken: domain.ActionAllow}), nil
	}
	out, err := g.outcome.apply(ctx, input, result)
	if err != nil {
		g.logger.Debug("action stopped content",
			"action", g.meta.Name,
			"action_taken", out.Action.ActionTaken,
			"content_type", result.ContentType)
	}
	return out, err
}

type allowOutcome struct{}

func (allowOutcome) apply(_ context.Context, input domain.PolicyInput, _ domain.RuleOutput) (domain.PolicyOutput, error) {
	return domain.PassThrough(input, domain.ActionOutput{ActionTaken: domain.ActionAllow}), nil
}

type stopOutcome struct {
	kind    domain.ActionTaken
	message Message
	fail    func(message, contentType string) error
}

func (o stopOutcome) apply(ctx context.Context, input domain.PolicyInput, result domain.RuleOutput) (domain.PolicyOutput, error) {
	msg := o.message.Render(ctx, result.ContentType)
	out := domain.Stopped(input, domain.ActionOutput{ActionTaken: o.kind, Message: msg})
	return out, o.fail(msg, result.ContentType)
}
