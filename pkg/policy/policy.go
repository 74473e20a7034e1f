package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/polisai/polis-safety/internal/locale"
	"github.com/polisai/polis-safety/pkg/action"
	"github.com/polisai/polis-safety/pkg/capability"
	"github.com/polisai/polis-safety/pkg/domain"
	"github.com/polisai/polis-safety/pkg/rule"
	"github.com/polisai/polis-safety/pkg/telemetry"
)

const tracerName = "github.com/polisai/polis-safety/pkg/policy"

// Options configures a Policy.
type Options struct {
	Name        string
	Description string
	Rule        rule.Rule
	Action      action.Action
	// Language is empty (use the rule as configured), a fixed language code,
	// or "auto" to detect the language of each input with Detector.
	Language      string
	Detector      capability.LanguageDetector
	DetectTimeout time.Duration
	Logger        *slog.Logger
	// Recorder receives execution metrics. Nil selects telemetry.OTelRecorder.
	Recorder telemetry.Recorder
	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer
}

// Policy binds one rule to one action. It is immutable after construction and
// Execute may be called concurrently.
type Policy struct {
	name        string
	description string
	rule        rule.Rule
	action      action.Action
	language    string
	detector    capability.LanguageDetector
	timeout     time.Duration
	logger      *slog.Logger
	recorder    telemetry.Recorder
	tracer      trace.Tracer
}

// Result is the success triple of an execution: the detection result, the
// action metadata and the produced output.
type Result struct {
	ExecutionID string              `json:"execution_id"`
	Policy      string              `json:"policy"`
	Language    string              `json:"language,omitempty"`
	Rule        domain.RuleOutput   `json:"rule_output"`
	Action      domain.ActionOutput `json:"action_output"`
	Output      domain.PolicyOutput `json:"policy_output"`
}

// New validates opts and returns a Policy.
func New(opts Options) (*Policy, error) {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		return nil, fmt.Errorf("policy: %w: name is required", domain.ErrInvalidConfig)
	}
	if opts.Rule == nil {
		return nil, fmt.Errorf("policy: %w: %s has no rule", domain.ErrInvalidConfig, name)
	}
	if opts.Action == nil {
		return nil, fmt.Errorf("policy: %w: %s has no action", domain.ErrInvalidConfig, name)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := opts.Recorder
	if recorder == nil {
		recorder = telemetry.OTelRecorder{}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	p := &Policy{
		name:        name,
		description: opts.Description,
		rule:        opts.Rule,
		action:      opts.Action,
		detector:    opts.Detector,
		timeout:     opts.DetectTimeout,
		logger:      logger,
		recorder:    recorder,
		tracer:      tracer,
	}

	switch lang := strings.ToLower(strings.TrimSpace(opts.Language)); lang {
	case "":
		p.language = opts.Rule.Metadata().Language
	case locale.Auto:
		if opts.Detector == nil {
			return nil, fmt.Errorf("policy: %w: %s uses auto language without a detector: %v",
				domain.ErrInvalidConfig, name, capability.ErrNotConfigured)
		}
		p.language = locale.Auto
	default:
		code, err := locale.Normalize(lang)
		if err != nil {
			return nil, fmt.Errorf("policy: %w: %s: %v", domain.ErrInvalidConfig, name, err)
		}
		p.language = code
		p.rule = localize(opts.Rule, code)
	}

	return p, nil
}

// Name returns the policy name.
func (p *Policy) Name() string { return p.name }

// Description returns the policy description.
func (p *Policy) Description() string { return p.description }

// Language returns the configured language mode.
func (p *Policy) Language() string { return p.language }

// Rule returns the bound rule.
func (p *Policy) Rule() rule.Rule { return p.rule }

// Action returns the bound action.
func (p *Policy) Action() action.Action { return p.action }

// Execute runs the rule once and the action once on its result. BLOCK and
// RAISE outcomes, detection failures and cancellation are returned as errors
// and never as a Result. Failures are not retried.
func (p *Policy) Execute(ctx context.Context, input domain.PolicyInput) (Result, error) {
	start := time.Now()
	execID := uuid.NewString()

	ctx, span := p.tracer.Start(ctx, "policy.execute", trace.WithAttributes(
		attribute.String("policy.name", p.name),
		attribute.String("policy.execution_id", execID),
	))
	defer span.End()

	res, err := p.execute(ctx, input)
	res.ExecutionID = execID
	res.Policy = p.name

	transforms := res.Output.TransformationMap.Len()
	telemetry.RecordPolicyResult(span, telemetry.PolicyResult{
		Rule:            p.rule.Metadata().Name,
		Action:          res.Action.ActionTaken,
		ContentType:     res.Rule.ContentType,
		Language:        res.Language,
		Confidence:      res.Rule.Confidence,
		Triggered:       len(res.Rule.TriggeredKeywords),
		Transformations: transforms,
		Err:             err,
	})
	p.recorder.RecordPolicy(ctx, telemetry.PolicyMetrics{
		Policy:          p.name,
		Action:          res.Action.ActionTaken,
		ContentType:     res.Rule.ContentType,
		Language:        res.Language,
		Outcome:         telemetry.OutcomeOf(res.Action.ActionTaken, err),
		Duration:        time.Since(start),
		Transformations: transforms,
	})

	if err != nil {
		p.logger.Debug("policy execution failed",
			"policy", p.name,
			"execution_id", execID,
			"action_taken", res.Action.ActionTaken,
			"content_type", res.Rule.ContentType,
			"error", domain.ToErrorResponse(err).Code)
		return Result{}, err
	}

	p.logger.Debug("policy executed",
		"policy", p.name,
		"execution_id", execID,
		"action_taken", res.Action.ActionTaken,
		"confidence", res.Rule.Confidence,
		"content_type", res.Rule.ContentType,
		"triggered", len(res.Rule.TriggeredKeywords),
		"transformations", transforms)
	return res, nil
}

func (p *Policy) execute(ctx context.Context, input domain.PolicyInput) (Result, error) {
	var res Result

	r, lang, err := p.resolveRule(ctx, input)
	if err != nil {
		return res, err
	}
	res.Language = lang

	ruleOut, err := r.Process(ctx, input)
	if err != nil {
		return res, fmt.Errorf("policy %s: %w", p.name, err)
	}
	ruleOut.Confidence = domain.ClampConfidence(ruleOut.Confidence)
	if ruleOut.TriggeredKeywords == nil {
		ruleOut.TriggeredKeywords = []string{}
	}
	res.Rule = ruleOut

	out, err := p.action.Apply(ctx, input, ruleOut)
	res.Action = out.Action
	if err != nil {
		return res, err
	}
	if out.Action.ActionTaken.Stops() {
		return res, fmt.Errorf("policy %s: action %s stopped content without an error",
			p.name, p.action.Metadata().Name)
	}
	res.Output = out
	return res, nil
}

// resolveRule returns the rule view for this input's language.
func (p *Policy) resolveRule(ctx context.Context, input domain.PolicyInput) (rule.Rule, string, error) {
	if p.language != locale.Auto {
		return p.rule, p.language, nil
	}
	if len(input.Texts) == 0 {
		return p.rule, p.rule.Metadata().Language, nil
	}

	code, err := capability.Call(ctx, p.timeout, func(ctx context.Context) (string, error) {
		return p.detector.DetectLanguage(ctx, input)
	})
	if err != nil {
		return nil, "", fmt.Errorf("policy %s: detect language: %w", p.name, err)
	}
	lang, err := locale.Normalize(code)
	if err != nil {
		return nil, "", fmt.Errorf("policy %s: detect language: %w", p.name, domain.Unavailable(err))
	}
	return localize(p.rule, lang), lang, nil
}

func localize(r rule.Rule, lang string) rule.Rule {
	if l, ok := r.(rule.Localizer); ok {
		return l.Localize(lang)
	}
	return r
}

// IsStopped reports whether err is a BLOCK or RAISE outcome.
func IsStopped(err error) bool {
	return errors.Is(err, domain.ErrDisallowedOperation) || errors.Is(err, domain.ErrComplianceViolation)
}
