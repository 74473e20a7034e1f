package rule

import (
	"context"
	"fmt"
	"sort"
	"strings"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"

	"github.com/polisai/polis-safety/internal/locale"
	"github.com/polisai/polis-safety/pkg/domain"
)

// DefaultRegoQuery is evaluated when RegoConfig.Query is empty.
const DefaultRegoQuery = "data.safety.triggered"

// RegoConfig configures a RegoRule.
type RegoConfig struct {
	Name            string
	Description     string
	ContentType     string
	DefaultLanguage string
	// Modules maps a module name to Rego v1 source.
	Modules map[string]string
	// Query must evaluate to a set or array of strings, e.g. "data.safety.triggered".
	Query string
	// Scorer maps distinct located spans to confidence. Nil selects Linear{Step: DefaultStep}.
	Scorer Scorer
}

// RegoRule expresses detection as policy-as-code. The query receives
// {"texts": [...], "language": "en"} as input and returns the offending
// strings, which are located in the input and reported as exact substrings.
type RegoRule struct {
	meta     Metadata
	query    string
	prepared *rego.PreparedEvalQuery
	scorer   Scorer
}

// NewRegoRule parses and prepares the modules once; evaluation afterwards is
// read-only and safe for concurrent use.
func NewRegoRule(ctx context.Context, cfg RegoConfig) (*RegoRule, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("rule: %w: rego rule name is required", domain.ErrInvalidConfig)
	}
	if len(cfg.Modules) == 0 {
		return nil, fmt.Errorf("rule: %w: rego rule %s requires at least one module", domain.ErrInvalidConfig, name)
	}
	query := strings.TrimSpace(cfg.Query)
	if query == "" {
		query = DefaultRegoQuery
	}
	lang := locale.Default
	if cfg.DefaultLanguage != "" {
		code, err := locale.Normalize(cfg.DefaultLanguage)
		if err != nil {
			return nil, fmt.Errorf("rule: %w: %v", domain.ErrInvalidConfig, err)
		}
		lang = code
	}

	moduleOrder := make([]string, 0, len(cfg.Modules))
	for moduleName := range cfg.Modules {
		moduleOrder = append(moduleOrder, moduleName)
	}
	sort.Strings(moduleOrder)

	opts := make([]func(*rego.Rego), 0, len(moduleOrder)+2)
	opts = append(opts, rego.Query(query), rego.SetRegoVersion(ast.RegoV1))
	for _, moduleName := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(moduleName, cfg.Modules[moduleName], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("rule: parse rego module %q: %w", moduleName, err)
		}
		opts = append(opts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("rule: compile rego modules for %s: %w", name, err)
	}

	return &RegoRule{
		meta: Metadata{
			Name:        name,
			Description: cfg.Description,
			Language:    lang,
			ContentType: cfg.ContentType,
		},
		query:    query,
		prepared: &prepared,
		scorer:   scorerOrDefault(cfg.Scorer),
	}, nil
}

// Metadata implements Rule.
func (r *RegoRule) Metadata() Metadata { return r.meta }

// Localize implements Localizer; the language is passed to the query as input.language.
func (r *RegoRule) Localize(lang string) Rule {
	view := *r
	if code, err := locale.Normalize(lang); err == nil {
		view.meta.Language = code
	}
	return &view
}

// Process implements Rule.
func (r *RegoRule) Process(ctx context.Context, input domain.PolicyInput) (domain.RuleOutput, error) {
	if err := ctx.Err(); err != nil {
		return domain.RuleOutput{}, err
	}
	if len(input.Texts) == 0 {
		return domain.NoMatch(r.meta.ContentType, "no text to inspect"), nil
	}

	texts := make([]any, 0, len(input.Texts))
	for _, t := range input.Texts {
		texts = append(texts, t)
	}
	payload := map[string]any{
		"texts":    texts,
		"language": r.meta.Language,
	}

	results, err := r.prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		return domain.RuleOutput{}, fmt.Errorf("rule %s: rego evaluation: %w", r.meta.Name, err)
	}

	spans, err := extractSpans(results)
	if err != nil {
		return domain.RuleOutput{}, fmt.Errorf("rule %s: %w", r.meta.Name, err)
	}

	triggered := locateSpans(input, spans).values()
	if len(triggered) == 0 {
		return domain.NoMatch(r.meta.ContentType, fmt.Sprintf("%s returned no located spans", r.query)), nil
	}
	details := fmt.Sprintf("%s located %d span(s)", r.query, len(triggered))
	return output(r.meta.ContentType, details, r.scorer.Score(len(triggered)), triggered), nil
}

func extractSpans(results rego.ResultSet) ([]string, error) {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return nil, nil
	}
	switch value := results[0].Expressions[0].Value.(type) {
	case nil:
		return nil, nil
	case []any:
		spans := make([]string, 0, len(value))
		for _, v := range value {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("rego result: expected string element, got %T", v)
			}
			spans = append(spans, s)
		}
		// Sets arrive unordered; order is restored from the input positions.
		sort.Strings(spans)
		return spans, nil
	default:
		return nil, fmt.Errorf("rego result: unexpected type %T", value)
	}
}
