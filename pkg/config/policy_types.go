package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/polisai/polis-safety/internal/locale"
	"github.com/polisai/polis-safety/pkg/domain"
	"github.com/polisai/polis-safety/pkg/policy/builtin"
)

// Rule types accepted in RuleSpec.Type.
const (
	RuleKeyword = "keyword"
	RulePattern = "pattern"
	RuleFinder  = "finder"
	RuleRego    = "rego"
)

// PolicySpec declares one policy: either a built-in by name or an explicit
// rule and action pair.
type PolicySpec struct {
	Name        string `yaml:"name,omitempty"`
	Description string `yaml:"description,omitempty"`
	Builtin     string `yaml:"builtin,omitempty"`
	// Language is empty, a language code or "auto".
	Language string      `yaml:"language,omitempty"`
	Rule     *RuleSpec   `yaml:"rule,omitempty"`
	Action   *ActionSpec `yaml:"action,omitempty"`
}

// RuleSpec configures a detection rule.
type RuleSpec struct {
	Type        string `yaml:"type"`
	Name        string `yaml:"name,omitempty"`
	ContentType string `yaml:"content_type"`
	// Language is the rule's default language.
	Language string `yaml:"language,omitempty"`
	// Step is the per-evidence confidence increment; zero selects the default.
	Step float64 `yaml:"step,omitempty"`

	Keywords map[string][]string `yaml:"keywords,omitempty"`
	Patterns []PatternSpec       `yaml:"patterns,omitempty"`

	Goal       string  `yaml:"goal,omitempty"`
	Confidence float64 `yaml:"confidence,omitempty"`

	Modules map[string]string `yaml:"modules,omitempty"`
	Query   string            `yaml:"query,omitempty"`
}

// PatternSpec is a named regular expression.
type PatternSpec struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

// ActionSpec configures an action.
type ActionSpec struct {
	Type        string  `yaml:"type"`
	Name        string  `yaml:"name,omitempty"`
	Threshold   float64 `yaml:"threshold"`
	Placeholder string  `yaml:"placeholder,omitempty"`
	// Message is a static failure message for block and raise; %s receives the content type.
	Message string `yaml:"message,omitempty"`
	// Explained asks the capability for the failure message.
	Explained bool `yaml:"explained,omitempty"`
	// Seed makes anonymization reproducible when set.
	Seed *uint64 `yaml:"seed,omitempty"`
}

// DisplayName returns the policy name, falling back to the built-in name.
func (p *PolicySpec) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Builtin
}

// NeedsCapability reports whether building the policy requires the capability client.
func (p *PolicySpec) NeedsCapability() bool {
	if strings.EqualFold(p.Language, locale.Auto) {
		return true
	}
	if p.Builtin != "" {
		entry, ok := builtin.Default().Resolve(p.Builtin)
		return ok && len(entry.Capabilities) > 0
	}
	return (p.Rule != nil && p.Rule.Type == RuleFinder) || (p.Action != nil && p.Action.Explained)
}

// Validate checks the policy declaration.
func (p *PolicySpec) Validate() error {
	if p.Builtin != "" {
		if p.Rule != nil || p.Action != nil {
			return fmt.Errorf("%w: builtin %q cannot also declare rule or action", domain.ErrInvalidConfig, p.Builtin)
		}
		if _, ok := builtin.Default().Resolve(p.Builtin); !ok {
			return fmt.Errorf("%w: unknown builtin policy %q", domain.ErrInvalidConfig, p.Builtin)
		}
		return p.validateLanguage()
	}

	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: policy name is required", domain.ErrInvalidConfig)
	}
	if p.Rule == nil || p.Action == nil {
		return fmt.Errorf("%w: policy %q needs a rule and an action", domain.ErrInvalidConfig, p.Name)
	}
	if err := p.Rule.Validate(); err != nil {
		return fmt.Errorf("rule: %w", err)
	}
	if err := p.Action.Validate(); err != nil {
		return fmt.Errorf("action: %w", err)
	}
	return p.validateLanguage()
}

func (p *PolicySpec) validateLanguage() error {
	if p.Language == "" || strings.EqualFold(p.Language, locale.Auto) {
		return nil
	}
	if _, err := locale.Normalize(p.Language); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks the rule declaration.
func (r *RuleSpec) Validate() error {
	if strings.TrimSpace(r.ContentType) == "" {
		return fmt.Errorf("%w: content_type is required", domain.ErrInvalidConfig)
	}
	if r.Step < 0 || r.Step > 1 {
		return fmt.Errorf("%w: step %v out of range [0, 1]", domain.ErrInvalidConfig, r.Step)
	}

	switch strings.ToLower(r.Type) {
	case RuleKeyword:
		if len(r.Keywords) == 0 {
			return fmt.Errorf("%w: keyword rule needs keywords", domain.ErrInvalidConfig)
		}
	case RulePattern:
		if len(r.Patterns) == 0 {
			return fmt.Errorf("%w: pattern rule needs patterns", domain.ErrInvalidConfig)
		}
		for i, pat := range r.Patterns {
			if _, err := regexp.Compile(pat.Expr); err != nil {
				return fmt.Errorf("%w: pattern %d (%s): %v", domain.ErrInvalidConfig, i, pat.Name, err)
			}
		}
	case RuleFinder:
		if strings.TrimSpace(r.Goal) == "" {
			return fmt.Errorf("%w: finder rule needs a goal", domain.ErrInvalidConfig)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return fmt.Errorf("%w: confidence %v out of range [0, 1]", domain.ErrInvalidConfig, r.Confidence)
		}
	case RuleRego:
		if len(r.Modules) == 0 || strings.TrimSpace(r.Query) == "" {
			return fmt.Errorf("%w: rego rule needs modules and a query", domain.ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown rule type %q", domain.ErrInvalidConfig, r.Type)
	}
	return nil
}

// Validate checks the action declaration.
func (a *ActionSpec) Validate() error {
	kind := domain.ActionTaken(strings.ToUpper(a.Type))
	switch kind {
	case domain.ActionAllow, domain.ActionBlock, domain.ActionReplace, domain.ActionAnonymize, domain.ActionRaise:
	default:
		return fmt.Errorf("%w: unknown action type %q", domain.ErrInvalidConfig, a.Type)
	}
	if a.Threshold <= 0 || a.Threshold > 1 {
		return fmt.Errorf("%w: threshold %v out of range (0, 1]", domain.ErrInvalidConfig, a.Threshold)
	}
	if a.Message != "" && a.Explained {
		return fmt.Errorf("%w: message and explained are mutually exclusive", domain.ErrInvalidConfig)
	}
	return nil
}

// Kind returns the normalised action kind.
func (a *ActionSpec) Kind() domain.ActionTaken {
	return domain.ActionTaken(strings.ToUpper(a.Type))
}
