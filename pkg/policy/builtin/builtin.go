// Package builtin provides the pre-built content safety policies: crypto,
// phone numbers, sensitive social issues and adult content, each in static,
// explained (LLM message) and span-finder (LLM detection) variants.
package builtin

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/polisai/polis-safety/pkg/action"
	"github.com/polisai/polis-safety/pkg/capability"
	"github.com/polisai/polis-safety/pkg/domain"
	"github.com/polisai/polis-safety/pkg/policy"
	"github.com/polisai/polis-safety/pkg/rule"
	"github.com/polisai/polis-safety/pkg/telemetry"
)

// Default thresholds of the built-in actions.
const (
	BlockThreshold     = 0.8
	RaiseThreshold     = 0.8
	SensitiveThreshold = 0.3
	ReplaceThreshold   = 0.3
	AnonymizeThreshold = 0.3
)

// CryptoPlaceholder is written by CryptoReplace.
const CryptoPlaceholder = "[CRYPTO_REDACTED]"

// Deps carries the collaborators the built-in policies may need. Static
// variants need none; *_LLM variants need Explainer, *_LLM_Finder variants need
// Finder, and Language "auto" needs Detector.
type Deps struct {
	Finder    capability.SpanFinder
	Explainer capability.Explainer
	Detector  capability.LanguageDetector
	// Language is the policy language mode: empty, a language code or "auto".
	Language string
	// Timeout bounds each capability call.
	Timeout  time.Duration
	Logger   *slog.Logger
	Recorder telemetry.Recorder
}

// Constructor builds a policy from Deps.
type Constructor func(Deps) (*policy.Policy, error)

type ruleKind int

const (
	keywordDetection ruleKind = iota
	patternDetection
	finderDetection
)

// definition describes one built-in policy.
type definition struct {
	name        string
	description string
	contentType string
	keywords    func() rule.KeywordSet
	goal        string
	detection   ruleKind
	kind        domain.ActionTaken
	threshold   float64
	explained   bool
	placeholder string
}

func (s definition) build(deps Deps) (*policy.Policy, error) {
	r, err := s.rule(deps)
	if err != nil {
		return nil, err
	}
	a, err := s.action(deps)
	if err != nil {
		return nil, err
	}
	return policy.New(policy.Options{
		Name:          s.name,
		Description:   s.description,
		Rule:          r,
		Action:        a,
		Language:      deps.Language,
		Detector:      deps.Detector,
		DetectTimeout: deps.Timeout,
		Logger:        deps.Logger,
		Recorder:      deps.Recorder,
	})
}

func (s definition) rule(deps Deps) (rule.Rule, error) {
	switch s.detection {
	case finderDetection:
		if deps.Finder == nil {
			return nil, fmt.Errorf("builtin: %w: %s needs a span finder: %v", domain.ErrInvalidConfig, s.name, capability.ErrNotConfigured)
		}
		return rule.NewFinderRule(rule.FinderConfig{
			Name:        s.name + ".finder",
			Description: s.description,
			ContentType: s.contentType,
			Goal:        s.goal,
			Finder:      deps.Finder,
			Timeout:     deps.Timeout,
		})
	case patternDetection:
		return rule.NewPatternRule(rule.PatternConfig{
			Name:        s.name + ".patterns",
			Description: s.description,
			ContentType: s.contentType,
			Patterns:    PhonePatterns(),
		})
	default:
		return rule.NewKeywordRule(rule.KeywordConfig{
			Name:        s.name + ".keywords",
			Description: s.description,
			ContentType: s.contentType,
			Keywords:    s.keywords(),
		})
	}
}

func (s definition) action(deps Deps) (action.Action, error) {
	cfg := action.Config{
		Name:        s.name + ".action",
		Description: s.description,
		Kind:        s.kind,
		Threshold:   s.threshold,
		Placeholder: s.placeholder,
		Logger:      deps.Logger,
	}
	if s.explained {
		if deps.Explainer == nil {
			return nil, fmt.Errorf("builtin: %w: %s needs an explainer: %v", domain.ErrInvalidConfig, s.name, capability.ErrNotConfigured)
		}
		cfg.Message = action.ExplainedMessage{
			Explainer: deps.Explainer,
			Timeout:   deps.Timeout,
			Logger:    deps.Logger,
		}
	}
	return action.New(cfg)
}

var definitions = []definition{
	// Crypto
	{
		name: "CryptoBlockPolicy", description: "Blocks cryptocurrency discussion",
		contentType: ContentCrypto, keywords: CryptoKeywords,
		kind: domain.ActionBlock, threshold: BlockThreshold,
	},
	{
		name: "CryptoBlockPolicy_LLM", description: "Blocks cryptocurrency discussion with a generated message",
		contentType: ContentCrypto, keywords: CryptoKeywords,
		kind: domain.ActionBlock, threshold: BlockThreshold, explained: true,
	},
	{
		name: "CryptoBlockPolicy_LLM_Finder", description: "Blocks cryptocurrency discussion found by a span finder",
		contentType: ContentCrypto, goal: GoalCrypto, detection: finderDetection,
		kind: domain.ActionBlock, threshold: BlockThreshold, explained: true,
	},
	{
		name: "CryptoReplace", description: "Replaces cryptocurrency keywords with a placeholder",
		contentType: ContentCrypto, keywords: CryptoKeywords,
		kind: domain.ActionReplace, threshold: ReplaceThreshold, placeholder: CryptoPlaceholder,
	},
	{
		name: "CryptoRaiseExceptionPolicy", description: "Raises a compliance violation on cryptocurrency discussion",
		contentType: ContentCrypto, keywords: CryptoKeywords,
		kind: domain.ActionRaise, threshold: RaiseThreshold,
	},
	{
		name: "CryptoRaiseExceptionPolicy_LLM_Raise", description: "Raises a compliance violation on cryptocurrency discussion with a generated message",
		contentType: ContentCrypto, keywords: CryptoKeywords,
		kind: domain.ActionRaise, threshold: RaiseThreshold, explained: true,
	},

	// Phone numbers
	{
		name: "AnonymizePhoneNumbersPolicy", description: "Anonymizes phone numbers with format-preserving values",
		contentType: ContentPhoneNumber, detection: patternDetection,
		kind: domain.ActionAnonymize, threshold: AnonymizeThreshold,
	},
	{
		name: "AnonymizePhoneNumbersPolicy_LLM_Finder", description: "Anonymizes phone numbers found by a span finder",
		contentType: ContentPhoneNumber, goal: GoalPhoneNumber, detection: finderDetection,
		kind: domain.ActionAnonymize, threshold: AnonymizeThreshold,
	},

	// Sensitive social issues
	{
		name: "SensitiveSocialBlockPolicy", description: "Blocks content about sensitive social issues",
		contentType: ContentSensitiveSocial, keywords: SensitiveSocialKeywords,
		kind: domain.ActionBlock, threshold: SensitiveThreshold,
	},
	{
		name: "SensitiveSocialBlockPolicy_LLM", description: "Blocks content about sensitive social issues with a generated message",
		contentType: ContentSensitiveSocial, keywords: SensitiveSocialKeywords,
		kind: domain.ActionBlock, threshold: SensitiveThreshold, explained: true,
	},
	{
		name: "SensitiveSocialBlockPolicy_LLM_Finder", description: "Blocks sensitive social issue content found by a span finder",
		contentType: ContentSensitiveSocial, goal: GoalSensitiveSocial, detection: finderDetection,
		kind: domain.ActionBlock, threshold: SensitiveThreshold, explained: true,
	},
	{
		name: "SensitiveSocialRaiseExceptionPolicy", description: "Raises a compliance violation on sensitive social issues",
		contentType: ContentSensitiveSocial, keywords: SensitiveSocialKeywords,
		kind: domain.ActionRaise, threshold: SensitiveThreshold,
	},
	{
		name: "SensitiveSocialRaiseExceptionPolicy_LLM", description: "Raises a compliance violation on sensitive social issues with a generated message",
		contentType: ContentSensitiveSocial, keywords: SensitiveSocialKeywords,
		kind: domain.ActionRaise, threshold: SensitiveThreshold, explained: true,
	},

	// Adult content
	{
		name: "AdultContentBlockPolicy", description: "Blocks adult content",
		contentType: ContentAdult, keywords: AdultKeywords,
		kind: domain.ActionBlock, threshold: SensitiveThreshold,
	},
	{
		name: "AdultContentBlockPolicy_LLM", description: "Blocks adult content with a generated message",
		contentType: ContentAdult, keywords: AdultKeywords,
		kind: domain.ActionBlock, threshold: SensitiveThreshold, explained: true,
	},
	{
		name: "AdultContentBlockPolicy_LLM_Finder", description: "Blocks adult content found by a span finder",
		contentType: ContentAdult, goal: GoalAdult, detection: finderDetection,
		kind: domain.ActionBlock, threshold: SensitiveThreshold, explained: true,
	},
	{
		name: "AdultContentRaiseExceptionPolicy", description: "Raises a compliance violation on adult content",
		contentType: ContentAdult, keywords: AdultKeywords,
		kind: domain.ActionRaise, threshold: SensitiveThreshold,
	},
	{
		name: "AdultContentRaiseExceptionPolicy_LLM", description: "Raises a compliance violation on adult content with a generated message",
		contentType: ContentAdult, keywords: AdultKeywords,
		kind: domain.ActionRaise, threshold: SensitiveThreshold, explained: true,
	},
}

// CryptoBlockPolicy blocks cryptocurrency discussion.
func CryptoBlockPolicy(deps Deps) (*policy.Policy, error) {
	return mustDefinition("CryptoBlockPolicy").build(deps)
}

// CryptoBlockPolicyLLM blocks cryptocurrency discussion with a message from deps.Explainer.
func CryptoBlockPolicyLLM(deps Deps) (*policy.Policy, error) {
	return mustDefinition("CryptoBlockPolicy_LLM").build(deps)
}

// CryptoBlockPolicyLLMFinder blocks cryptocurrency spans found by deps.Finder.
func CryptoBlockPolicyLLMFinder(deps Deps) (*policy.Policy, error) {
	return mustDefinition("CryptoBlockPolicy_LLM_Finder").build(deps)
}

// CryptoReplace replaces cryptocurrency keywords with CryptoPlaceholder.
func CryptoReplace(deps Deps) (*policy.Policy, error) {
	return mustDefinition("CryptoReplace").build(deps)
}

// CryptoRaiseExceptionPolicy raises a compliance violation on cryptocurrency discussion.
func CryptoRaiseExceptionPolicy(deps Deps) (*policy.Policy, error) {
	return mustDefinition("CryptoRaiseExceptionPolicy").build(deps)
}

// CryptoRaiseExceptionPolicyLLMRaise builds CryptoRaiseExceptionPolicy_LLM_Raise.
func CryptoRaiseExceptionPolicyLLMRaise(deps Deps) (*policy.Policy, error) {
	return mustDefinition("CryptoRaiseExceptionPolicy_LLM_Raise").build(deps)
}

// AnonymizePhoneNumbersPolicy anonymizes phone numbers.
func AnonymizePhoneNumbersPolicy(deps Deps) (*policy.Policy, error) {
	return mustDefinition("AnonymizePhoneNumbersPolicy").build(deps)
}

// AnonymizePhoneNumbersPolicyLLMFinder anonymizes phone numbers found by deps.Finder.
func AnonymizePhoneNumbersPolicyLLMFinder(deps Deps) (*policy.Policy, error) {
	return mustDefinition("AnonymizePhoneNumbersPolicy_LLM_Finder").build(deps)
}

// SensitiveSocialBlockPolicy builds SensitiveSocialBlockPolicy.
func SensitiveSocialBlockPolicy(deps Deps) (*policy.Policy, error) {
	return mustDefinition("SensitiveSocialBlockPolicy").build(deps)
}

// SensitiveSocialBlockPolicyLLM builds SensitiveSocialBlockPolicy_LLM.
func SensitiveSocialBlockPolicyLLM(deps Deps) (*policy.Policy, error) {
	return mustDefinition("SensitiveSocialBlockPolicy_LLM").build(deps)
}

// SensitiveSocialBlockPolicyLLMFinder builds SensitiveSocialBlockPolicy_LLM_Finder.
func SensitiveSocialBlockPolicyLLMFinder(deps Deps) (*policy.Policy, error) {
	return mustDefinition("SensitiveSocialBlockPolicy_LLM_Finder").build(deps)
}

// SensitiveSocialRaiseExceptionPolicy builds SensitiveSocialRaiseExceptionPolicy.
func SensitiveSocialRaiseExceptionPolicy(deps Deps) (*policy.Policy, error) {
	return mustDefinition("SensitiveSocialRaiseExceptionPolicy").build(deps)
}

// SensitiveSocialRaiseExceptionPolicyLLM builds SensitiveSocialRaiseExceptionPolicy_LLM.
func SensitiveSocialRaiseExceptionPolicyLLM(deps Deps) (*policy.Policy, error) {
	return mustDefinition("SensitiveSocialRaiseExceptionPolicy_LLM").build(deps)
}

// AdultContentBlockPolicy builds AdultContentBlockPolicy.
func AdultContentBlockPolicy(deps Deps) (*policy.Policy, error) {
	return mustDefinition("AdultContentBlockPolicy").build(deps)
}

// AdultContentBlockPolicyLLM builds AdultContentBlockPolicy_LLM.
func AdultContentBlockPolicyLLM(deps Deps) (*policy.Policy, error) {
	return mustDefinition("AdultContentBlockPolicy_LLM").build(deps)
}

// AdultContentBlockPolicyLLMFinder builds AdultContentBlockPolicy_LLM_Finder.
func AdultContentBlockPolicyLLMFinder(deps Deps) (*policy.Policy, error) {
	return mustDefinition("AdultContentBlockPolicy_LLM_Finder").build(deps)
}

// AdultContentRaiseExceptionPolicy builds AdultContentRaiseExceptionPolicy.
func AdultContentRaiseExceptionPolicy(deps Deps) (*policy.Policy, error) {
	return mustDefinition("AdultContentRaiseExceptionPolicy").build(deps)
}

// AdultContentRaiseExceptionPolicyLLM builds AdultContentRaiseExceptionPolicy_LLM.
func AdultContentRaiseExceptionPolicyLLM(deps Deps) (*policy.Policy, error) {
	return mustDefinition("AdultContentRaiseExceptionPolicy_LLM").build(deps)
}

func mustDefinition(name string) definition {
	for _, s := range definitions {
		if s.name == name {
			return s
		}
	}
	panic("builtin: unknown policy " + name)
}
