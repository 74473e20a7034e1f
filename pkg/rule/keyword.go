package rule

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/polisai/polis-safety/internal/locale"
	"github.com/polisai/polis-safety/internal/textmatch"
	"github.com/polisai/polis-safety/pkg/domain"
)

// KeywordSet is an immutable list of keywords per language code.
type KeywordSet map[string][]string

// Languages returns the configured language codes in sorted order.
func (k KeywordSet) Languages() []string {
	langs := make([]string, 0, len(k))
	for lang := range k {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

// KeywordConfig configures a KeywordRule.
type KeywordConfig struct {
	Name            string
	Description     string
	ContentType     string
	DefaultLanguage string
	Keywords        KeywordSet
	// Scorer maps distinct triggered keywords to confidence. Nil selects
	// Linear{Step: DefaultStep}.
	Scorer Scorer
}

// KeywordRule performs whole-word, case-insensitive keyword matching over the
// text channel. Each distinct keyword found is one piece of evidence.
type KeywordRule struct {
	meta     Metadata
	fallback string
	matchers map[string][]*textmatch.Matcher
	scorer   Scorer
}

// NewKeywordRule compiles cfg into a KeywordRule.
func NewKeywordRule(cfg KeywordConfig) (*KeywordRule, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("rule: %w: keyword rule name is required", domain.ErrInvalidConfig)
	}
	if len(cfg.Keywords) == 0 {
		return nil, fmt.Errorf("rule: %w: keyword rule %s has no keywords", domain.ErrInvalidConfig, name)
	}
	if l, ok := cfg.Scorer.(Linear); ok && l.Step <= 0 {
		return nil, fmt.Errorf("rule: %w: keyword rule %s step must be positive", domain.ErrInvalidConfig, name)
	}

	fallback := locale.Default
	if cfg.DefaultLanguage != "" {
		lang, err := locale.Normalize(cfg.DefaultLanguage)
		if err != nil {
			return nil, fmt.Errorf("rule: %w: %v", domain.ErrInvalidConfig, err)
		}
		fallback = lang
	}

	matchers := make(map[string][]*textmatch.Matcher, len(cfg.Keywords))
	seen := make(map[string]struct{})
	for _, rawLang := range cfg.Keywords.Languages() {
		lang, err := locale.Normalize(rawLang)
		if err != nil {
			return nil, fmt.Errorf("rule: %w: %v", domain.ErrInvalidConfig, err)
		}
		for _, kw := range cfg.Keywords[rawLang] {
			kw = locale.NFC(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			key := lang + "\x00" + locale.Fold(lang, kw)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			m, err := textmatch.Compile(kw)
			if err != nil {
				return nil, fmt.Errorf("rule: keyword %q in %s: %w", kw, name, err)
			}
			matchers[lang] = append(matchers[lang], m)
		}
	}
	if _, ok := matchers[fallback]; !ok {
		return nil, fmt.Errorf("rule: %w: keyword rule %s has no keywords for default language %s", domain.ErrInvalidConfig, name, fallback)
	}

	return &KeywordRule{
		meta: Metadata{
			Name:        name,
			Description: cfg.Description,
			Language:    fallback,
			ContentType: cfg.ContentType,
		},
		fallback: fallback,
		matchers: matchers,
		scorer:   scorerOrDefault(cfg.Scorer),
	}, nil
}

// Metadata implements Rule.
func (r *KeywordRule) Metadata() Metadata { return r.meta }

// Localize implements Localizer. The returned rule shares the compiled matchers.
func (r *KeywordRule) Localize(lang string) Rule {
	code, err := locale.Normalize(lang)
	if err != nil {
		code = r.fallback
	}
	if _, ok := r.matchers[code]; !ok {
		code = r.fallback
	}
	view := *r
	view.meta.Language = code
	return &view
}

// Keywords returns the keywords active for the rule's current language.
func (r *KeywordRule) Keywords() []string {
	ms := r.matchers[r.meta.Language]
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Needle())
	}
	return out
}

// Process implements Rule.
func (r *KeywordRule) Process(ctx context.Context, input domain.PolicyInput) (domain.RuleOutput, error) {
	if err := ctx.Err(); err != nil {
		return domain.RuleOutput{}, err
	}
	if len(input.Texts) == 0 {
		return domain.NoMatch(r.meta.ContentType, "no text to inspect"), nil
	}

	ev := newEvidence()
	protected := protectedRanges(input)
	for _, m := range r.matchers[r.meta.Language] {
		firstOccurrence(ev, m, input, protected)
	}

	triggered := ev.values()
	if len(triggered) == 0 {
		return domain.NoMatch(r.meta.ContentType, fmt.Sprintf("no %s keywords found", r.label())), nil
	}
	details := fmt.Sprintf("found %d %s keyword(s): %s", len(triggered), r.label(), strings.Join(triggered, ", "))
	return output(r.meta.ContentType, details, r.scorer.Score(len(triggered)), triggered), nil
}

func (r *KeywordRule) label() string {
	if r.meta.ContentType != "" {
		return strings.ToLower(r.meta.ContentType)
	}
	return r.meta.Name
}
