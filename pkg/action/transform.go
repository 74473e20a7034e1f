package action

import (
	"context"

	"github.com/polisai/polis-safety/internal/textmatch"
	"github.com/polisai/polis-safety/pkg/domain"
)

// occurrences locates every unprotected, word-bounded occurrence of the
// triggered keywords in text. Overlapping hits are resolved in favour of the
// earliest, then longest, match.
func occurrences(text string, matchers []*textmatch.Matcher, protected []string) []textmatch.Match {
	guarded := textmatch.ProtectedRanges(text, protected)
	var found []textmatch.Match
	for _, m := range matchers {
		for _, hit := range m.FindAll(text) {
			if textmatch.Overlaps(hit, guarded) {
				continue
			}
			found = append(found, hit)
		}
	}
	return textmatch.Resolve(found)
}

func compileKeywords(keywords []string) []*textmatch.Matcher {
	matchers := make([]*textmatch.Matcher, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if _, ok := seen[kw]; ok {
			continue
		}
		seen[kw] = struct{}{}
		m, err := textmatch.Compile(kw)
		if err != nil {
			continue
		}
		matchers = append(matchers, m)
	}
	return matchers
}

// rewrite applies substitute to every occurrence of the triggered keywords in
// each text item and records the pairs in a fresh transformation map.
func rewrite(ctx context.Context, input domain.PolicyInput, result domain.RuleOutput, kind domain.ActionTaken,
	substitute func(original string) (string, bool),
) (domain.PolicyOutput, error) {
	out := domain.PassThrough(input, domain.ActionOutput{ActionTaken: kind})
	out.TransformationMap = domain.TransformationMap{}

	matchers := compileKeywords(result.TriggeredKeywords)
	if len(matchers) == 0 {
		return out, nil
	}

	for i, text := range input.Texts {
		if err := ctx.Err(); err != nil {
			return domain.PolicyOutput{}, err
		}
		hits := occurrences(text, matchers, input.Protected)
		if len(hits) == 0 {
			continue
		}
		out.Texts[i] = textmatch.Rewrite(text, hits, func(m textmatch.Match) string {
			repl, ok := substitute(m.Text)
			if !ok {
				return m.Text
			}
			out.TransformationMap.Record(i, m.Text, repl)
			return repl
		})
	}
	return out, nil
}

type replaceOutcome struct {
	placeholder string
}

func (o replaceOutcome) apply(ctx context.Context, input domain.PolicyInput, result domain.RuleOutput) (domain.PolicyOutput, error) {
	return rewrite(ctx, input, result, domain.ActionReplace, func(string) (string, bool) {
		return o.placeholder, true
	})
}

type anonymizeOutcome struct {
	source SourceFunc
}

func (o anonymizeOutcome) apply(ctx context.Context, input domain.PolicyInput, result domain.RuleOutput) (domain.PolicyOutput, error) {
	syn := newSynthesizer(o.source())
	return rewrite(ctx, input, result, domain.ActionAnonymize, syn.synthesize)
}
