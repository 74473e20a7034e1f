package rule

import (
	"sort"
	"strings"

	"github.com/polisai/polis-safety/internal/textmatch"
	"github.com/polisai/polis-safety/pkg/domain"
)

type hit struct {
	item  int
	start int
	text  string
}

// evidence collects distinct exact substrings of the input. It is created per
// Process call and never stored on a rule.
type evidence struct {
	hits []hit
	seen map[string]struct{}
}

func newEvidence() *evidence {
	return &evidence{seen: make(map[string]struct{})}
}

func (e *evidence) add(item, start int, text string) {
	if _, ok := e.seen[text]; ok {
		return
	}
	e.seen[text] = struct{}{}
	e.hits = append(e.hits, hit{item: item, start: start, text: text})
}

func (e *evidence) len() int { return len(e.hits) }

// values returns the collected substrings in order of first appearance.
func (e *evidence) values() []string {
	sort.SliceStable(e.hits, func(i, j int) bool {
		if e.hits[i].item == e.hits[j].item {
			return e.hits[i].start < e.hits[j].start
		}
		return e.hits[i].item < e.hits[j].item
	})
	out := make([]string, 0, len(e.hits))
	for _, h := range e.hits {
		out = append(out, h.text)
	}
	return out
}

// protectedRanges computes, per text item, the ranges written by earlier stages.
func protectedRanges(input domain.PolicyInput) [][]textmatch.Match {
	ranges := make([][]textmatch.Match, len(input.Texts))
	if len(input.Protected) == 0 {
		return ranges
	}
	for i, text := range input.Texts {
		ranges[i] = textmatch.ProtectedRanges(text, input.Protected)
	}
	return ranges
}

// firstOccurrence records the first unprotected, word-bounded occurrence of m
// across the text items. It reports whether one was found.
func firstOccurrence(ev *evidence, m *textmatch.Matcher, input domain.PolicyInput, protected [][]textmatch.Match) bool {
	for i, text := range input.Texts {
		for _, match := range m.FindAll(text) {
			if textmatch.Overlaps(match, protected[i]) {
				continue
			}
			ev.add(i, match.Start, match.Text)
			return true
		}
	}
	return false
}

// locateSpans resolves externally supplied spans (capability or Rego output)
// to exact substrings of the input. Spans that do not occur, or only occur
// inside protected values, are dropped.
func locateSpans(input domain.PolicyInput, spans []string) *evidence {
	ev := newEvidence()
	protected := protectedRanges(input)
	for _, span := range spans {
		span = strings.TrimSpace(span)
		if span == "" {
			continue
		}
		m, err := textmatch.Compile(span)
		if err != nil {
			continue
		}
		firstOccurrence(ev, m, input, protected)
	}
	return ev
}

func output(contentType, details string, confidence float64, triggered []string) domain.RuleOutput {
	if len(triggered) == 0 {
		return domain.NoMatch(contentType, details)
	}
	return domain.RuleOutput{
		Confidence:        domain.ClampConfidence(confidence),
		ContentType:       contentType,
		Details:           details,
		TriggeredKeywords: triggered,
	}
}
