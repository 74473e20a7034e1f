// Package textmatch locates whole-word, case-insensitive occurrences of
// keywords and spans in text, honouring protected regions written by earlier
// pipeline stages.
package textmatch

import (
	"errors"
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Match is one occurrence of a needle, as a half-open byte range into the text
// plus the exact substring found there.
type Match struct {
	Start int
	End   int
	Text  string
}

// Matcher finds occurrences of a single needle. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	needle    string
	expr      *regexp.Regexp
	leftWord  bool
	rightWord bool
}

// Compile builds a Matcher for needle. Whitespace around the needle is ignored.
func Compile(needle string) (*Matcher, error) {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return nil, errors.New("textmatch: empty needle")
	}
	expr, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(needle))
	if err != nil {
		return nil, err
	}
	first, _ := utf8.DecodeRuneInString(needle)
	last, _ := utf8.DecodeLastRuneInString(needle)
	return &Matcher{
		needle:    needle,
		expr:      expr,
		leftWord:  IsWordRune(first),
		rightWord: IsWordRune(last),
	}, nil
}

// Needle returns the trimmed needle.
func (m *Matcher) Needle() string { return m.needle }

// FindAll returns the word-bounded occurrences of the needle in text, in order.
// A boundary is only required on a side where the needle itself starts or ends
// with a word character, so needles such as "+1 555" still match after a space.
func (m *Matcher) FindAll(text string) []Match {
	var out []Match
	pos := 0
	for pos <= len(text) {
		loc := m.expr.FindStringIndex(text[pos:])
		if loc == nil {
			break
		}
		start, end := pos+loc[0], pos+loc[1]
		if m.bounded(text, start, end) {
			out = append(out, Match{Start: start, End: end, Text: text[start:end]})
			pos = end
			continue
		}
		// Step one rune so overlapping candidates are still considered.
		_, size := utf8.DecodeRuneInString(text[start:])
		if size == 0 {
			break
		}
		pos = start + size
	}
	return out
}

func (m *Matcher) bounded(text string, start, end int) bool {
	return checkBounds(text, start, end, m.leftWord, m.rightWord)
}

// Bounded reports whether text[start:end] sits on word boundaries, using the
// same rule as Matcher: a side only needs a boundary when the substring starts
// or ends with a word character there.
func Bounded(text string, start, end int) bool {
	if start >= end {
		return false
	}
	first, _ := utf8.DecodeRuneInString(text[start:end])
	last, _ := utf8.DecodeLastRuneInString(text[start:end])
	return checkBounds(text, start, end, IsWordRune(first), IsWordRune(last))
}

func checkBounds(text string, start, end int, leftWord, rightWord bool) bool {
	if leftWord && start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if IsWordRune(r) {
			return false
		}
	}
	if rightWord && end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if IsWordRune(r) {
			return false
		}
	}
	return true
}

// IsWordRune reports whether r is part of a word for boundary purposes.
func IsWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// ProtectedRanges returns the byte ranges of text covered by any of the
// protected values (exact, case-sensitive occurrences).
func ProtectedRanges(text string, protected []string) []Match {
	var out []Match
	for _, p := range protected {
		if p == "" {
			continue
		}
		offset := 0
		for {
			i := strings.Index(text[offset:], p)
			if i < 0 {
				break
			}
			start := offset + i
			out = append(out, Match{Start: start, End: start + len(p), Text: p})
			offset = start + len(p)
		}
	}
	return out
}

// Overlaps reports whether m intersects any of the ranges.
func Overlaps(m Match, ranges []Match) bool {
	for _, r := range ranges {
		if m.Start < r.End && r.Start < m.End {
			return true
		}
	}
	return false
}

// Resolve orders matches by position and drops any that overlap an earlier
// one. At equal start the longer match wins.
func Resolve(matches []Match) []Match {
	if len(matches) < 2 {
		return matches
	}
	sorted := append([]Match(nil), matches...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start == sorted[j].Start {
			return sorted[i].End > sorted[j].End
		}
		return sorted[i].Start < sorted[j].Start
	})
	out := sorted[:0:0]
	lastEnd := -1
	for _, m := range sorted {
		if m.Start < lastEnd {
			continue
		}
		out = append(out, m)
		lastEnd = m.End
	}
	return out
}

// Rewrite replaces each non-overlapping match in text with the value returned
// by replace. Matches must already be resolved (ordered, non-overlapping).
func Rewrite(text string, matches []Match, replace func(Match) string) string {
	if len(matches) == 0 {
		return text
	}
	var sb strings.Builder
	sb.Grow(len(text))
	prev := 0
	for _, m := range matches {
		sb.WriteString(text[prev:m.Start])
		sb.WriteString(replace(m))
		prev = m.End
	}
	sb.WriteString(text[prev:])
	return sb.String()
}
