package action

import (
	"math/rand/v2"
	"strings"
	"unicode"
)

// SourceFunc returns a fresh random source for one Apply call.
type SourceFunc func() rand.Source

// RandomSource returns a randomly seeded PCG source.
func RandomSource() rand.Source {
	return rand.NewPCG(rand.Uint64(), rand.Uint64())
}

// SeededSource returns a SourceFunc producing identical sequences on every
// call. It makes anonymization reproducible in tests.
func SeededSource(seed uint64) SourceFunc {
	return func() rand.Source {
		return rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	}
}

const (
	digits = "0123456789"
	lower  = "abcdefghijklmnopqrstuvwxyz"
	upper  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	maxUniqueAttempts = 16
)

// synthesizer produces format-preserving stand-ins for the values seen in one
// Apply call. Repeated originals get the same stand-in, and distinct originals
// get distinct stand-ins whenever the value shape leaves room for it, so the
// resulting map stays reversible.
type synthesizer struct {
	rng      *rand.Rand
	assigned map[string]string
	used     map[string]struct{}
}

func newSynthesizer(src rand.Source) *synthesizer {
	return &synthesizer{
		rng:      rand.New(src),
		assigned: make(map[string]string),
		used:     make(map[string]struct{}),
	}
}

// synthesize returns the stand-in for original. Values without letters or
// digits have no shape to preserve and are left alone.
func (s *synthesizer) synthesize(original string) (string, bool) {
	if v, ok := s.assigned[original]; ok {
		return v, true
	}
	if !hasAlnum(original) {
		return "", false
	}

	var candidate string
	for attempt := 0; attempt < maxUniqueAttempts; attempt++ {
		candidate = s.reshape(original)
		if _, taken := s.used[candidate]; !taken {
			break
		}
	}
	s.assigned[original] = candidate
	s.used[candidate] = struct{}{}
	return candidate, true
}

// reshape resamples every letter and digit of original, keeping case and all
// other characters in place. The result always differs from original.
func (s *synthesizer) reshape(original string) string {
	runes := []rune(original)
	out := make([]rune, len(runes))
	first := -1
	for i, r := range runes {
		class := classOf(r)
		if class == "" {
			out[i] = r
			continue
		}
		if first < 0 {
			first = i
		}
		out[i] = rune(class[s.rng.IntN(len(class))])
	}
	if string(out) == original {
		// Shift the first resampled character within its class.
		class := classOf(runes[first])
		pos := strings.IndexRune(class, out[first])
		out[first] = rune(class[(pos+1)%len(class)])
	}
	return string(out)
}

func classOf(r rune) string {
	switch {
	case unicode.IsDigit(r):
		return digits
	case unicode.IsUpper(r):
		return upper
	case unicode.IsLetter(r):
		return lower
	default:
		return ""
	}
}

func hasAlnum(s string) bool {
	for _, r := range s {
		if classOf(r) != "" {
			return true
		}
	}
	return false
}
