package textmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatcherWholeWordCaseInsensitive(t *testing.T) {
	m, err := Compile("bitcoin")
	require.NoError(t, err)

	matches := m.FindAll("Bitcoin, bitcoins and BITCOIN_x or (bitcoin)")
	require.Len(t, matches, 2)
	assert.Equal(t, "Bitcoin", matches[0].Text)
	assert.Equal(t, 0, matches[0].Start)
	assert.Equal(t, "bitcoin", matches[1].Text)
}

func TestMatcherOverlappingCandidates(t *testing.T) {
	m, err := Compile("aa")
	require.NoError(t, err)

	assert.Empty(t, m.FindAll("aaa"))
	assert.Len(t, m.FindAll("xaa aa"), 1)
}

func TestMatcherNonWordEdges(t *testing.T) {
	m, err := Compile("+1 555-0100")
	require.NoError(t, err)

	matches := m.FindAll("call:+1 555-0100.")
	require.Len(t, matches, 1)
	assert.Equal(t, "+1 555-0100", matches[0].Text)
}

func TestMatcherUnicodeBoundary(t *testing.T) {
	m, err := Compile("kripto")
	require.NoError(t, err)

	assert.Empty(t, m.FindAll("kriptoğraf"))
	assert.Len(t, m.FindAll("Kripto para"), 1)
}

func TestCompileRejectsEmptyNeedle(t *testing.T) {
	_, err := Compile("   ")
	assert.Error(t, err)
}

func TestResolvePrefersLongestAtSameStart(t *testing.T) {
	got := Resolve([]Match{
		{Start: 4, End: 8, Text: "coin"},
		{Start: 0, End: 7, Text: "bitcoin"},
		{Start: 0, End: 14, Text: "bitcoin wallet"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, "bitcoin wallet", got[0].Text)
}

func TestRewrite(t *testing.T) {
	text := "spam is spam"
	m, err := Compile("spam")
	require.NoError(t, err)

	out := Rewrite(text, m.FindAll(text), func(Match) string { return "[X]" })
	assert.Equal(t, "[X] is [X]", out)
}

func TestProtectedRangesAndOverlap(t *testing.T) {
	text := "[REDACTED] and spam"
	ranges := ProtectedRanges(text, []string{"[REDACTED]"})
	require.Len(t, ranges, 1)

	assert.True(t, Overlaps(Match{Start: 1, End: 9}, ranges))
	assert.False(t, Overlaps(Match{Start: 15, End: 19}, ranges))
}

func TestBounded(t *testing.T) {
	text := "id 5551234567x and 555-123-4567"
	assert.False(t, Bounded(text, 3, 13))
	assert.True(t, Bounded(text, 19, 31))
	assert.False(t, Bounded(text, 4, 4))
}
