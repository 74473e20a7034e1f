package action

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/polisai/polis-safety/pkg/capability"
	"github.com/polisai/polis-safety/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func newGate(t testing.TB, cfg Config) *Gate {
	t.Helper()
	if cfg.Name == "" {
		cfg.Name = "test_action"
	}
	g, err := New(cfg)
	require.NoError(t, err)
	return g
}

func matched(confidence float64, keywords ...string) domain.RuleOutput {
	return domain.RuleOutput{
		Confidence:        confidence,
		ContentType:       "TEST",
		Details:           "test",
		TriggeredKeywords: keywords,
	}
}

func TestThresholdIsInclusive(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionBlock, Threshold: 0.7})
	in := domain.NewTextInput("payload")
	ctx := context.Background()

	out, err := g.Apply(ctx, in, matched(0.7, "payload"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDisallowedOperation))
	assert.Equal(t, domain.ActionBlock, out.Action.ActionTaken)

	out, err = g.Apply(ctx, in, matched(0.699999, "payload"))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAllow, out.Action.ActionTaken)
	assert.Equal(t, in.Texts, out.Texts)
	assert.Nil(t, out.TransformationMap)
}

func TestBlockBelowThresholdAllows(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionBlock, Threshold: 0.8})

	out, err := g.Apply(context.Background(),
		domain.NewTextInput("bitcoin and ethereum"),
		matched(0.6, "bitcoin", "ethereum"))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAllow, out.Action.ActionTaken)
	assert.Equal(t, []string{"bitcoin and ethereum"}, out.Texts)
}

func TestBlockCarriesMessageAndContentType(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionBlock, Threshold: 0.5})

	out, err := g.Apply(context.Background(), domain.NewTextInput("x"), matched(0.9, "x"))
	require.Error(t, err)

	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.CodeDisallowedOperation, de.Code)
	assert.Equal(t, "TEST", de.ContentType)
	assert.Equal(t, "Content of type TEST is not allowed.", de.Message)
	assert.Equal(t, de.Message, out.Action.Message)
	assert.Nil(t, out.Texts)
}

func TestRaiseIsDistinctFromBlock(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionRaise, Threshold: 0.3, Message: StaticMessage("no crypto talk")})

	out, err := g.Apply(context.Background(), domain.NewTextInput("bitcoin"), matched(0.3, "bitcoin"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrComplianceViolation))
	assert.False(t, errors.Is(err, domain.ErrDisallowedOperation))
	assert.Equal(t, domain.ActionRaise, out.Action.ActionTaken)
	assert.Equal(t, "no crypto talk", out.Action.Message)
	assert.Nil(t, out.Texts)
}

func TestReplace(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionReplace, Threshold: 0.3, Placeholder: "[REDACTED]"})

	out, err := g.Apply(context.Background(), domain.NewTextInput("spam is bad"), matched(0.3, "spam"))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionReplace, out.Action.ActionTaken)
	assert.Equal(t, []string{"[REDACTED] is bad"}, out.Texts)
	assert.Equal(t, domain.TransformationMap{0: {"spam": "[REDACTED]"}}, out.TransformationMap)
}

func TestReplaceCollapsesRepeatedKeywordsPerItem(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionReplace, Threshold: 0.3})

	in := domain.NewTextInput("spam spam and eggs", "no match here", "more spam")
	out, err := g.Apply(context.Background(), in, matched(0.6, "spam", "eggs"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"[REDACTED] [REDACTED] and [REDACTED]",
		"no match here",
		"more [REDACTED]",
	}, out.Texts)
	assert.Equal(t, domain.TransformationMap{
		0: {"spam": "[REDACTED]", "eggs": "[REDACTED]"},
		2: {"spam": "[REDACTED]"},
	}, out.TransformationMap)
	assert.Equal(t, []string{"spam spam and eggs", "no match here", "more spam"}, in.Texts, "input must not be mutated")
}

func TestReplaceRespectsWordBoundaries(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionReplace, Threshold: 0.3, Placeholder: "***"})

	out, err := g.Apply(context.Background(), domain.NewTextInput("Spam, spammer, SPAM."), matched(0.3, "spam"))
	require.NoError(t, err)
	assert.Equal(t, []string{"***, spammer, ***."}, out.Texts)
	assert.Equal(t, domain.TransformationMap{0: {"Spam": "***", "SPAM": "***"}}, out.TransformationMap)
}

func TestAnonymizePhoneNumber(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionAnonymize, Threshold: 0.3})

	out, err := g.Apply(context.Background(), domain.NewTextInput("555-123-4567"), matched(0.3, "555-123-4567"))
	require.NoError(t, err)
	require.Len(t, out.Texts, 1)
	assert.Equal(t, domain.ActionAnonymize, out.Action.ActionTaken)
	assert.Regexp(t, regexp.MustCompile(`^\d{3}-\d{3}-\d{4}$`), out.Texts[0])
	assert.NotEqual(t, "555-123-4567", out.Texts[0])
	assert.Equal(t, domain.TransformationMap{0: {"555-123-4567": out.Texts[0]}}, out.TransformationMap)
}

func TestAnonymizeRecordsEachDistinctValue(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionAnonymize, Threshold: 0.3, Source: SeededSource(7)})

	in := domain.NewTextInput("call 555-123-4567 or 555-987-6543, again 555-123-4567")
	out, err := g.Apply(context.Background(), in, matched(0.6, "555-123-4567", "555-987-6543"))
	require.NoError(t, err)

	pairs := out.TransformationMap[0]
	require.Len(t, pairs, 2)
	a, b := pairs["555-123-4567"], pairs["555-987-6543"]
	assert.NotEqual(t, a, b)
	assert.Equal(t, "call "+a+" or "+b+", again "+a, out.Texts[0])

	restored, err := out.TransformationMap.Restore(0, out.Texts[0])
	require.NoError(t, err)
	assert.Equal(t, in.Texts[0], restored)
}

func TestAnonymizeIsReproducibleWithSeed(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionAnonymize, Threshold: 0.3, Source: SeededSource(42)})
	in := domain.NewTextInput("Contact Alice-42 now")
	res := matched(0.3, "Alice-42")

	first, err := g.Apply(context.Background(), in, res)
	require.NoError(t, err)
	second, err := g.Apply(context.Background(), in, res)
	require.NoError(t, err)
	assert.Equal(t, first.Texts, second.Texts)
	assert.Regexp(t, `^Contact [A-Z][a-z]{4}-\d{2} now$`, first.Texts[0])
}

func TestAnonymizeLeavesSeparatorOnlyValues(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionAnonymize, Threshold: 0.3})

	out, err := g.Apply(context.Background(), domain.NewTextInput("a -- b"), matched(0.3, "--"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a -- b"}, out.Texts)
	assert.Equal(t, 0, out.TransformationMap.Len())
}

func TestTransformSkipsProtectedValues(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionAnonymize, Threshold: 0.3})

	in := domain.PolicyInput{
		Texts:     []string{"[CRYPTO_REDACTED] wallet 555-123-4567"},
		Protected: []string{"[CRYPTO_REDACTED]"},
	}
	out, err := g.Apply(context.Background(), in, matched(0.6, "CRYPTO_REDACTED", "555-123-4567"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.Texts[0], "[CRYPTO_REDACTED] wallet "))
	assert.NotContains(t, out.TransformationMap[0], "CRYPTO_REDACTED")
	assert.Contains(t, out.TransformationMap[0], "555-123-4567")
}

func TestTransformReplacesUnprotectedOccurrenceOfProtectedSubstring(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionReplace, Threshold: 0.3, Placeholder: "[X]"})

	in := domain.PolicyInput{
		Texts:     []string{"[PHONE NUMBER] and my PHONE is here"},
		Protected: []string{"[PHONE NUMBER]"},
	}
	out, err := g.Apply(context.Background(), in, matched(0.3, "PHONE"))
	require.NoError(t, err)
	assert.Equal(t, []string{"[PHONE NUMBER] and my [X] is here"}, out.Texts)
	assert.Equal(t, domain.TransformationMap{0: {"PHONE": "[X]"}}, out.TransformationMap)
}

func TestMediaChannelsPassThrough(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionReplace, Threshold: 0.3})

	in := domain.PolicyInput{Texts: []string{"spam"}, Images: []string{"img://1"}, Files: []string{"file://a"}}
	out, err := g.Apply(context.Background(), in, matched(0.3, "spam"))
	require.NoError(t, err)
	assert.Equal(t, in.Images, out.Images)
	assert.Equal(t, in.Files, out.Files)
}

func TestExplainedMessage(t *testing.T) {
	explainer := capability.NewStatic().WithMessage("CRYPTO", "Crypto discussion is not permitted here.")
	g := newGate(t, Config{
		Kind:      domain.ActionBlock,
		Threshold: 0.3,
		Message:   ExplainedMessage{Explainer: explainer},
	})

	_, err := g.Apply(context.Background(), domain.NewTextInput("bitcoin"), domain.RuleOutput{
		Confidence: 0.9, ContentType: "CRYPTO", TriggeredKeywords: []string{"bitcoin"},
	})
	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "Crypto discussion is not permitted here.", de.Message)
}

func TestExplainedMessageFallsBackOnFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	explainer := capability.NewStatic().WithError(errors.New("upstream 503"))

	g := newGate(t, Config{
		Kind:      domain.ActionRaise,
		Threshold: 0.3,
		Message:   ExplainedMessage{Explainer: explainer, Logger: logger},
	})

	out, err := g.Apply(context.Background(), domain.NewTextInput("bitcoin"), matched(0.9, "bitcoin"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrComplianceViolation))
	assert.Equal(t, "Compliance violation: content of type TEST detected.", out.Action.Message)
	assert.Contains(t, buf.String(), "explain capability failed")
	assert.NotContains(t, buf.String(), "bitcoin")
}

func TestNewValidation(t *testing.T) {
	cases := []Config{
		{Kind: domain.ActionBlock, Threshold: 0.5},
		{Name: "a", Kind: domain.ActionBlock, Threshold: 0},
		{Name: "a", Kind: domain.ActionBlock, Threshold: 1.2},
		{Name: "a", Kind: "EXPLODE", Threshold: 0.5},
	}
	for _, cfg := range cases {
		_, err := New(cfg)
		assert.True(t, errors.Is(err, domain.ErrInvalidConfig), "config %+v", cfg)
	}
}

func TestGateIsSafeForConcurrentUse(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionAnonymize, Threshold: 0.3})
	res := matched(0.3, "555-123-4567")

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out, err := g.Apply(context.Background(), domain.NewTextInput("555-123-4567"), res)
			assert.NoError(t, err)
			assert.Len(t, out.TransformationMap[0], 1)
		}()
	}
	wg.Wait()
}

func TestAnonymizePreservesFormatProperty(t *testing.T) {
	g := newGate(t, Config{Kind: domain.ActionAnonymize, Threshold: 0.3})
	shapes := []rune("0123456789abcXYZ-+. ")

	rapid.Check(t, func(t *rapid.T) {
		body := rapid.SliceOfN(rapid.SampledFrom(shapes), 1, 16).Draw(t, "body")
		value := strings.TrimSpace(string(body))
		if !hasAlnum(value) {
			t.Skip("no alphanumerics")
		}

		out, err := g.Apply(context.Background(), domain.NewTextInput(value), matched(0.3, value))
		if err != nil {
			t.Fatalf("apply: %v", err)
		}
		got := out.Texts[0]
		if got == value {
			t.Fatalf("value %q was not changed", value)
		}
		if len(got) != len(value) {
			t.Fatalf("length changed: %q -> %q", value, got)
		}
		for i := range value {
			if classOf(rune(value[i])) != classOf(rune(got[i])) {
				t.Fatalf("shape mismatch at %d: %q -> %q", i, value, got)
			}
			if classOf(rune(value[i])) == "" && value[i] != got[i] {
				t.Fatalf("separator changed at %d: %q -> %q", i, value, got)
			}
		}
		if out.TransformationMap[0][value] != got {
			t.Fatalf("map %v does not pair %q with %q", out.TransformationMap, value, got)
		}
	})
}
