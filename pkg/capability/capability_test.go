package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/polisai/polis-safety/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCallMapsErrorsToUnavailable(t *testing.T) {
	_, err := Call(context.Background(), 0, func(context.Context) (string, error) {
		return "", errors.New("boom")
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDetectionUnavailable))
}

func TestCallTimeoutIsUnavailable(t *testing.T) {
	_, err := Call(context.Background(), 10*time.Millisecond, func(ctx context.Context) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDetectionUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestCallCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := Call(ctx, 0, func(context.Context) (int, error) {
		called = true
		return 1, nil
	})
	assert.False(t, called)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.True(t, domain.IsUnavailable(err))
}

func TestCallPassesValueThrough(t *testing.T) {
	v, err := Call(context.Background(), time.Second, func(context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestStaticProvider(t *testing.T) {
	s := NewStatic().
		WithSpans("phone numbers", "555-123-4567", "555-999-0000").
		WithMessage("CRYPTO", "crypto talk is off limits").
		WithLanguage("tr")
	ctx := context.Background()

	spans, err := s.FindSpans(ctx, "phone numbers", domain.NewTextInput("call 555-123-4567"))
	require.NoError(t, err)
	assert.Equal(t, []string{"555-123-4567"}, spans)

	msg, err := s.Explain(ctx, "CRYPTO")
	require.NoError(t, err)
	assert.Equal(t, "crypto talk is off limits", msg)

	lang, err := s.DetectLanguage(ctx, domain.PolicyInput{})
	require.NoError(t, err)
	assert.Equal(t, "tr", lang)

	s.WithError(errors.New("offline"))
	_, err = s.FindSpans(ctx, "phone numbers", domain.NewTextInput("x"))
	assert.Error(t, err)
}

func TestCallReturnsWhenCollaboratorIgnoresDeadline(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Call(context.Background(), 20*time.Millisecond, func(context.Context) (string, error) {
		<-release
		return "late", nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDetectionUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCallReturnsOnCallerCancellation(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err := Call(ctx, 0, func(context.Context) ([]string, error) {
		<-release
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDetectionUnavailable))
	assert.True(t, errors.Is(err, context.Canceled))
}
