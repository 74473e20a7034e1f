// Package capability defines the contract the safety core consumes from an
// external language-model collaborator. The core never builds prompts or picks
// models; it only calls these three signatures.
package capability

import (
	"context"
	"errors"
	"time"

	"github.com/polisai/polis-safety/pkg/domain"
)

// SpanFinder returns the substrings of input that match a detection goal.
type SpanFinder interface {
	FindSpans(ctx context.Context, goal string, input domain.PolicyInput) ([]string, error)
}

// Explainer produces a human-readable rejection message for a content category.
type Explainer interface {
	Explain(ctx context.Context, category string) (string, error)
}

// LanguageDetector returns the ISO language code of input.
type LanguageDetector interface {
	DetectLanguage(ctx context.Context, input domain.PolicyInput) (string, error)
}

// Provider bundles all three capabilities.
type Provider interface {
	SpanFinder
	Explainer
	LanguageDetector
}

// ErrNotConfigured is returned when a policy needs a capability it was not given.
var ErrNotConfigured = errors.New("capability not configured")

// Call runs fn with an optional timeout and maps every failure, including
// cancellation and deadline expiry, to domain.ErrDetectionUnavailable. Call
// returns when ctx is done even if fn ignores it; fn then finishes in the
// background and its result is discarded.
func Call[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, domain.Unavailable(err)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return zero, domain.Unavailable(ctx.Err())
	case r := <-done:
		if r.err != nil {
			if domain.IsUnavailable(r.err) {
				return zero, r.err
			}
			return zero, domain.Unavailable(r.err)
		}
		if err := ctx.Err(); err != nil {
			// The collaborator ignored the deadline and returned late.
			return zero, domain.Unavailable(err)
		}
		return r.v, nil
	}
}
