package capability

import (
	"context"
	"strings"
	"sync"

	"github.com/polisai/polis-safety/pkg/domain"
)

// Static is a deterministic in-process Provider. FindSpans returns every
// configured span for the goal that occurs in the input text (case-insensitive);
// Explain and DetectLanguage return fixed values. It is used by tests and
// offline runs of the CLI.
type Static struct {
	mu       sync.RWMutex
	spans    map[string][]string
	messages map[string]string
	language string
	err      error
}

// NewStatic constructs an empty Static provider reporting language "en".
func NewStatic() *Static {
	return &Static{
		spans:    make(map[string][]string),
		messages: make(map[string]string),
		language: "en",
	}
}

// WithSpans registers candidate spans for goal.
func (s *Static) WithSpans(goal string, spans ...string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.spans[goal] = append(s.spans[goal], spans...)
	return s
}

// WithMessage registers the explanation returned for category.
func (s *Static) WithMessage(category, message string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[category] = message
	return s
}

// WithLanguage sets the detected language.
func (s *Static) WithLanguage(code string) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.language = code
	return s
}

// WithError makes every call fail with err.
func (s *Static) WithError(err error) *Static {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// FindSpans implements SpanFinder.
func (s *Static) FindSpans(ctx context.Context, goal string, input domain.PolicyInput) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return nil, s.err
	}
	text := strings.ToLower(input.JoinedText("\n"))
	var out []string
	for _, span := range s.spans[goal] {
		if strings.Contains(text, strings.ToLower(span)) {
			out = append(out, span)
		}
	}
	return out, nil
}

// Explain implements Explainer.
func (s *Static) Explain(ctx context.Context, category string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return "", s.err
	}
	if msg, ok := s.messages[category]; ok {
		return msg, nil
	}
	return "Content of type " + category + " is not permitted.", nil
}

// DetectLanguage implements LanguageDetector.
func (s *Static) DetectLanguage(ctx context.Context, _ domain.PolicyInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.err != nil {
		return "", s.err
	}
	return s.language, nil
}
