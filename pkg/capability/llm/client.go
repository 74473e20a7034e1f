package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/polisai/polis-safety/internal/locale"
	"github.com/polisai/polis-safety/pkg/capability"
	"github.com/polisai/polis-safety/pkg/domain"
)

// Defaults applied by New.
const (
	DefaultEndpoint   = "https://api.openai.com/v1/chat/completions"
	DefaultModel      = "gpt-4o"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
	DefaultRetryBase  = 200 * time.Millisecond
)

// Config configures the chat-completions client.
type Config struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	RetryBase   time.Duration `yaml:"retry_base"`
	PromptsDir  string        `yaml:"prompts_dir"`
}

// Client calls an OpenAI-compatible chat-completions endpoint. It is safe for
// concurrent use.
type Client struct {
	cfg        Config
	prompts    PromptProvider
	httpClient *http.Client
	logger     *slog.Logger
}

var _ capability.Provider = (*Client)(nil)

// Option customises a Client.
type Option func(*Client)

// WithHTTPClient replaces the HTTP client. Its transport is not wrapped.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPromptProvider replaces the prompt source.
func WithPromptProvider(p PromptProvider) Option {
	return func(c *Client) { c.prompts = p }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New builds a Client, filling unset fields with defaults.
func New(cfg Config, opts ...Option) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = DefaultRetryBase
	}
	if cfg.Temperature < 0 {
		cfg.Temperature = 0
	}

	c := &Client{cfg: cfg}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.prompts == nil {
		if cfg.PromptsDir != "" {
			c.prompts = NewLocalPromptProvider(cfg.PromptsDir)
		} else {
			c.prompts = StaticPromptProvider(DefaultPrompts)
		}
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return c
}

// FindSpans implements capability.SpanFinder.
func (c *Client) FindSpans(ctx context.Context, goal string, input domain.PolicyInput) ([]string, error) {
	var out spansResponse
	err := c.ask(ctx, PromptFindSpans, map[string]string{
		"goal":  goal,
		"input": input.JoinedText("\n"),
	}, &out)
	if err != nil {
		return nil, err
	}
	spans := make([]string, 0, len(out.Spans))
	for _, s := range out.Spans {
		if strings.TrimSpace(s) != "" {
			spans = append(spans, s)
		}
	}
	return spans, nil
}

// Explain implements capability.Explainer.
func (c *Client) Explain(ctx context.Context, category string) (string, error) {
	var out explainResponse
	if err := c.ask(ctx, PromptExplain, map[string]string{"category": category}, &out); err != nil {
		return "", err
	}
	msg := strings.TrimSpace(out.Message)
	if msg == "" {
		return "", domain.Unavailable(errors.New("llm returned an empty message"))
	}
	return msg, nil
}

// DetectLanguage implements capability.LanguageDetector.
func (c *Client) DetectLanguage(ctx context.Context, input domain.PolicyInput) (string, error) {
	var out languageResponse
	if err := c.ask(ctx, PromptDetectLanguage, map[string]string{"input": input.JoinedText("\n")}, &out); err != nil {
		return "", err
	}
	lang, err := locale.Normalize(out.Language)
	if err != nil {
		return "", domain.Unavailable(err)
	}
	return lang, nil
}

// ask renders the prompt, calls the model and decodes its JSON content into
// out. Every failure is reported as detection unavailable.
func (c *Client) ask(ctx context.Context, promptID string, vars map[string]string, out any) error {
	tmpl, err := c.prompts.GetPrompt(ctx, promptID)
	if err != nil {
		return domain.Unavailable(err)
	}
	content, err := c.complete(ctx, render(tmpl, vars))
	if err != nil {
		return domain.Unavailable(err)
	}
	if err := json.Unmarshal([]byte(extractJSON(content)), out); err != nil {
		c.logger.Warn("failed to parse JSON from LLM", "prompt", promptID, "error", err)
		return domain.Unavailable(fmt.Errorf("failed to decode %s content: %w", promptID, err))
	}
	return nil
}

// statusError is a non-200 answer from the endpoint.
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("llm returned status %d: %s", e.code, e.body)
}

func (e *statusError) retryable() bool {
	return e.code == http.StatusTooManyRequests || e.code >= 500
}

// complete posts one chat-completions request, retrying on 5xx, 429 and
// transport errors with a Fibonacci backoff.
func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model:          c.cfg.Model,
		Messages:       []chatMessage{{Role: "user", Content: prompt}},
		Temperature:    c.cfg.Temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	var content string
	backoff := retry.WithMaxRetries(uint64(c.cfg.MaxRetries), retry.NewFibonacci(c.cfg.RetryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var callErr error
		content, callErr = c.post(ctx, payload)
		if callErr == nil {
			return nil
		}
		var se *statusError
		switch {
		case ctx.Err() != nil:
			return callErr
		case errors.As(callErr, &se):
			if se.retryable() {
				c.logger.Debug("llm call failed, retrying", "status", se.code)
				return retry.RetryableError(callErr)
			}
			return callErr
		case errors.Is(callErr, errMalformed):
			return callErr
		default:
			c.logger.Debug("llm transport error, retrying", "error", callErr)
			return retry.RetryableError(callErr)
		}
	})
	return content, err
}

var errMalformed = errors.New("malformed completion")

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", errMalformed, err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Warn("failed to close response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &statusError{code: resp.StatusCode, body: string(body)}
	}

	var completion chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("%w: failed to decode response: %v", errMalformed, err)
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("%w: no completion choices returned", errMalformed)
	}
	return completion.Choices[0].Message.Content, nil
}

// extractJSON trims markdown fences some models wrap around JSON content.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}
