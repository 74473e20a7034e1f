package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/polis-safety/pkg/capability"
	"github.com/polisai/polis-safety/pkg/domain"
)

const sampleConfig = `
logging:
  level: DEBUG
  format: json

telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true

capability:
  endpoint: "http://localhost:8000/v1/chat/completions"
  model: "gpt-4o-mini"
  timeout: 5s
  max_retries: 1

policies:
  - builtin: CryptoReplace
    language: tr
  - name: names
    description: Masks customer names
    rule:
      type: keyword
      content_type: NAME
      keywords:
        en: [alice, bob]
    action:
      type: anonymize
      threshold: 0.3
      seed: 7
  - name: ids
    rule:
      type: pattern
      content_type: NATIONAL_ID
      patterns:
        - name: tckn
          expr: '\b[1-9]\d{10}\b'
    action:
      type: replace
      threshold: 0.3
      placeholder: "[ID]"
  - name: crypto-llm
    rule:
      type: finder
      content_type: CRYPTO
      goal: cryptocurrency related keywords
    action:
      type: block
      threshold: 0.8
      explained: true
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "localhost:4317", cfg.Telemetry.OTLPEndpoint)
	assert.True(t, cfg.Telemetry.Insecure)
	assert.Equal(t, 5*time.Second, cfg.Capability.Timeout)
	assert.Equal(t, 1, cfg.Capability.MaxRetries)
	assert.Equal(t, DefaultAPIKeyEnv, cfg.Capability.APIKeyEnv)
	require.Len(t, cfg.Policies, 4)
	assert.Equal(t, "CryptoReplace", cfg.Policies[0].DisplayName())
	require.NotNil(t, cfg.Policies[1].Action.Seed)
	assert.Equal(t, uint64(7), *cfg.Policies[1].Action.Seed)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLogLevel, cfg.Logging.Level)
	assert.Equal(t, DefaultLogFormat, cfg.Logging.Format)
	assert.Equal(t, DefaultCapabilityTimeout, cfg.Capability.Timeout)
	assert.Empty(t, cfg.Policies)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("POLIS_SAFETY_LOG_LEVEL", "warn")
	t.Setenv("POLIS_SAFETY_OTLP_ENDPOINT", "collector:4317")
	t.Setenv("POLIS_SAFETY_LLM_ENDPOINT", "http://llm.internal/v1/chat/completions")
	t.Setenv("POLIS_SAFETY_LLM_MODEL", "local-model")

	cfg, err := Load(writeConfig(t, "logging:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "collector:4317", cfg.Telemetry.OTLPEndpoint)
	assert.Equal(t, "http://llm.internal/v1/chat/completions", cfg.Capability.Endpoint)
	assert.Equal(t, "local-model", cfg.Capability.Model)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		invalid bool
	}{
		{name: "bad log level", content: "logging:\n  level: loud\n"},
		{name: "unknown field", content: "logging:\n  colour: red\n"},
		{name: "unknown builtin", content: "policies:\n  - builtin: NoSuchPolicy\n", invalid: true},
		{name: "unknown rule type", invalid: true, content: `
policies:
  - name: x
    rule: {type: magic, content_type: X}
    action: {type: block, threshold: 0.5}
`},
		{name: "unknown action type", invalid: true, content: `
policies:
  - name: x
    rule: {type: keyword, content_type: X, keywords: {en: [a]}}
    action: {type: quarantine, threshold: 0.5}
`},
		{name: "zero threshold", invalid: true, content: `
policies:
  - name: x
    rule: {type: keyword, content_type: X, keywords: {en: [a]}}
    action: {type: block, threshold: 0}
`},
		{name: "bad pattern", invalid: true, content: `
policies:
  - name: x
    rule: {type: pattern, content_type: X, patterns: [{name: p, expr: "("}]}
    action: {type: block, threshold: 0.5}
`},
		{name: "duplicate names", content: `
policies:
  - builtin: CryptoReplace
  - builtin: cryptoreplace
`},
		{name: "capability without endpoint", content: `
policies:
  - builtin: CryptoBlockPolicy_LLM
`},
		{name: "builtin with rule", invalid: true, content: `
policies:
  - builtin: CryptoReplace
    rule: {type: keyword, content_type: X, keywords: {en: [a]}}
`},
		{name: "bad language", invalid: true, content: `
policies:
  - builtin: CryptoReplace
    language: "not a language!"
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			require.Error(t, err)
			if tt.invalid {
				assert.True(t, errors.Is(err, domain.ErrInvalidConfig), err.Error())
			}
		})
	}
}

func TestBuild(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	static := capability.NewStatic().
		WithSpans("cryptocurrency related keywords", "bitcoin").
		WithMessage("CRYPTO", "No crypto, please.")
	policies, err := Build(context.Background(), cfg, Dependencies{Capabilities: static})
	require.NoError(t, err)
	require.Len(t, policies, 4)
	assert.Equal(t, "CryptoReplace", policies[0].Name())
	assert.Equal(t, "tr", policies[0].Language())
	assert.Equal(t, "names", policies[1].Name())

	ctx := context.Background()

	res, err := policies[0].Execute(ctx, domain.NewTextInput("Kripto para aldım"))
	require.NoError(t, err)
	assert.Equal(t, []string{"[CRYPTO_REDACTED] aldım"}, res.Output.Texts)

	res, err = policies[1].Execute(ctx, domain.NewTextInput("alice met bob"))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAnonymize, res.Action.ActionTaken)
	assert.Len(t, res.Output.TransformationMap[0], 2)

	res, err = policies[2].Execute(ctx, domain.NewTextInput("id 12345678901 on file"))
	require.NoError(t, err)
	assert.Equal(t, []string{"id [ID] on file"}, res.Output.Texts)

	_, err = policies[3].Execute(ctx, domain.NewTextInput("buy bitcoin"))
	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, domain.CodeDisallowedOperation, de.Code)
	assert.Equal(t, "No crypto, please.", de.Message)
}

func TestBuildRego(t *testing.T) {
	cfg := Default()
	cfg.Policies = []PolicySpec{{
		Name: "rego-crypto",
		Rule: &RuleSpec{
			Type:        RuleRego,
			ContentType: "CRYPTO",
			Modules: map[string]string{"crypto.rego": `package safety

keywords := {"bitcoin", "ethereum"}

triggered contains word if {
	some text in input.texts
	some word in split(lower(text), " ")
	keywords[word]
}`},
			Query: "data.safety.triggered",
		},
		Action: &ActionSpec{Type: "raise", Threshold: 0.5, Message: "no %s here"},
	}}

	policies, err := Build(context.Background(), cfg, Dependencies{})
	require.NoError(t, err)

	_, err = policies[0].Execute(context.Background(), domain.NewTextInput("Bitcoin and Ethereum"))
	var de *domain.DomainError
	require.True(t, errors.As(err, &de))
	assert.True(t, errors.Is(err, domain.ErrComplianceViolation))
	assert.Equal(t, "no CRYPTO here", de.Message)
}

func TestBuildRequiresCapability(t *testing.T) {
	cfg := Default()
	cfg.Policies = []PolicySpec{{Builtin: "CryptoBlockPolicy", Language: "auto"}}

	_, err := Build(context.Background(), cfg, Dependencies{})
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}
