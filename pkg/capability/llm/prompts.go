package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPromptNotFound is returned when a prompt is missing.
var ErrPromptNotFound = errors.New("prompt not found")

// PromptProvider abstracts retrieval of prompt templates. Templates may use the
// placeholders {{goal}}, {{category}} and {{input}}.
type PromptProvider interface {
	GetPrompt(ctx context.Context, id string) (string, error)
}

// DefaultPrompts holds the built-in templates.
var DefaultPrompts = map[string]string{
	PromptFindSpans: `You extract sensitive spans from text.
Goal: find {{goal}}.
Return every exact substring of the input that matches the goal, copied character for character.
Respond with a JSON object {"spans": ["..."]}. Return {"spans": []} when nothing matches.

INPUT:
{{input}}`,
	PromptExplain: `You write short, polite refusal messages for a content safety filter.
The user's message was rejected because it contains content of type {{category}}.
Write one sentence telling the user this kind of content is not allowed. Do not repeat the content.
Respond with a JSON object {"message": "..."}.`,
	PromptDetectLanguage: `Identify the language of the input text.
Respond with a JSON object {"language": "<ISO 639-1 code>"}.

INPUT:
{{input}}`,
}

// StaticPromptProvider serves templates from a map.
type StaticPromptProvider map[string]string

// GetPrompt implements PromptProvider.
func (p StaticPromptProvider) GetPrompt(_ context.Context, id string) (string, error) {
	tmpl, ok := p[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrPromptNotFound, id)
	}
	return tmpl, nil
}

// LocalPromptProvider implements PromptProvider using local files named
// rootDir/{id}.txt. Missing files fall back to DefaultPrompts.
type LocalPromptProvider struct {
	rootDir string
}

// NewLocalPromptProvider creates a provider reading from the specified root directory.
func NewLocalPromptProvider(rootDir string) *LocalPromptProvider {
	if rootDir == "" {
		rootDir = "prompts"
	}
	return &LocalPromptProvider{rootDir: rootDir}
}

// GetPrompt implements PromptProvider.
func (p *LocalPromptProvider) GetPrompt(ctx context.Context, id string) (string, error) {
	if id == "" {
		return "", fmt.Errorf("prompt id is required")
	}
	path := filepath.Join(p.rootDir, cleanFilename(id)+".txt")
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StaticPromptProvider(DefaultPrompts).GetPrompt(ctx, id)
		}
		return "", fmt.Errorf("failed to read prompt %q: %w", id, err)
	}
	return string(content), nil
}

// Sanitize IDs to prevent directory traversal.
func cleanFilename(name string) string {
	return strings.ReplaceAll(strings.ReplaceAll(name, "..", ""), "/", "")
}

func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}
