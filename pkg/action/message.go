package action

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/polisai/polis-safety/pkg/capability"
)

// Default static messages. %s is replaced by the rule's content type.
const (
	DefaultBlockMessage = "Content of type %s is not allowed."
	DefaultRaiseMessage = "Compliance violation: content of type %s detected."
)

// Message renders the human-readable text attached to BLOCK and RAISE outcomes.
type Message interface {
	Render(ctx context.Context, contentType string) string
}

// StaticMessage is a fixed message. A single %s verb, if present, is replaced
// with the content type.
type StaticMessage string

// Render implements Message.
func (m StaticMessage) Render(_ context.Context, contentType string) string {
	if strings.Count(string(m), "%s") == 1 {
		return fmt.Sprintf(string(m), contentType)
	}
	return string(m)
}

// ExplainedMessage asks an Explainer why content of the given type was
// rejected. When the capability fails the Fallback is rendered instead and a
// warning is logged; the outcome itself is unaffected.
type ExplainedMessage struct {
	Explainer capability.Explainer
	Fallback  Message
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Render implements Message.
func (m ExplainedMessage) Render(ctx context.Context, contentType string) string {
	fallback := m.Fallback
	if fallback == nil {
		fallback = StaticMessage(DefaultBlockMessage)
	}
	if m.Explainer == nil {
		return fallback.Render(ctx, contentType)
	}

	msg, err := capability.Call(ctx, m.Timeout, func(ctx context.Context) (string, error) {
		return m.Explainer.Explain(ctx, contentType)
	})
	if err == nil {
		msg = strings.TrimSpace(msg)
	}
	if err != nil || msg == "" {
		logger := m.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("explain capability failed, using static message",
			"content_type", contentType,
			"error", err)
		return fallback.Render(ctx, contentType)
	}
	return msg
}

func messageOrDefault(m Message, def string) Message {
	if m == nil {
		return StaticMessage(def)
	}
	if em, ok := m.(ExplainedMessage); ok && em.Fallback == nil {
		em.Fallback = StaticMessage(def)
		return em
	}
	return m
}
