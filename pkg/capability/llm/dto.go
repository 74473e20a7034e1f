// Package llm provides an OpenAI-compatible chat-completions adapter that
// implements the span finder, explainer and language detector capabilities.
package llm

// Prompt identifiers understood by a PromptProvider.
const (
	PromptFindSpans      = "find_spans"
	PromptExplain        = "explain"
	PromptDetectLanguage = "detect_language"
)

// spansResponse is the JSON object the model returns for span finding.
type spansResponse struct {
	Spans []string `json:"spans"`
}

// explainResponse is the JSON object the model returns for explanations.
type explainResponse struct {
	Message string `json:"message"`
}

// languageResponse is the JSON object the model returns for language detection.
type languageResponse struct {
	Language string `json:"language"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}
