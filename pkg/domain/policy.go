package domain

import (
	"math"
	"strings"
)

// ActionTaken names the outcome an action applied to the content.
type ActionTaken string

const (
	// ActionAllow passes content through unchanged.
	ActionAllow ActionTaken = "ALLOW"
	// ActionBlock stops the content as rejected.
	ActionBlock ActionTaken = "BLOCK"
	// ActionReplace substitutes triggered keywords with a placeholder.
	ActionReplace ActionTaken = "REPLACE"
	// ActionAnonymize substitutes triggered keywords with format-preserving synthetic values.
	ActionAnonymize ActionTaken = "ANONYMIZE"
	// ActionRaise stops the content as a compliance violation.
	ActionRaise ActionTaken = "RAISE"
)

// Stops reports whether the outcome halts the content instead of returning it.
func (a ActionTaken) Stops() bool {
	return a == ActionBlock || a == ActionRaise
}

// Transforms reports whether the outcome rewrites text and fills a transformation map.
func (a ActionTaken) Transforms() bool {
	return a == ActionReplace || a == ActionAnonymize
}

// PolicyInput carries the content submitted to a policy. Each channel is an
// ordered sequence of items; only Texts is inspected by the built-in rules, the
// media channels are opaque references that pass through untouched.
type PolicyInput struct {
	Texts  []string `json:"input_texts,omitempty" yaml:"input_texts,omitempty"`
	Images []string `json:"input_images,omitempty" yaml:"input_images,omitempty"`
	Videos []string `json:"input_videos,omitempty" yaml:"input_videos,omitempty"`
	Audios []string `json:"input_audios,omitempty" yaml:"input_audios,omitempty"`
	Files  []string `json:"input_files,omitempty" yaml:"input_files,omitempty"`

	// Protected lists replacement values written by earlier pipeline stages.
	// Rules never report evidence inside them and actions never rewrite them.
	Protected []string `json:"protected,omitempty" yaml:"protected,omitempty"`
}

// NewTextInput builds an input with only the text channel populated.
func NewTextInput(texts ...string) PolicyInput {
	return PolicyInput{Texts: append([]string(nil), texts...)}
}

// Empty reports whether every channel is empty.
func (in PolicyInput) Empty() bool {
	return len(in.Texts) == 0 && len(in.Images) == 0 && len(in.Videos) == 0 &&
		len(in.Audios) == 0 && len(in.Files) == 0
}

// JoinedText concatenates the text channel with sep.
func (in PolicyInput) JoinedText(sep string) string {
	return strings.Join(in.Texts, sep)
}

// Clone returns a deep copy so callers can hand the input to concurrent executions.
func (in PolicyInput) Clone() PolicyInput {
	return PolicyInput{
		Texts:     cloneStrings(in.Texts),
		Images:    cloneStrings(in.Images),
		Videos:    cloneStrings(in.Videos),
		Audios:    cloneStrings(in.Audios),
		Files:     cloneStrings(in.Files),
		Protected: cloneStrings(in.Protected),
	}
}

// RuleOutput is the result of a detection run.
type RuleOutput struct {
	Confidence        float64  `json:"confidence"`
	ContentType       string   `json:"content_type"`
	Details           string   `json:"details"`
	TriggeredKeywords []string `json:"triggered_keywords"`
}

// NoMatch returns a neutral result for contentType.
func NoMatch(contentType, details string) RuleOutput {
	return RuleOutput{
		Confidence:        0,
		ContentType:       contentType,
		Details:           details,
		TriggeredKeywords: []string{},
	}
}

// Matched reports whether any evidence was found.
func (r RuleOutput) Matched() bool {
	return len(r.TriggeredKeywords) > 0
}

// ClampConfidence bounds c to [0, 1]. NaN is treated as 0.
func ClampConfidence(c float64) float64 {
	switch {
	case math.IsNaN(c) || c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// ActionOutput is the metadata describing what an action did.
type ActionOutput struct {
	ActionTaken ActionTaken `json:"action_taken"`
	Message     string      `json:"message,omitempty"`
}

// PolicyOutput is the content returned by an action. Channels default to the
// corresponding input channel when the action did not modify them.
type PolicyOutput struct {
	Texts  []string `json:"output_texts"`
	Images []string `json:"output_images,omitempty"`
	Videos []string `json:"output_videos,omitempty"`
	Audios []string `json:"output_audios,omitempty"`
	Files  []string `json:"output_files,omitempty"`

	Action            ActionOutput      `json:"action_output"`
	TransformationMap TransformationMap `json:"transformation_map,omitempty"`

	protected []string
}

// PassThrough returns an output mirroring in with the given action metadata.
func PassThrough(in PolicyInput, action ActionOutput) PolicyOutput {
	return PolicyOutput{
		Texts:     cloneStrings(in.Texts),
		Images:    cloneStrings(in.Images),
		Videos:    cloneStrings(in.Videos),
		Audios:    cloneStrings(in.Audios),
		Files:     cloneStrings(in.Files),
		Action:    action,
		protected: cloneStrings(in.Protected),
	}
}

// Stopped returns the output for a block or raise outcome: content is stopped,
// so no output texts are produced.
func Stopped(in PolicyInput, action ActionOutput) PolicyOutput {
	out := PassThrough(in, action)
	out.Texts = nil
	return out
}

// NextInput builds the input for the next pipeline stage. Replacement values
// written by this stage are added to the protected set.
func (o PolicyOutput) NextInput() PolicyInput {
	var protected []string
	protected = append(protected, o.protected...)
	seen := make(map[string]struct{}, len(protected))
	for _, p := range protected {
		seen[p] = struct{}{}
	}
	for _, idx := range o.TransformationMap.Indexes() {
		for _, pair := range o.TransformationMap.Pairs(idx) {
			repl := pair.Replacement
			if _, ok := seen[repl]; ok || repl == "" {
				continue
			}
			seen[repl] = struct{}{}
			protected = append(protected, repl)
		}
	}
	return PolicyInput{
		Texts:     cloneStrings(o.Texts),
		Images:    cloneStrings(o.Images),
		Videos:    cloneStrings(o.Videos),
		Audios:    cloneStrings(o.Audios),
		Files:     cloneStrings(o.Files),
		Protected: protected,
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}
