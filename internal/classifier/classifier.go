// Package classifier provides the bias/sentiment classification
// collaborator. The production implementation asks the LLM to label an
// utterance against a fixed cognitive-bias taxonomy and to name the
// dominant tone and communication style. Output is best-effort: any
// malformed response degrades to the neutral default.
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cothink/internal/llm"
	"cothink/internal/logging"
)

// Detection is one labeled signal found in an utterance.
type Detection struct {
	Label         string `json:"label"`
	Confidence    int    `json:"confidence"`
	Justification string `json:"justification"`
}

// Analysis is the full classification result for one utterance.
type Analysis struct {
	Patterns []Detection `json:"patterns"`
	Tone     string      `json:"tone"`
	Style    string      `json:"style"`
}

// Neutral returns the default analysis used when classification is
// skipped or fails.
func Neutral() Analysis {
	return Analysis{Tone: "neutral", Style: "neutral"}
}

// Classifier labels free text with behavioral signals.
type Classifier interface {
	// Classify analyzes text. Empty text yields the neutral default
	// without a collaborator call.
	Classify(ctx context.Context, text string) (Analysis, error)
}

// BiasEntry describes one taxonomy label for the classifier prompt.
type BiasEntry struct {
	Label       string
	Description string
}

// DefaultTaxonomy is the cognitive-bias vocabulary the classifier is
// prompted with. Labels double as the keys of the signal pipeline's
// label mapping.
var DefaultTaxonomy = []BiasEntry{
	{"catastrophizing", "assuming the worst possible outcome of an event and treating it as certain"},
	{"black_and_white_thinking", "framing situations as total success or total failure with no middle ground"},
	{"overgeneralization", "deriving a universal rule from a single event (always, never, everyone)"},
	{"personalization", "taking responsibility or blame for events outside one's control"},
	{"mind_reading", "asserting knowledge of what others think or feel without evidence"},
	{"emotional_reasoning", "treating a feeling as proof of a fact"},
	{"hindsight_bias", "judging past decisions by information only available afterwards"},
}

// LLMClassifier implements Classifier on top of the generation collaborator.
type LLMClassifier struct {
	generator llm.Generator
	directive string
}

// NewLLMClassifier builds a classifier using the given taxonomy; a nil
// or empty taxonomy falls back to DefaultTaxonomy.
func NewLLMClassifier(generator llm.Generator, taxonomy []BiasEntry) *LLMClassifier {
	if len(taxonomy) == 0 {
		taxonomy = DefaultTaxonomy
	}
	return &LLMClassifier{
		generator: generator,
		directive: buildDirective(taxonomy),
	}
}

func buildDirective(taxonomy []BiasEntry) string {
	var sb strings.Builder
	sb.WriteString("You are an expert in cognitive behavioral therapy. ")
	sb.WriteString("Analyze the user's text for signs of the following cognitive distortions:\n")
	for _, entry := range taxonomy {
		fmt.Fprintf(&sb, "- %s: %s\n", entry.Label, entry.Description)
	}
	sb.WriteString(`
Respond with a single JSON object and nothing else:
{
  "patterns": [
    {"label": "<exact label from the list>", "confidence": <0-100>, "justification": "<1-2 sentences quoting the text>"}
  ],
  "tone": "<dominant emotional tone, one or two words>",
  "style": "<communication style, one or two words>"
}
Return an empty patterns array when no distortion from the list is present.
Do not invent labels outside the list.`)
	return sb.String()
}

// Classify implements Classifier.
func (c *LLMClassifier) Classify(ctx context.Context, text string) (Analysis, error) {
	if strings.TrimSpace(text) == "" {
		return Neutral(), nil
	}

	raw, err := c.generator.GenerateJSON(ctx, c.directive, "Analyze this text: "+text)
	if err != nil {
		return Neutral(), fmt.Errorf("classifier call failed: %w", err)
	}

	analysis, err := parseAnalysis(raw)
	if err != nil {
		logging.Get(logging.CategoryAPI).Warnf("classifier returned malformed output: %v", err)
		return Neutral(), fmt.Errorf("classifier output malformed: %w", err)
	}
	return analysis, nil
}

// parseAnalysis decodes the classifier JSON, tolerating markdown fences
// around the payload.
func parseAnalysis(raw string) (Analysis, error) {
	cleaned := StripJSONFences(raw)

	var analysis Analysis
	if err := json.Unmarshal([]byte(cleaned), &analysis); err != nil {
		return Analysis{}, err
	}

	if analysis.Tone == "" {
		analysis.Tone = "neutral"
	}
	if analysis.Style == "" {
		analysis.Style = "neutral"
	}

	// Clamp confidences into the contract range.
	kept := analysis.Patterns[:0]
	for _, d := range analysis.Patterns {
		if d.Label == "" {
			continue
		}
		if d.Confidence < 0 {
			d.Confidence = 0
		}
		if d.Confidence > 100 {
			d.Confidence = 100
		}
		kept = append(kept, d)
	}
	analysis.Patterns = kept
	return analysis, nil
}

// StripJSONFences removes a surrounding markdown code fence from an LLM
// response so the payload can be unmarshalled directly.
func StripJSONFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if idx := strings.Index(cleaned, "```json"); idx >= 0 {
		cleaned = cleaned[idx+len("```json"):]
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
		if end := strings.Index(cleaned, "```"); end >= 0 {
			cleaned = cleaned[:end]
		}
	}
	return strings.TrimSpace(cleaned)
}
