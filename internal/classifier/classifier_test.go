package classifier

import (
	"context"
	"errors"
	"testing"

	"cothink/internal/llm"
)

type fakeGenerator struct {
	reply string
	err   error
	calls int
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ []llm.Turn, _ string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, _ string, _ string) (string, error) {
	f.calls++
	return f.reply, f.err
}

func TestClassifyParsesWellFormedOutput(t *testing.T) {
	gen := &fakeGenerator{reply: `{
		"patterns": [{"label": "catastrophizing", "confidence": 85, "justification": "worst case assumed"}],
		"tone": "anxious",
		"style": "verbose"
	}`}
	cls := NewLLMClassifier(gen, nil)

	analysis, err := cls.Classify(context.Background(), "everything will go wrong")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(analysis.Patterns) != 1 || analysis.Patterns[0].Label != "catastrophizing" {
		t.Errorf("patterns = %v", analysis.Patterns)
	}
	if analysis.Tone != "anxious" || analysis.Style != "verbose" {
		t.Errorf("tone/style = %q/%q", analysis.Tone, analysis.Style)
	}
}

func TestClassifyToleratesMarkdownFences(t *testing.T) {
	gen := &fakeGenerator{reply: "```json\n{\"patterns\": [], \"tone\": \"calm\", \"style\": \"terse\"}\n```"}
	cls := NewLLMClassifier(gen, nil)

	analysis, err := cls.Classify(context.Background(), "all good here")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if analysis.Tone != "calm" {
		t.Errorf("tone = %q, want calm", analysis.Tone)
	}
}

func TestClassifyClampsConfidenceAndDropsEmptyLabels(t *testing.T) {
	gen := &fakeGenerator{reply: `{
		"patterns": [
			{"label": "mind_reading", "confidence": 140, "justification": "x"},
			{"label": "personalization", "confidence": -10, "justification": "y"},
			{"label": "", "confidence": 90, "justification": "z"}
		],
		"tone": "", "style": ""
	}`}
	cls := NewLLMClassifier(gen, nil)

	analysis, err := cls.Classify(context.Background(), "they clearly hate my work")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if len(analysis.Patterns) != 2 {
		t.Fatalf("patterns = %v, want 2 after dropping the unlabeled one", analysis.Patterns)
	}
	if analysis.Patterns[0].Confidence != 100 || analysis.Patterns[1].Confidence != 0 {
		t.Errorf("confidences not clamped: %v", analysis.Patterns)
	}
	if analysis.Tone != "neutral" || analysis.Style != "neutral" {
		t.Errorf("empty tone/style not defaulted: %q/%q", analysis.Tone, analysis.Style)
	}
}

func TestClassifyMalformedOutputReturnsNeutralAndError(t *testing.T) {
	gen := &fakeGenerator{reply: "I think the user seems quite anxious today"}
	cls := NewLLMClassifier(gen, nil)

	analysis, err := cls.Classify(context.Background(), "some text to analyze")
	if err == nil {
		t.Fatalf("expected an error for non-JSON output")
	}
	if analysis.Tone != "neutral" || len(analysis.Patterns) != 0 {
		t.Errorf("malformed output did not degrade to neutral: %+v", analysis)
	}
}

func TestClassifyBackendFailure(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("backend down")}
	cls := NewLLMClassifier(gen, nil)

	analysis, err := cls.Classify(context.Background(), "some text to analyze")
	if err == nil {
		t.Fatalf("expected an error when the backend fails")
	}
	if analysis.Tone != "neutral" {
		t.Errorf("failure did not degrade to neutral: %+v", analysis)
	}
}

func TestClassifyEmptyTextSkipsBackend(t *testing.T) {
	gen := &fakeGenerator{reply: "should not be called"}
	cls := NewLLMClassifier(gen, nil)

	analysis, err := cls.Classify(context.Background(), "   ")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if gen.calls != 0 {
		t.Errorf("backend called for empty text")
	}
	if analysis.Tone != "neutral" {
		t.Errorf("empty text analysis = %+v", analysis)
	}
}
