package signal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"cothink/internal/classifier"
	"cothink/internal/llm"
	"cothink/internal/memory"
	"cothink/internal/recall"
)

// fakeClassifier returns a scripted analysis or error.
type fakeClassifier struct {
	analysis classifier.Analysis
	err      error
}

func (f *fakeClassifier) Classify(_ context.Context, _ string) (classifier.Analysis, error) {
	if f.err != nil {
		return classifier.Neutral(), f.err
	}
	return f.analysis, nil
}

// fakeGenerator returns a fixed reply; used here only for the
// significance score.
type fakeGenerator struct {
	reply string
	err   error
}

func (f *fakeGenerator) Generate(_ context.Context, _ string, _ []llm.Turn, _ string) (string, error) {
	return f.reply, f.err
}

func (f *fakeGenerator) GenerateJSON(_ context.Context, _ string, _ string) (string, error) {
	return f.reply, f.err
}

func newTestDeps(t *testing.T) (*memory.Store, *recall.Index) {
	t.Helper()
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	idx, err := recall.NewIndex(store.DB(), nil)
	if err != nil {
		t.Fatalf("NewIndex failed: %v", err)
	}
	return store, idx
}

func detection(label string, confidence int) classifier.Detection {
	return classifier.Detection{Label: label, Confidence: confidence, Justification: "test"}
}

func TestAnalyzeSkipsShortInput(t *testing.T) {
	store, idx := newTestDeps(t)
	cls := &fakeClassifier{err: errors.New("must not be called")}
	p := NewPipeline(store, idx, cls, nil, nil, DefaultConfig())

	outcome, err := p.Analyze(context.Background(), "alice", "ok then")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !outcome.Skipped {
		t.Errorf("expected short input to be skipped")
	}
	if outcome.Analysis.Tone != "neutral" {
		t.Errorf("skipped outcome tone = %q, want neutral", outcome.Analysis.Tone)
	}
}

func TestAnalyzeClassifierFailureLeavesProfileUntouched(t *testing.T) {
	store, idx := newTestDeps(t)

	if err := store.SetToneStyle("alice", "anxious", "verbose"); err != nil {
		t.Fatalf("SetToneStyle failed: %v", err)
	}

	cls := &fakeClassifier{err: errors.New("malformed output")}
	p := NewPipeline(store, idx, cls, nil, nil, DefaultConfig())

	outcome, err := p.Analyze(context.Background(), "alice", "I am certain everything will fall apart tomorrow")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(outcome.Recorded) != 0 {
		t.Errorf("observations recorded despite classifier failure: %v", outcome.Recorded)
	}
	if outcome.ProposePartner {
		t.Errorf("proposal fired despite classifier failure")
	}

	profile, err := store.Profile("alice")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.LastTone != "anxious" || profile.LastStyle != "verbose" {
		t.Errorf("tone/style overwritten on failure: %q/%q", profile.LastTone, profile.LastStyle)
	}
}

func TestAnalyzeRecordsMappedConfidentDetections(t *testing.T) {
	store, idx := newTestDeps(t)

	cls := &fakeClassifier{analysis: classifier.Analysis{
		Patterns: []classifier.Detection{
			detection("catastrophizing", 85),
			detection("mind_reading", 40),    // below confidence gate
			detection("made_up_label", 95),   // unmapped
			detection("catastrophizing", 90), // duplicate kind, still one Recorded entry
		},
		Tone:  "anxious",
		Style: "rambling",
	}}
	p := NewPipeline(store, idx, cls, nil, nil, DefaultConfig())

	outcome, err := p.Analyze(context.Background(), "alice", "everything I touch is doomed to fail")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}

	if len(outcome.Recorded) != 1 || outcome.Recorded[0] != memory.KindCatastrophizing {
		t.Errorf("Recorded = %v, want [catastrophizing]", outcome.Recorded)
	}

	count, err := store.Frequency("alice", memory.KindCatastrophizing)
	if err != nil {
		t.Fatalf("Frequency failed: %v", err)
	}
	if count != 2 {
		t.Errorf("catastrophizing frequency = %d, want 2 (both confident detections)", count)
	}
	if count, _ := store.Frequency("alice", memory.KindMindReading); count != 0 {
		t.Errorf("low-confidence detection was recorded")
	}

	profile, err := store.Profile("alice")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.LastTone != "anxious" || profile.LastStyle != "rambling" {
		t.Errorf("tone/style not updated: %q/%q", profile.LastTone, profile.LastStyle)
	}
}

func TestProposePartnerOnTwoDistinctKinds(t *testing.T) {
	store, idx := newTestDeps(t)

	cls := &fakeClassifier{analysis: classifier.Analysis{
		Patterns: []classifier.Detection{
			detection("catastrophizing", 85),
			detection("mind_reading", 80),
		},
		Tone:  "anxious",
		Style: "neutral",
	}}
	p := NewPipeline(store, idx, cls, nil, nil, DefaultConfig())

	outcome, err := p.Analyze(context.Background(), "alice", "they all think I will ruin the whole project")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if !outcome.ProposePartner {
		t.Errorf("expected proposal with two distinct kinds in one utterance")
	}
}

func TestProposePartnerOnRepeatedKind(t *testing.T) {
	store, idx := newTestDeps(t)

	cls := &fakeClassifier{analysis: classifier.Analysis{
		Patterns: []classifier.Detection{detection("overgeneralization", 85)},
		Tone:     "neutral",
		Style:    "neutral",
	}}
	p := NewPipeline(store, idx, cls, nil, nil, DefaultConfig())
	ctx := context.Background()

	outcome, err := p.Analyze(ctx, "alice", "this always happens to me at work")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if outcome.ProposePartner {
		t.Errorf("proposal fired on the first occurrence")
	}

	outcome, err = p.Analyze(ctx, "alice", "nothing I plan ever works out anyway")
	if err != nil {
		t.Fatalf("second Analyze failed: %v", err)
	}
	if !outcome.ProposePartner {
		t.Errorf("expected proposal once the kind repeated")
	}
}

func TestSignificanceGatesArchiving(t *testing.T) {
	cls := &fakeClassifier{analysis: classifier.Neutral()}
	ctx := context.Background()
	text := "I decided to leave my job next spring and move to Lisbon"

	cases := []struct {
		name     string
		score    string
		err      error
		archived bool
	}{
		{"high score archives", "0.9", nil, true},
		{"low score skips", "0.2", nil, false},
		{"cutoff is exclusive", "0.6", nil, false},
		{"scoring failure fails closed", "", errors.New("backend down"), false},
		{"unparseable score fails closed", "quite important", nil, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store, idx := newTestDeps(t)
			gen := &fakeGenerator{reply: tc.score, err: tc.err}
			p := NewPipeline(store, idx, cls, gen, nil, DefaultConfig())

			outcome, err := p.Analyze(ctx, "alice", text)
			if err != nil {
				t.Fatalf("Analyze failed: %v", err)
			}
			if outcome.Archived != tc.archived {
				t.Errorf("Archived = %v, want %v", outcome.Archived, tc.archived)
			}
			count, _ := idx.Count("alice")
			want := 0
			if tc.archived {
				want = 1
			}
			if count != want {
				t.Errorf("recall count = %d, want %d", count, want)
			}
		})
	}
}

func TestShortUtteranceNeverArchived(t *testing.T) {
	store, idx := newTestDeps(t)
	cls := &fakeClassifier{analysis: classifier.Neutral()}
	gen := &fakeGenerator{reply: "1.0"}

	cfg := DefaultConfig()
	cfg.MinTokens = 1
	p := NewPipeline(store, idx, cls, gen, nil, cfg)

	outcome, err := p.Analyze(context.Background(), "alice", "big news today")
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if outcome.Archived {
		t.Errorf("utterance below the word floor was archived")
	}
}
