// Package signal runs the per-utterance analysis pipeline: classify the
// text, write confirmed pattern observations, refresh the profile's
// tone and style, archive information-dense utterances into the recall
// index, and decide whether the detected signals warrant proposing
// Partner mode. The pipeline may run inline or off the reply path via
// Worker.
package signal

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"cothink/internal/classifier"
	"cothink/internal/llm"
	"cothink/internal/logging"
	"cothink/internal/memory"
	"cothink/internal/recall"
)

// Config tunes the pipeline thresholds.
type Config struct {
	// MinTokens below which the utterance is not analyzed at all.
	MinTokens int

	// MinConfidence a detection needs before an observation is written.
	MinConfidence int

	// SignificanceFloor is the word count under which an utterance is
	// never archived.
	SignificanceFloor int

	// SignificanceCutoff: archived only when the scored importance
	// exceeds this value.
	SignificanceCutoff float64
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		MinTokens:          4,
		MinConfidence:      60,
		SignificanceFloor:  5,
		SignificanceCutoff: 0.6,
	}
}

// Outcome reports what one analysis pass did.
type Outcome struct {
	// Analysis is the classifier result (neutral when skipped or failed).
	Analysis classifier.Analysis

	// Recorded lists the distinct pattern kinds written this pass.
	Recorded []memory.PatternKind

	// Archived is true when the utterance entered the recall index.
	Archived bool

	// ProposePartner is true when the mode-transition policy fired.
	ProposePartner bool

	// Skipped is true when the utterance was below the token minimum.
	Skipped bool
}

// DefaultLabelMap maps classifier labels onto internal pattern kinds.
// Unmapped labels are discarded, which guards against vocabulary drift
// in the external classifier.
func DefaultLabelMap() map[string]memory.PatternKind {
	return map[string]memory.PatternKind{
		"catastrophizing":          memory.KindCatastrophizing,
		"black_and_white_thinking": memory.KindBlackAndWhite,
		"overgeneralization":       memory.KindOvergeneralizing,
		"personalization":          memory.KindPersonalization,
		"mind_reading":             memory.KindMindReading,
		"emotional_reasoning":      memory.KindEmotionalReason,
		"hindsight_bias":           memory.KindHindsightBias,
	}
}

// Pipeline is the signal analysis pipeline for one deployment.
type Pipeline struct {
	store     *memory.Store
	index     *recall.Index
	cls       classifier.Classifier
	generator llm.Generator
	labelMap  map[string]memory.PatternKind
	cfg       Config
}

// NewPipeline wires the pipeline. generator is used only for the
// significance score; labelMap nil means DefaultLabelMap.
func NewPipeline(store *memory.Store, index *recall.Index, cls classifier.Classifier, generator llm.Generator, labelMap map[string]memory.PatternKind, cfg Config) *Pipeline {
	if labelMap == nil {
		labelMap = DefaultLabelMap()
	}
	return &Pipeline{
		store:     store,
		index:     index,
		cls:       cls,
		generator: generator,
		labelMap:  labelMap,
		cfg:       cfg,
	}
}

// Analyze runs the full pipeline for one user utterance. It never
// returns an error for collaborator failures; those degrade to the
// neutral path. Only store-level failures surface, and callers treat
// them as diagnostics.
func (p *Pipeline) Analyze(ctx context.Context, userKey, text string) (Outcome, error) {
	timer := logging.StartTimer(logging.CategoryPipeline, "Analyze")
	defer timer.Stop()

	words := strings.Fields(text)
	if len(words) < p.cfg.MinTokens {
		logging.PipelineDebug("skipping analysis for %q: %d tokens below minimum", userKey, len(words))
		return Outcome{Analysis: classifier.Neutral(), Skipped: true}, nil
	}

	outcome := Outcome{Analysis: classifier.Neutral()}

	analysis, err := p.cls.Classify(ctx, text)
	if err != nil {
		// Malformed or missing classifier output: proceed with the
		// neutral default and leave the profile untouched this turn.
		logging.Pipeline("classification degraded to neutral for %q: %v", userKey, err)
		return outcome, nil
	}
	outcome.Analysis = analysis

	recorded := make(map[memory.PatternKind]bool)
	for _, detection := range analysis.Patterns {
		kind, ok := p.labelMap[strings.ToLower(strings.TrimSpace(detection.Label))]
		if !ok {
			logging.PipelineDebug("discarding unmapped label %q", detection.Label)
			continue
		}
		if detection.Confidence < p.cfg.MinConfidence {
			continue
		}
		if err := p.store.RecordObservation(userKey, kind, detection.Confidence, detection.Justification); err != nil {
			logging.Get(logging.CategoryPipeline).Errorf("failed to record observation: %v", err)
			continue
		}
		if !recorded[kind] {
			recorded[kind] = true
			outcome.Recorded = append(outcome.Recorded, kind)
		}
	}

	if err := p.store.SetToneStyle(userKey, analysis.Tone, analysis.Style); err != nil {
		logging.Get(logging.CategoryPipeline).Errorf("failed to update tone/style: %v", err)
	}

	if p.significant(ctx, text) {
		meta := map[string]interface{}{"user": userKey, "source": "user_input"}
		if _, err := p.index.Add(ctx, userKey, text, meta); err != nil {
			logging.Get(logging.CategoryPipeline).Errorf("failed to archive utterance: %v", err)
		} else {
			outcome.Archived = true
		}
	}

	outcome.ProposePartner = p.shouldProposePartner(userKey, outcome.Recorded)
	return outcome, nil
}

// significant gates recall writes: a word-count floor, then an LLM
// importance score. Scoring failures fail closed so noise never
// pollutes recall.
func (p *Pipeline) significant(ctx context.Context, text string) bool {
	if len(strings.Fields(text)) < p.cfg.SignificanceFloor {
		return false
	}
	if p.generator == nil {
		return false
	}

	const directive = "Rate how information-dense the following message is for building a long-term profile " +
		"of its author: personal facts, goals, recurring concerns, and decisions score high; small talk " +
		"scores low. Respond with a single number between 0.0 and 1.0 and nothing else."

	reply, err := p.generator.Generate(ctx, directive, nil, text)
	if err != nil {
		logging.PipelineDebug("significance scoring failed, treating as not significant: %v", err)
		return false
	}

	score, err := parseScore(reply)
	if err != nil {
		logging.PipelineDebug("significance score unparseable (%q), treating as not significant", reply)
		return false
	}
	return score > p.cfg.SignificanceCutoff
}

// shouldProposePartner implements the mode-transition policy: two or
// more distinct kinds in this utterance, or any detected kind's
// cumulative count reaching 2.
func (p *Pipeline) shouldProposePartner(userKey string, recorded []memory.PatternKind) bool {
	if len(recorded) >= 2 {
		return true
	}
	for _, kind := range recorded {
		count, err := p.store.Frequency(userKey, kind)
		if err != nil {
			continue
		}
		if count >= 2 {
			return true
		}
	}
	return false
}

// parseScore extracts a 0..1 float from an LLM reply, tolerating
// surrounding prose.
func parseScore(reply string) (float64, error) {
	for _, field := range strings.Fields(strings.TrimSpace(reply)) {
		field = strings.Trim(field, ".,;:!")
		score, err := strconv.ParseFloat(field, 64)
		if err != nil {
			continue
		}
		if score < 0 || score > 1 {
			return 0, fmt.Errorf("score %f out of range", score)
		}
		return score, nil
	}
	return 0, fmt.Errorf("no numeric score in %q", reply)
}
