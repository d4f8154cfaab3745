// Package methodology implements the Partner-mode reasoning pipeline:
// a fixed-order sequence of stages that walk the user from a raw
// problem statement to an assimilated conclusion, plus a set of
// conversational techniques selected by diagnosing the problem text.
package methodology

import (
	"context"
	"fmt"
	"strings"

	"cothink/internal/llm"
	"cothink/internal/logging"
)

// Stage is one step of the reasoning pipeline.
type Stage int

const (
	StageIdle Stage = iota
	StageAwaitingProblem
	StageDeconstruction
	StageHypothesisField
	StageStressTesting
	StageSynthesis
	StageAssimilation
	StageTechnique
)

// stageOrder is the strict pipeline order; no cycles except the reset
// to StageIdle after StageAssimilation.
var stageOrder = []Stage{
	StageDeconstruction,
	StageHypothesisField,
	StageStressTesting,
	StageSynthesis,
	StageAssimilation,
}

// String implements fmt.Stringer.
func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "idle"
	case StageAwaitingProblem:
		return "awaiting_problem"
	case StageDeconstruction:
		return "deconstruction"
	case StageHypothesisField:
		return "hypothesis_field"
	case StageStressTesting:
		return "stress_testing"
	case StageSynthesis:
		return "synthesis"
	case StageAssimilation:
		return "assimilation"
	case StageTechnique:
		return "technique"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

func (s Stage) successor() (Stage, bool) {
	for i, stage := range stageOrder {
		if stage == s {
			if i+1 < len(stageOrder) {
				return stageOrder[i+1], true
			}
			return StageIdle, false
		}
	}
	return StageIdle, false
}

// stageDirectives hold the persona plus technique instructions sent as
// the system directive for each stage invocation.
var stageDirectives = map[Stage]string{
	StageDeconstruction: "You are an AI methodologist. Deconstruct the user's problem narrative into a " +
		"structured map of facts. Separate objective facts from subjective judgments and name the " +
		"assumptions hiding in the narrative. Present the result as a list of key facts.",
	StageHypothesisField: "You are an AI methodologist. From the fact map produced so far, generate a " +
		"field of distinct hypotheses that could explain or resolve the problem. Aim for breadth: " +
		"include at least one uncomfortable hypothesis and one optimistic one. Number each hypothesis.",
	StageStressTesting: "You are an AI methodologist. Stress-test the hypotheses produced so far. For " +
		"each one, name the strongest argument against it and what evidence would falsify it. Rank " +
		"the hypotheses by how well they survive.",
	StageSynthesis: "You are an AI methodologist. Synthesize the surviving hypotheses into one coherent " +
		"view of the problem and a small set of concrete next actions. Be specific and brief.",
	StageAssimilation: "You are an AI methodologist. Help the user assimilate the conclusions: restate " +
		"the key insight in their own terms, connect it to the original problem statement, and suggest " +
		"how to recognize the same trap earlier next time.",
}

// stageAnnounce introduces each stage's output.
var stageAnnounce = map[Stage]string{
	StageDeconstruction:  "Starting the Deconstruction module...",
	StageHypothesisField: "Generating hypotheses from the facts we established...",
	StageStressTesting:   "Stress-testing the hypotheses...",
	StageSynthesis:       "Synthesizing what survived...",
	StageAssimilation:    "Final step: assimilating the conclusions...",
}

// stagePrompt asks for the continuation signal after each stage.
var stagePrompt = map[Stage]string{
	StageDeconstruction:  "We finished the deconstruction. Continue to hypothesis generation? (say 'continue', or keep refining this step)",
	StageHypothesisField: "The hypothesis field is ready. Continue to stress-testing? (say 'continue', or keep refining)",
	StageStressTesting:   "Stress-testing done. Continue to synthesis? (say 'continue', or keep refining)",
	StageSynthesis:       "Synthesis complete. Continue to assimilation? (say 'continue', or keep refining)",
	StageAssimilation:    "When you are ready, say 'continue' to close this cycle.",
}

// Apology is returned when the generation collaborator fails; the stage
// does not advance and the user retries.
const Apology = "Sorry, something went wrong while processing this step. Let's try again."

// invitation opens a Partner session from the idle state.
const invitation = "Partner mode is active. Please describe the problem you want to work through."

// cycleComplete reports the end of a full pipeline pass.
const cycleComplete = "We have completed the full cycle: deconstruction, hypotheses, stress-testing, synthesis, and assimilation. Describe a new problem whenever you want to start again."

// techniqueClosed ends a technique on an explicit continuation phrase.
const techniqueClosed = "Okay, let's leave the exercise there. Describe a new problem whenever you want to keep working."

// continuationPhrases is the normalized continuation-intent set.
var continuationPhrases = map[string]bool{
	"yes":           true,
	"y":             true,
	"yeah":          true,
	"ok":            true,
	"okay":          true,
	"sure":          true,
	"continue":      true,
	"next":          true,
	"go on":         true,
	"proceed":       true,
	"lets continue": true,
	"lets go":       true,
	"next step":     true,
	"keep going":    true,
	"done":          true,
}

// IsContinuation reports whether the input signals advancing to the
// next stage. Matching is exact over a case/punctuation-normalized form.
func IsContinuation(input string) bool {
	return continuationPhrases[Normalize(input)]
}

// Normalize lowercases and strips punctuation for phrase matching.
func Normalize(input string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(input)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

// Result is the outcome of one Machine turn.
type Result struct {
	// Reply is the text shown to the user.
	Reply string

	// ForceCopilot is set when a technique emitted the stop sentinel.
	ForceCopilot bool

	// CycleComplete is set when the pipeline finished a full pass.
	CycleComplete bool
}

// Machine is the per-session methodology state machine.
type Machine struct {
	generator  llm.Generator
	techniques *TechniqueRunner

	stage     Stage
	technique Technique
	problem   string
	working   strings.Builder
}

// NewMachine creates an idle machine.
func NewMachine(generator llm.Generator) *Machine {
	return &Machine{
		generator:  generator,
		techniques: NewTechniqueRunner(generator),
		stage:      StageIdle,
	}
}

// Stage returns the current stage.
func (m *Machine) Stage() Stage {
	return m.stage
}

// Reset returns the machine to the initial state and clears the
// accumulated working text.
func (m *Machine) Reset() {
	m.stage = StageIdle
	m.technique = ""
	m.problem = ""
	m.working.Reset()
	logging.Methodology("state machine reset to idle")
}

// Handle processes one user input in Partner mode.
func (m *Machine) Handle(ctx context.Context, input string) Result {
	switch m.stage {
	case StageIdle:
		m.stage = StageAwaitingProblem
		return Result{Reply: invitation}

	case StageAwaitingProblem:
		return m.handleProblem(ctx, input)

	case StageTechnique:
		return m.handleTechnique(ctx, input)

	default:
		return m.handleStage(ctx, input)
	}
}

// handleProblem stores the working problem statement, diagnoses whether
// a focused technique fits better than the full pipeline, and otherwise
// immediately runs Deconstruction without consuming an extra user turn.
func (m *Machine) handleProblem(ctx context.Context, input string) Result {
	m.problem = input
	m.working.Reset()
	m.working.WriteString("Problem statement:\n" + input)

	technique := m.techniques.Select(ctx, input)
	if technique != TechniqueStages {
		return m.startTechnique(ctx, technique)
	}

	reply, ok := m.runStage(ctx, StageDeconstruction, m.working.String())
	if !ok {
		// Retry from the same state with a fresh problem description.
		return Result{Reply: Apology}
	}
	m.stage = StageDeconstruction
	return Result{Reply: reply}
}

// startTechnique runs the opening technique exchange against the
// problem statement and keeps the technique active for follow-up turns.
func (m *Machine) startTechnique(ctx context.Context, technique Technique) Result {
	output, err := m.techniques.Run(ctx, technique, m.working.String())
	if err != nil {
		logging.Get(logging.CategoryMethodology).Warnf("technique %s failed: %v", technique, err)
		return Result{Reply: Apology}
	}
	if ContainsStopSentinel(output) {
		m.Reset()
		return Result{Reply: StripStopSentinel(output), ForceCopilot: true}
	}

	m.technique = technique
	m.stage = StageTechnique
	fmt.Fprintf(&m.working, "\n\nAssistant: %s", output)
	return Result{Reply: output}
}

// handleTechnique continues the active technique: each input extends
// the exchange transcript and re-invokes the technique directive. The
// stop sentinel returns the session to Copilot; an explicit
// continuation phrase closes the technique and idles the machine.
func (m *Machine) handleTechnique(ctx context.Context, input string) Result {
	if IsContinuation(input) {
		m.Reset()
		return Result{Reply: techniqueClosed}
	}

	fmt.Fprintf(&m.working, "\n\nUser: %s", input)
	output, err := m.techniques.Run(ctx, m.technique, m.working.String())
	if err != nil {
		logging.Get(logging.CategoryMethodology).Warnf("technique %s failed: %v", m.technique, err)
		return Result{Reply: Apology}
	}
	if ContainsStopSentinel(output) {
		m.Reset()
		return Result{Reply: StripStopSentinel(output), ForceCopilot: true}
	}

	fmt.Fprintf(&m.working, "\n\nAssistant: %s", output)
	return Result{Reply: output}
}

// handleStage advances on continuation intent, otherwise refines the
// current stage with the raw input. Repeated non-continuation input
// never advances the state.
func (m *Machine) handleStage(ctx context.Context, input string) Result {
	if IsContinuation(input) {
		next, hasNext := m.stage.successor()
		if !hasNext {
			m.Reset()
			return Result{Reply: cycleComplete, CycleComplete: true}
		}
		reply, ok := m.runStage(ctx, next, m.working.String())
		if !ok {
			return Result{Reply: Apology}
		}
		m.stage = next
		return Result{Reply: reply}
	}

	// Iterative refinement within the current stage.
	refinement := fmt.Sprintf("%s\n\nThe user adds: %s", m.working.String(), input)
	reply, ok := m.runStage(ctx, m.stage, refinement)
	if !ok {
		return Result{Reply: Apology}
	}
	return Result{Reply: reply}
}

// runStage performs one stage invocation and appends the generated text
// to the monotonically growing working context, giving later stages
// full visibility into everything produced before them.
func (m *Machine) runStage(ctx context.Context, stage Stage, workingText string) (string, bool) {
	directive, ok := stageDirectives[stage]
	if !ok {
		return "", false
	}

	logging.Methodology("running stage %s (working context %d bytes)", stage, len(workingText))

	output, err := m.generator.Generate(ctx, directive, nil, workingText)
	if err != nil {
		logging.Get(logging.CategoryMethodology).Warnf("stage %s generation failed: %v", stage, err)
		return "", false
	}

	fmt.Fprintf(&m.working, "\n\n[%s]\n%s", stage, output)

	var sb strings.Builder
	sb.WriteString(stageAnnounce[stage])
	sb.WriteString("\n\n")
	sb.WriteString(output)
	sb.WriteString("\n\n---\n")
	sb.WriteString(stagePrompt[stage])
	return sb.String(), true
}
