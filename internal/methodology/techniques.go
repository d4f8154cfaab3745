package methodology

import (
	"context"
	"strings"

	"cothink/internal/llm"
	"cothink/internal/logging"
)

// Technique identifies a focused reasoning technique that runs as a
// conversation until the user bails out. The set is closed: diagnosis
// output that matches nothing maps to TechniqueStages (the full
// pipeline), never to an unresolved dispatch.
type Technique string

const (
	// TechniqueStages selects the full five-stage pipeline.
	TechniqueStages Technique = "stages"

	// TechniqueRubberDuck listens and asks simple clarifying questions.
	TechniqueRubberDuck Technique = "rubber_duck"

	// TechniqueFiveWhys drills toward a root cause.
	TechniqueFiveWhys Technique = "five_whys"

	// TechniqueBrainstorm runs a constrained brainstorm.
	TechniqueBrainstorm Technique = "constrained_brainstorm"
)

// StopSentinel is emitted by a technique when the user wants out; the
// controller returns to Copilot mode on seeing it.
const StopSentinel = "[STOP_TECHNIQUE]"

// ContainsStopSentinel reports whether technique output carries the
// stop sentinel.
func ContainsStopSentinel(output string) bool {
	return strings.Contains(output, StopSentinel)
}

// StripStopSentinel removes the sentinel from user-visible output.
func StripStopSentinel(output string) string {
	return strings.TrimSpace(strings.ReplaceAll(output, StopSentinel, ""))
}

// techniqueDirectives is the closed dispatch table.
var techniqueDirectives = map[Technique]string{
	TechniqueRubberDuck: "Your role is a rubber duck. You know nothing about the user's problem. Listen and " +
		"ask simple clarifying questions, one at a time. Never propose solutions; let the user find the " +
		"answer by explaining. Safety rule: if the user wants to stop, include " + StopSentinel + " in your reply.",
	TechniqueFiveWhys: "Your role is a coach using the Five Whys technique. Ask 'why?' about each of the " +
		"user's statements until you reach a root cause, then summarize the chain. Safety rule: if the " +
		"user wants to stop, include " + StopSentinel + " in your reply.",
	TechniqueBrainstorm: "Your role is a brainstorm facilitator. Impose one unexpected constraint (tiny " +
		"budget, one hour, no computers) and ask for ideas within it, contributing a few of your own. " +
		"Safety rule: if the user wants to stop, include " + StopSentinel + " in your reply.",
}

// selectDirective asks for a one-word diagnosis of the problem text.
var selectDirective = "Classify which approach fits the user's problem best. Reply with exactly one of: " +
	"rubber_duck (the user mainly needs to talk it through), " +
	"five_whys (a recurring concrete problem whose root cause is unclear), " +
	"constrained_brainstorm (the user is stuck generating options), " +
	"stages (a complex situation deserving full structured analysis). " +
	"Reply with the single identifier and nothing else."

// TechniqueRunner selects techniques and executes their exchanges.
type TechniqueRunner struct {
	generator llm.Generator
}

// NewTechniqueRunner wires the runner to the generation collaborator.
func NewTechniqueRunner(generator llm.Generator) *TechniqueRunner {
	return &TechniqueRunner{generator: generator}
}

// Select diagnoses the problem description with a one-shot
// classification. Any failure or unrecognized identifier falls back to
// the full pipeline.
func (r *TechniqueRunner) Select(ctx context.Context, problem string) Technique {
	reply, err := r.generator.Generate(ctx, selectDirective, nil, problem)
	if err != nil {
		logging.MethodologyDebug("technique diagnosis failed, defaulting to stages: %v", err)
		return TechniqueStages
	}

	// Keep underscores: technique identifiers are snake_case.
	cleaned := strings.ToLower(strings.TrimSpace(reply))
	cleaned = strings.Trim(cleaned, "`'\".,:; \n")
	if fields := strings.Fields(cleaned); len(fields) > 0 {
		cleaned = fields[0]
	}
	candidate := Technique(cleaned)
	switch candidate {
	case TechniqueRubberDuck, TechniqueFiveWhys, TechniqueBrainstorm, TechniqueStages:
		logging.Methodology("diagnosis selected technique %s", candidate)
		return candidate
	default:
		logging.MethodologyDebug("unrecognized technique %q, defaulting to stages", reply)
		return TechniqueStages
	}
}

// Run executes one technique exchange against the accumulated
// transcript.
func (r *TechniqueRunner) Run(ctx context.Context, technique Technique, transcript string) (string, error) {
	directive, ok := techniqueDirectives[technique]
	if !ok {
		// Closed enum: unknown identifiers were already mapped to
		// TechniqueStages by Select, so this is a programming error.
		directive = techniqueDirectives[TechniqueRubberDuck]
	}
	return r.generator.Generate(ctx, directive, nil, transcript)
}
