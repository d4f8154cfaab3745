package methodology

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cothink/internal/llm"
)

// scriptedGenerator pops replies in order; an entry with err set fails
// that call.
type scriptedGenerator struct {
	replies []scriptedReply
	calls   []string // messages received, for working-context assertions
}

type scriptedReply struct {
	text string
	err  error
}

func (s *scriptedGenerator) next() (string, error) {
	if len(s.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	return reply.text, reply.err
}

func (s *scriptedGenerator) Generate(_ context.Context, _ string, _ []llm.Turn, message string) (string, error) {
	s.calls = append(s.calls, message)
	return s.next()
}

func (s *scriptedGenerator) GenerateJSON(_ context.Context, _ string, message string) (string, error) {
	s.calls = append(s.calls, message)
	return s.next()
}

func ok(text string) scriptedReply { return scriptedReply{text: text} }

func fail() scriptedReply { return scriptedReply{err: errors.New("backend down")} }

func TestIdleInvitesProblemStatement(t *testing.T) {
	m := NewMachine(&scriptedGenerator{})

	result := m.Handle(context.Background(), "/partner")
	if result.Reply != invitation {
		t.Errorf("idle reply = %q, want the invitation", result.Reply)
	}
	if m.Stage() != StageAwaitingProblem {
		t.Errorf("stage = %s, want awaiting_problem", m.Stage())
	}
}

func TestProblemRunsDeconstructionImmediately(t *testing.T) {
	gen := &scriptedGenerator{replies: []scriptedReply{
		ok("stages"),               // technique diagnosis
		ok("fact map of the mess"), // deconstruction output
	}}
	m := NewMachine(gen)
	ctx := context.Background()

	m.Handle(ctx, "")
	result := m.Handle(ctx, "my team ignores my proposals")

	if m.Stage() != StageDeconstruction {
		t.Errorf("stage = %s, want deconstruction", m.Stage())
	}
	if !strings.Contains(result.Reply, "fact map of the mess") {
		t.Errorf("reply missing stage output: %q", result.Reply)
	}
	if !strings.Contains(result.Reply, stagePrompt[StageDeconstruction]) {
		t.Errorf("reply missing the continuation prompt: %q", result.Reply)
	}
}

func TestContinuationWalksTheFullPipeline(t *testing.T) {
	gen := &scriptedGenerator{replies: []scriptedReply{
		ok("stages"),
		ok("facts"),
		ok("hypotheses"),
		ok("stress tests"),
		ok("synthesis"),
		ok("assimilation"),
	}}
	m := NewMachine(gen)
	ctx := context.Background()

	m.Handle(ctx, "")
	m.Handle(ctx, "I keep missing deadlines")

	expected := []Stage{StageHypothesisField, StageStressTesting, StageSynthesis, StageAssimilation}
	for _, want := range expected {
		result := m.Handle(ctx, "continue")
		if m.Stage() != want {
			t.Fatalf("stage = %s, want %s", m.Stage(), want)
		}
		if result.CycleComplete {
			t.Fatalf("cycle reported complete at %s", want)
		}
	}

	// One more continuation closes the cycle and resets the machine.
	result := m.Handle(ctx, "continue")
	if !result.CycleComplete {
		t.Errorf("expected cycle completion")
	}
	if result.Reply != cycleComplete {
		t.Errorf("completion reply = %q", result.Reply)
	}
	if m.Stage() != StageIdle {
		t.Errorf("stage after completion = %s, want idle", m.Stage())
	}
}

func TestNonContinuationRefinesWithoutAdvancing(t *testing.T) {
	gen := &scriptedGenerator{replies: []scriptedReply{
		ok("stages"),
		ok("facts"),
		ok("refined facts"),
		ok("refined again"),
	}}
	m := NewMachine(gen)
	ctx := context.Background()

	m.Handle(ctx, "")
	m.Handle(ctx, "my problem")

	for _, input := range []string{"also, my manager is new", "and the budget shrank"} {
		result := m.Handle(ctx, input)
		if m.Stage() != StageDeconstruction {
			t.Fatalf("refinement advanced the stage to %s", m.Stage())
		}
		if !strings.Contains(result.Reply, "refined") {
			t.Errorf("refinement reply = %q", result.Reply)
		}
	}

	// Later stages see both the stage outputs and the refinement input.
	last := gen.calls[len(gen.calls)-1]
	if !strings.Contains(last, "my problem") || !strings.Contains(last, "and the budget shrank") {
		t.Errorf("working context missing accumulated content: %q", last)
	}
}

func TestGeneratorFailureApologizesWithoutAdvancing(t *testing.T) {
	gen := &scriptedGenerator{replies: []scriptedReply{
		ok("stages"),
		ok("facts"),
		fail(),          // hypothesis generation fails
		ok("hypotheses"), // retry succeeds
	}}
	m := NewMachine(gen)
	ctx := context.Background()

	m.Handle(ctx, "")
	m.Handle(ctx, "my problem")

	result := m.Handle(ctx, "continue")
	if result.Reply != Apology {
		t.Errorf("failure reply = %q, want the apology", result.Reply)
	}
	if m.Stage() != StageDeconstruction {
		t.Errorf("stage advanced despite failure: %s", m.Stage())
	}

	// The same continuation succeeds on retry.
	result = m.Handle(ctx, "continue")
	if m.Stage() != StageHypothesisField {
		t.Errorf("retry did not advance: %s", m.Stage())
	}
	if strings.Contains(result.Reply, Apology) {
		t.Errorf("retry still apologized: %q", result.Reply)
	}
}

func TestTechniqueStopSentinelForcesCopilot(t *testing.T) {
	gen := &scriptedGenerator{replies: []scriptedReply{
		ok("rubber_duck"),
		ok("Understood, we can stop here. " + StopSentinel),
	}}
	m := NewMachine(gen)
	ctx := context.Background()

	m.Handle(ctx, "")
	result := m.Handle(ctx, "I just need to talk this out")

	if !result.ForceCopilot {
		t.Errorf("expected ForceCopilot on the stop sentinel")
	}
	if strings.Contains(result.Reply, StopSentinel) {
		t.Errorf("sentinel leaked into the user-visible reply: %q", result.Reply)
	}
	if m.Stage() != StageIdle {
		t.Errorf("stage after technique = %s, want idle", m.Stage())
	}
}

func TestTechniqueWithoutSentinelStaysActive(t *testing.T) {
	gen := &scriptedGenerator{replies: []scriptedReply{
		ok("five_whys"),
		ok("Why do you think the deploy failed?"),
	}}
	m := NewMachine(gen)
	ctx := context.Background()

	m.Handle(ctx, "")
	result := m.Handle(ctx, "our deploys keep failing")

	if result.ForceCopilot {
		t.Errorf("ForceCopilot set without a sentinel")
	}
	if result.Reply != "Why do you think the deploy failed?" {
		t.Errorf("technique reply = %q", result.Reply)
	}
	if m.Stage() != StageTechnique {
		t.Errorf("stage = %s, want technique", m.Stage())
	}
}

func TestTechniqueSpansMultipleTurns(t *testing.T) {
	gen := &scriptedGenerator{replies: []scriptedReply{
		ok("five_whys"),
		ok("Why do you think the deploy failed?"),
		ok("Why are the tests flaky?"),
		ok("Root cause found: no test isolation. " + StopSentinel),
	}}
	m := NewMachine(gen)
	ctx := context.Background()

	m.Handle(ctx, "")
	m.Handle(ctx, "our deploys keep failing")

	// The follow-up answer must reach the technique, not a fresh
	// problem invitation.
	result := m.Handle(ctx, "because the tests are flaky")
	if result.Reply != "Why are the tests flaky?" {
		t.Fatalf("follow-up reply = %q", result.Reply)
	}
	if m.Stage() != StageTechnique {
		t.Fatalf("stage = %s, want technique", m.Stage())
	}
	last := gen.calls[len(gen.calls)-1]
	if !strings.Contains(last, "because the tests are flaky") {
		t.Errorf("transcript missing the follow-up answer: %q", last)
	}
	if !strings.Contains(last, "our deploys keep failing") {
		t.Errorf("transcript missing the problem statement: %q", last)
	}

	// The sentinel still works after several exchanges.
	result = m.Handle(ctx, "hm, they share a database")
	if !result.ForceCopilot {
		t.Errorf("expected ForceCopilot on the sentinel")
	}
	if m.Stage() != StageIdle {
		t.Errorf("stage after stop = %s, want idle", m.Stage())
	}
}

func TestContinuationEndsTechnique(t *testing.T) {
	gen := &scriptedGenerator{replies: []scriptedReply{
		ok("rubber_duck"),
		ok("Tell me more about the setup."),
	}}
	m := NewMachine(gen)
	ctx := context.Background()

	m.Handle(ctx, "")
	m.Handle(ctx, "I just need to talk this out")

	result := m.Handle(ctx, "done")
	if result.Reply != techniqueClosed {
		t.Errorf("closing reply = %q", result.Reply)
	}
	if result.ForceCopilot {
		t.Errorf("ForceCopilot set on a plain close")
	}
	if m.Stage() != StageIdle {
		t.Errorf("stage = %s, want idle", m.Stage())
	}
}

func TestIsContinuation(t *testing.T) {
	cases := map[string]bool{
		"continue":        true,
		"  Continue!  ":   true,
		"yes":             true,
		"Let's continue.": true,
		"next step":       true,
		"why though":      false,
		"continue but first tell me more": false,
		"": false,
	}
	for input, want := range cases {
		if got := IsContinuation(input); got != want {
			t.Errorf("IsContinuation(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestSelectFallsBackToStages(t *testing.T) {
	cases := []scriptedReply{
		ok("interpretive_dance"),
		fail(),
		ok("RUBBER duck feathers extra words"),
	}
	wants := []Technique{TechniqueStages, TechniqueStages, TechniqueStages}

	for i, reply := range cases {
		runner := NewTechniqueRunner(&scriptedGenerator{replies: []scriptedReply{reply}})
		if got := runner.Select(context.Background(), "problem"); got != wants[i] {
			t.Errorf("case %d: Select = %s, want %s", i, got, wants[i])
		}
	}
}

func TestSelectRecognizesDecoratedIdentifiers(t *testing.T) {
	runner := NewTechniqueRunner(&scriptedGenerator{replies: []scriptedReply{
		ok("`rubber_duck`\n"),
	}})
	if got := runner.Select(context.Background(), "problem"); got != TechniqueRubberDuck {
		t.Errorf("Select = %s, want rubber_duck", got)
	}
}
