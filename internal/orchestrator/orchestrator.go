// Package orchestrator hosts the mode controller: the top-level loop
// that receives user turns, runs the signal pipeline, routes between
// Copilot and Partner handling, persists the transcript, and drives
// end-of-session summarization. One controller serves one user and
// handles turns strictly sequentially; different users get independent
// controllers via the Registry.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"cothink/internal/classifier"
	"cothink/internal/enrich"
	"cothink/internal/llm"
	"cothink/internal/logging"
	"cothink/internal/memory"
	"cothink/internal/methodology"
	"cothink/internal/recall"
	"cothink/internal/signal"
)

// Mode is the conversation handling mode.
type Mode string

const (
	ModeCopilot Mode = "copilot"
	ModePartner Mode = "partner"
)

// fallbackReply replaces a turn's output when everything else failed.
// Internal failures never escape ProcessInput.
const fallbackReply = "Sorry, I could not process that. Let's try again."

// partnerInvitation is appended to a Copilot reply when the
// mode-transition policy fires; at most once per Copilot session.
const partnerInvitation = "\n\nBy the way, I have noticed some recurring patterns in how we talk. " +
	"Want to switch to Partner mode and work through them together? (say '/partner')"

// copilotDirective is the direct-answer persona.
const copilotDirective = "You are a helpful assistant in Copilot mode. Answer the user's question " +
	"directly and efficiently. Use the memory context below only when it is relevant; never recite it."

// Config tunes one controller.
type Config struct {
	// Async routes signal analysis through a background worker.
	Async bool

	// AsyncDelay is the dispatch delay for background analysis.
	AsyncDelay time.Duration

	// RecallK is forwarded to the context assembler.
	RecallK int

	// Pipeline overrides the signal pipeline thresholds; the zero value
	// selects signal.DefaultConfig.
	Pipeline *signal.Config

	// HistoryWindow caps the short-term generation buffer.
	HistoryWindow int
}

// Controller is the per-user mode controller.
type Controller struct {
	userKey   string
	store     *memory.Store
	index     *recall.Index
	generator llm.Generator
	history   *llm.HistoryBuffer
	assembler *enrich.Assembler
	pipeline  *signal.Pipeline
	worker    *signal.Worker
	machine   *methodology.Machine

	mu                  sync.Mutex
	mode                Mode
	partnershipProposed bool
	pendingProposal     bool
	strategicNote       string
	noteDerived         bool
}

// NewController wires a controller for one user. The user row is
// created lazily on first contact.
func NewController(userKey string, store *memory.Store, index *recall.Index, generator llm.Generator, cls classifier.Classifier, cfg Config) (*Controller, error) {
	if _, err := store.EnsureUser(userKey); err != nil {
		return nil, fmt.Errorf("failed to ensure user: %w", err)
	}

	assembler := enrich.NewAssembler(store, index)
	if cfg.RecallK > 0 {
		assembler.RecallK = cfg.RecallK
	}

	pipelineCfg := signal.DefaultConfig()
	if cfg.Pipeline != nil {
		pipelineCfg = *cfg.Pipeline
	}
	pipeline := signal.NewPipeline(store, index, cls, generator, nil, pipelineCfg)

	window := cfg.HistoryWindow
	if window <= 0 {
		window = 12
	}

	c := &Controller{
		userKey:   userKey,
		store:     store,
		index:     index,
		generator: generator,
		history:   llm.NewHistoryBuffer(window),
		assembler: assembler,
		pipeline:  pipeline,
		machine:   methodology.NewMachine(generator),
		mode:      ModeCopilot,
	}

	if cfg.Async {
		c.worker = signal.NewWorker(pipeline, cfg.AsyncDelay, c.applyOutcome)
	}

	logging.Session("controller ready for user %q (async=%v)", userKey, cfg.Async)
	return c, nil
}

// applyOutcome latches background analysis results. Because analysis
// runs behind the reply, a proposal fires on the next turn at the
// earliest.
func (c *Controller) applyOutcome(userKey string, outcome signal.Outcome) {
	if !outcome.ProposePartner {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pendingProposal = true
}

// Mode returns the current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// ProcessInput handles one user turn and returns the reply text. It
// never returns an error: internal failures degrade to default text.
func (c *Controller) ProcessInput(ctx context.Context, text string) string {
	timer := logging.StartTimer(logging.CategorySession, "ProcessInput")
	defer timer.Stop()

	text = strings.TrimSpace(text)

	c.deriveStrategicNote(ctx)

	// Empty input still reaches the mode handlers (it nudges an idle
	// Partner machine) but is neither persisted nor analyzed.
	var outcome signal.Outcome
	if text != "" {
		if err := c.store.AppendTurn(c.userKey, true, text); err != nil {
			logging.Get(logging.CategorySession).Errorf("failed to persist user turn: %v", err)
		}

		// Dispatch analysis. In async mode its writes are not guaranteed
		// visible within this turn.
		if c.worker != nil {
			c.worker.Enqueue(c.userKey, text)
		} else {
			var err error
			outcome, err = c.pipeline.Analyze(ctx, c.userKey, text)
			if err != nil {
				logging.Get(logging.CategorySession).Errorf("signal analysis failed: %v", err)
			}
		}
	}

	var reply string
	switch {
	case isRecallRequest(text):
		// Short-circuit: profile dump without touching the state machine.
		summary, err := c.store.ProfileSummary(c.userKey)
		if err != nil {
			logging.Get(logging.CategorySession).Errorf("profile summary failed: %v", err)
			summary = fallbackReply
		}
		reply = summary

	case c.Mode() != ModePartner && isThinkRequest(text):
		c.SwitchMode(ModePartner)
		reply = c.handlePartner(ctx, text)

	case c.Mode() == ModePartner:
		reply = c.handlePartner(ctx, text)

	default:
		reply = c.handleCopilot(ctx, text, outcome)
	}

	if reply == "" {
		reply = fallbackReply
	}

	if err := c.store.AppendTurn(c.userKey, false, reply); err != nil {
		logging.Get(logging.CategorySession).Errorf("failed to persist agent turn: %v", err)
	}

	// Best-effort trait inference; failures are swallowed.
	if text != "" {
		c.inferTraits(ctx, text, reply)
	}

	return reply
}

// handleCopilot is the direct-answer path.
func (c *Controller) handleCopilot(ctx context.Context, text string, outcome signal.Outcome) string {
	c.mu.Lock()
	note := c.strategicNote
	c.mu.Unlock()

	enrichment := c.assembler.Enrich(ctx, c.userKey, text, note)

	directive := copilotDirective
	if enrichment != "" {
		directive += "\n\nMemory context:\n" + enrichment
	}

	reply, err := c.generator.Generate(ctx, directive, c.history.Turns(), text)
	if err != nil {
		logging.Get(logging.CategorySession).Errorf("copilot generation failed: %v", err)
		return fallbackReply
	}

	c.history.Append(llm.RoleUser, text)
	c.history.Append(llm.RoleModel, reply)

	c.mu.Lock()
	propose := (outcome.ProposePartner || c.pendingProposal) && !c.partnershipProposed
	if propose {
		c.partnershipProposed = true
		c.pendingProposal = false
	}
	c.mu.Unlock()

	if propose {
		logging.Session("proposing partner mode to %q", c.userKey)
		reply += partnerInvitation
	}
	return reply
}

// handlePartner delegates to the methodology state machine.
func (c *Controller) handlePartner(ctx context.Context, text string) string {
	result := c.machine.Handle(ctx, text)
	if result.ForceCopilot {
		logging.Session("technique requested stop, returning %q to copilot", c.userKey)
		c.SwitchMode(ModeCopilot)
	}
	return result.Reply
}

// SwitchMode changes modes. Entering Partner resets the stage machine;
// leaving Partner clears the generator's short-term buffer.
func (c *Controller) SwitchMode(mode Mode) {
	c.mu.Lock()
	previous := c.mode
	c.mode = mode
	c.partnershipProposed = false
	c.pendingProposal = false
	c.mu.Unlock()

	if mode == ModePartner && previous != ModePartner {
		c.machine.Reset()
	}
	if mode != ModePartner && previous == ModePartner {
		c.history.Clear()
	}
	logging.Session("mode switched for %q: %s -> %s", c.userKey, previous, mode)
}

// ProfileSummary exposes the memory-dump command.
func (c *Controller) ProfileSummary() string {
	summary, err := c.store.ProfileSummary(c.userKey)
	if err != nil {
		logging.Get(logging.CategorySession).Errorf("profile summary failed: %v", err)
		return fallbackReply
	}
	return summary
}

// Greeting builds the session-opening message.
func (c *Controller) Greeting() string {
	profile, err := c.store.Profile(c.userKey)
	if err == nil && profile.DisplayName != "" {
		return fmt.Sprintf("Welcome back, %s. What is on your mind today?", profile.DisplayName)
	}
	return "Hello! I am your thinking partner. Tell me what is on your mind, " +
		"or say '/partner' to work through a problem methodically."
}

// ResetAllMemory wipes everything known about the user.
func (c *Controller) ResetAllMemory() error {
	if err := c.store.ResetUser(c.userKey); err != nil {
		return err
	}
	if err := c.index.Reset(c.userKey); err != nil {
		return err
	}
	c.history.Clear()
	c.machine.Reset()

	c.mu.Lock()
	c.strategicNote = ""
	c.noteDerived = false
	c.partnershipProposed = false
	c.pendingProposal = false
	c.mu.Unlock()

	logging.Session("full memory reset for %q", c.userKey)
	return nil
}

// Close stops the background worker.
func (c *Controller) Close() {
	if c.worker != nil {
		c.worker.Close()
	}
}
