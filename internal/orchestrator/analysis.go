package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cothink/internal/classifier"
	"cothink/internal/logging"
	"cothink/internal/memory"
)

// traitDirective asks the generator to extract stable user traits from
// one exchange. Absent traits must come back as an empty list, not be
// invented.
const traitDirective = "You observe one exchange between a user and their assistant. Extract stable, " +
	"long-term traits of the user that the exchange demonstrates (values, habits, fears, strengths). " +
	"Only include traits with real evidence in the text. Respond with JSON: " +
	`{"traits": [{"kind": "value|habit|fear|strength", "description": "...", "confidence": 0-100}], ` +
	`"user_name": ""} where user_name is filled only when the user explicitly states their name.`

// summaryDirective produces the end-of-session record.
const summaryDirective = "Summarize this coaching conversation for the assistant's long-term memory. " +
	"Respond with JSON: {\"summary\": \"2-3 sentences\", \"key_topics\": [\"...\"]}. " +
	"Write the summary about the user, in third person."

// noteDirective turns prior session records into one strategic focus.
const noteDirective = "Below are summaries of past sessions with a user, newest first. Write one short " +
	"paragraph of strategic guidance for the next session: the recurring theme to watch for and one " +
	"concrete way to help. Plain text, no preamble."

type traitExtraction struct {
	Traits []struct {
		Kind        string `json:"kind"`
		Description string `json:"description"`
		Confidence  int    `json:"confidence"`
	} `json:"traits"`
	UserName string `json:"user_name"`
}

type sessionExtraction struct {
	Summary   string   `json:"summary"`
	KeyTopics []string `json:"key_topics"`
}

// inferTraits extracts traits from the exchange and upserts them. All
// failures are logged and swallowed: trait capture is opportunistic.
func (c *Controller) inferTraits(ctx context.Context, userText, reply string) {
	message := fmt.Sprintf("User: %s\nAssistant: %s", userText, reply)
	raw, err := c.generator.GenerateJSON(ctx, traitDirective, message)
	if err != nil {
		logging.SessionDebug("trait inference generation failed: %v", err)
		return
	}

	var extraction traitExtraction
	if err := json.Unmarshal([]byte(classifier.StripJSONFences(raw)), &extraction); err != nil {
		logging.SessionDebug("trait inference produced malformed JSON: %v", err)
		return
	}

	if name := strings.TrimSpace(extraction.UserName); name != "" {
		if err := c.store.SetDisplayName(c.userKey, name); err != nil {
			logging.SessionDebug("display name capture failed: %v", err)
		}
	}

	for _, t := range extraction.Traits {
		if strings.TrimSpace(t.Description) == "" {
			continue
		}
		if _, err := c.store.UpsertTrait(c.userKey, t.Kind, t.Description, t.Confidence); err != nil {
			logging.SessionDebug("trait upsert failed: %v", err)
		}
	}
}

// deriveStrategicNote computes the session's strategic note from prior
// session analyses, once per controller lifetime. No prior sessions
// means no note.
func (c *Controller) deriveStrategicNote(ctx context.Context) {
	c.mu.Lock()
	if c.noteDerived {
		c.mu.Unlock()
		return
	}
	c.noteDerived = true
	c.mu.Unlock()

	analyses, err := c.store.RecentAnalyses(c.userKey, 5)
	if err != nil || len(analyses) == 0 {
		return
	}

	var sb strings.Builder
	for _, a := range analyses {
		fmt.Fprintf(&sb, "- %s", a.Summary)
		if len(a.IdentifiedPatterns) > 0 {
			fmt.Fprintf(&sb, " (patterns: %s)", strings.Join(a.IdentifiedPatterns, ", "))
		}
		sb.WriteString("\n")
	}

	note, err := c.generator.Generate(ctx, noteDirective, nil, sb.String())
	if err != nil {
		logging.SessionDebug("strategic note derivation failed: %v", err)
		return
	}

	c.mu.Lock()
	c.strategicNote = strings.TrimSpace(note)
	c.mu.Unlock()
	logging.Session("derived strategic note for %q from %d past sessions", c.userKey, len(analyses))
}

// EndSession closes the session: summarize the transcript, snapshot
// pattern trends, persist the analysis record, and refresh the profile
// summary. Returns the farewell text shown to the user.
func (c *Controller) EndSession(ctx context.Context) string {
	timer := logging.StartTimer(logging.CategorySession, "EndSession")
	defer timer.Stop()

	analysis := memory.SessionAnalysis{
		Summary: "Session ended without enough content to summarize.",
	}

	turns, err := c.store.RecentTurns(c.userKey, 40)
	if err != nil {
		logging.Get(logging.CategorySession).Errorf("failed to load transcript for summary: %v", err)
	}

	if len(turns) > 0 {
		var sb strings.Builder
		for _, t := range turns {
			role := "Assistant"
			if t.IsUser {
				role = "User"
			}
			fmt.Fprintf(&sb, "%s: %s\n", role, t.Content)
		}

		raw, err := c.generator.GenerateJSON(ctx, summaryDirective, sb.String())
		if err != nil {
			logging.Get(logging.CategorySession).Warnf("session summary generation failed: %v", err)
		} else {
			var extraction sessionExtraction
			if err := json.Unmarshal([]byte(classifier.StripJSONFences(raw)), &extraction); err != nil {
				logging.Get(logging.CategorySession).Warnf("session summary malformed: %v", err)
			} else if strings.TrimSpace(extraction.Summary) != "" {
				analysis.Summary = strings.TrimSpace(extraction.Summary)
				analysis.KeyTopics = extraction.KeyTopics
			}
		}
	}

	analysis.IdentifiedPatterns = c.patternTrends()

	if err := c.store.RecordSessionAnalysis(c.userKey, analysis); err != nil {
		logging.Get(logging.CategorySession).Errorf("failed to persist session analysis: %v", err)
	}
	if err := c.store.SetLastSessionSummary(c.userKey, analysis.Summary); err != nil {
		logging.Get(logging.CategorySession).Errorf("failed to update profile summary: %v", err)
	}

	c.machine.Reset()
	c.history.Clear()
	c.mu.Lock()
	c.mode = ModeCopilot
	c.partnershipProposed = false
	c.mu.Unlock()

	return "Session saved. " + analysis.Summary
}

// patternTrends snapshots every observed pattern kind with its current
// decay-weighted trend, e.g. "catastrophizing: concerning (4.3)".
func (c *Controller) patternTrends() []string {
	kinds, err := c.store.DistinctKinds(c.userKey)
	if err != nil {
		logging.Get(logging.CategorySession).Errorf("failed to list pattern kinds: %v", err)
		return nil
	}

	var out []string
	for _, kind := range kinds {
		weight, err := c.store.Weight(c.userKey, kind, 30)
		if err != nil {
			continue
		}
		out = append(out, fmt.Sprintf("%s: %s (%.1f)", kind.HumanName(), memory.ClassifyWeight(weight), weight))
	}
	return out
}
