// Package enrich assembles the memory context injected into Copilot
// replies: the standing strategic note, the profile summary, and the
// nearest recall hits for the current query, in that fixed order.
package enrich

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"cothink/internal/logging"
	"cothink/internal/memory"
	"cothink/internal/recall"
)

// Assembler builds enrichment blocks from the memory subsystems.
type Assembler struct {
	store *memory.Store
	index *recall.Index

	// RecallK is how many recall hits are quoted (default 3).
	RecallK int
}

// NewAssembler wires the assembler to its stores.
func NewAssembler(store *memory.Store, index *recall.Index) *Assembler {
	return &Assembler{store: store, index: index, RecallK: 3}
}

// Enrich returns the memory context for one query. Sections that would
// be empty are omitted; an error in one source degrades to the sections
// that succeeded.
func (a *Assembler) Enrich(ctx context.Context, userKey, query, strategicNote string) string {
	timer := logging.StartTimer(logging.CategoryRecall, "Enrich")
	defer timer.Stop()

	k := a.RecallK
	if k <= 0 {
		k = 3
	}

	// Profile summary and recall search are independent reads; fetch
	// them in parallel.
	var summary string
	var hits []recall.Entry

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s, err := a.store.ProfileSummary(userKey)
		if err != nil {
			logging.Get(logging.CategoryRecall).Warnf("profile summary unavailable: %v", err)
			return nil
		}
		summary = s
		return nil
	})
	g.Go(func() error {
		h, err := a.index.Query(gctx, userKey, query, k)
		if err != nil {
			logging.Get(logging.CategoryRecall).Warnf("recall lookup unavailable: %v", err)
			return nil
		}
		hits = h
		return nil
	})
	_ = g.Wait()

	var sections []string

	if note := strings.TrimSpace(strategicNote); note != "" {
		sections = append(sections, "Strategic note from previous sessions:\n"+note)
	}

	if summary != "" && summary != "I do not know much about you yet." {
		sections = append(sections, "What I know about the user:\n"+summary)
	}

	if len(hits) > 0 {
		var sb strings.Builder
		sb.WriteString("Related things the user said before:\n")
		for _, hit := range hits {
			fmt.Fprintf(&sb, "- %q\n", hit.Content)
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	block := strings.Join(sections, "\n\n")
	logging.RecallDebug("enrichment block for %q: %d sections, %d bytes", userKey, len(sections), len(block))
	return block
}
