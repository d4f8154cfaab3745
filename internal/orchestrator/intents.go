package orchestrator

import (
	"strings"

	"cothink/internal/methodology"
)

// recallPhrases trigger the memory-dump short circuit. Matching is
// exact over the normalized text: a message that merely mentions one of
// these phrases is an ordinary turn, not a recall request.
var recallPhrases = []string{
	"what do you know about me",
	"what do you remember about me",
	"what have you learned about me",
	"show my profile",
	"show me my profile",
	"memory dump",
	"tell me about myself",
}

// thinkPhrases trigger the forced switch into Partner mode. Substring
// matching is fine here: the phrases read as requests wherever they
// appear in the message.
var thinkPhrases = []string{
	"help me think",
	"lets think together",
	"lets think this through",
	"think with me",
	"i want to think this through",
	"help me reason about",
	"lets work through this",
}

func isRecallRequest(text string) bool {
	normalized := methodology.Normalize(text)
	if normalized == "" {
		return false
	}
	for _, phrase := range recallPhrases {
		if normalized == phrase {
			return true
		}
	}
	return false
}

func isThinkRequest(text string) bool {
	normalized := methodology.Normalize(text)
	if normalized == "" {
		return false
	}
	for _, phrase := range thinkPhrases {
		if strings.Contains(normalized, phrase) {
			return true
		}
	}
	return false
}
