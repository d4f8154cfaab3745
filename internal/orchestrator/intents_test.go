package orchestrator

import "testing"

func TestRecallIntentRequiresExactPhrase(t *testing.T) {
	cases := map[string]bool{
		"what do you know about me":       true,
		"  What do you know about me?  ":  true,
		"Memory dump!":                    true,
		"show my profile":                 true,
		"":                                false,
		"what do you know about go maps":  false,
		"tell me about myself and my dog": false,
		"my coworker keeps asking what do you know about me and it bothers me, help me handle it": false,
	}
	for input, want := range cases {
		if got := isRecallRequest(input); got != want {
			t.Errorf("isRecallRequest(%q) = %v, want %v", input, got, want)
		}
	}
}

func TestThinkIntentMatchesInsideMessage(t *testing.T) {
	cases := map[string]bool{
		"help me think":                       true,
		"can you help me think about hiring?": true,
		"Let's think together.":               true,
		"thinking about lunch":                false,
		"":                                    false,
	}
	for input, want := range cases {
		if got := isThinkRequest(input); got != want {
			t.Errorf("isThinkRequest(%q) = %v, want %v", input, got, want)
		}
	}
}
