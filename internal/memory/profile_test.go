package memory

import (
	"strings"
	"testing"
)

func TestSetDisplayNameIsSetOnce(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetDisplayName("alice", "Alice"); err != nil {
		t.Fatalf("SetDisplayName failed: %v", err)
	}
	if err := store.SetDisplayName("alice", "Mallory"); err != nil {
		t.Fatalf("second SetDisplayName failed: %v", err)
	}

	profile, err := store.Profile("alice")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.DisplayName != "Alice" {
		t.Errorf("display name = %q, want the first value to stick", profile.DisplayName)
	}
}

func TestSetToneStyleOverwrites(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetToneStyle("alice", "anxious", "verbose"); err != nil {
		t.Fatalf("SetToneStyle failed: %v", err)
	}
	if err := store.SetToneStyle("alice", "calm", "terse"); err != nil {
		t.Fatalf("second SetToneStyle failed: %v", err)
	}

	profile, err := store.Profile("alice")
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if profile.LastTone != "calm" || profile.LastStyle != "terse" {
		t.Errorf("tone/style = %q/%q, want latest values", profile.LastTone, profile.LastStyle)
	}
}

func TestProfileSummaryEmptyUser(t *testing.T) {
	store := newTestStore(t)

	summary, err := store.ProfileSummary("stranger")
	if err != nil {
		t.Fatalf("ProfileSummary failed: %v", err)
	}
	if summary != "I do not know much about you yet." {
		t.Errorf("empty-profile summary = %q", summary)
	}
}

func TestProfileSummaryIncludesKnownParts(t *testing.T) {
	store := newTestStore(t)

	if err := store.SetDisplayName("alice", "Alice"); err != nil {
		t.Fatalf("SetDisplayName failed: %v", err)
	}
	if err := store.SetLastSessionSummary("alice", "career doubts"); err != nil {
		t.Fatalf("SetLastSessionSummary failed: %v", err)
	}
	if err := store.RecordObservation("alice", KindCatastrophizing, 85, "x"); err != nil {
		t.Fatalf("RecordObservation failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := store.UpsertTrait("alice", "value", "values honest feedback", 70); err != nil {
			t.Fatalf("UpsertTrait failed: %v", err)
		}
	}
	if err := store.AppendTurn("alice", true, "hello"); err != nil {
		t.Fatalf("AppendTurn failed: %v", err)
	}

	summary, err := store.ProfileSummary("alice")
	if err != nil {
		t.Fatalf("ProfileSummary failed: %v", err)
	}

	for _, want := range []string{"Alice", "career doubts", "catastrophizing", "values honest feedback"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary missing %q: %s", want, summary)
		}
	}
}

func TestProfileSummaryOmitsHypotheses(t *testing.T) {
	store := newTestStore(t)

	if _, err := store.UpsertTrait("alice", "fear", "unconfirmed guess", 90); err != nil {
		t.Fatalf("UpsertTrait failed: %v", err)
	}

	summary, err := store.ProfileSummary("alice")
	if err != nil {
		t.Fatalf("ProfileSummary failed: %v", err)
	}
	if strings.Contains(summary, "unconfirmed guess") {
		t.Errorf("summary leaked an unconfirmed hypothesis: %s", summary)
	}
}
