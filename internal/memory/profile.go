package memory

import (
	"fmt"
	"strings"

	"cothink/internal/logging"
)

// Profile is the 1:1 per-user record mutated at end-of-turn and
// end-of-session and read at context-assembly time.
type Profile struct {
	DisplayName        string
	LastSessionSummary string
	LastTone           string
	LastStyle          string
}

// Profile returns the user's profile, creating it if needed.
func (s *Store) Profile(userKey string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ensureUserLocked(userKey)
	if err != nil {
		return Profile{}, err
	}

	var p Profile
	err = s.db.QueryRow(
		"SELECT display_name, last_session_summary, last_tone, last_style FROM profiles WHERE user_id = ?",
		id,
	).Scan(&p.DisplayName, &p.LastSessionSummary, &p.LastTone, &p.LastStyle)
	if err != nil {
		return Profile{}, fmt.Errorf("profile read failed: %w", err)
	}
	return p, nil
}

// SetDisplayName records the user's name once learned. A name already
// set is never overwritten.
func (s *Store) SetDisplayName(userKey, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ensureUserLocked(userKey)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(
		"UPDATE profiles SET display_name = ? WHERE user_id = ? AND display_name = ''",
		name, id,
	)
	if err != nil {
		return fmt.Errorf("display name update failed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Store("learned display name for %q", userKey)
	}
	return nil
}

// SetToneStyle overwrites the last observed tone and communication
// style. Called unconditionally by the signal pipeline.
func (s *Store) SetToneStyle(userKey, tone, style string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ensureUserLocked(userKey)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(
		"UPDATE profiles SET last_tone = ?, last_style = ? WHERE user_id = ?",
		tone, style, id,
	); err != nil {
		return fmt.Errorf("tone/style update failed: %w", err)
	}
	return nil
}

// SetLastSessionSummary stores the end-of-session summary text.
func (s *Store) SetLastSessionSummary(userKey, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ensureUserLocked(userKey)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(
		"UPDATE profiles SET last_session_summary = ? WHERE user_id = ?",
		summary, id,
	); err != nil {
		return fmt.Errorf("session summary update failed: %w", err)
	}
	return nil
}

// ProfileSummary builds the human-readable description of everything
// the agent knows about the user: name, last session, observed pattern
// kinds, traits, and activity. Empty parts are omitted.
func (s *Store) ProfileSummary(userKey string) (string, error) {
	profile, err := s.Profile(userKey)
	if err != nil {
		return "", err
	}

	var parts []string

	if profile.DisplayName != "" {
		parts = append(parts, fmt.Sprintf("Your name is %s.", profile.DisplayName))
	}
	if profile.LastSessionSummary != "" {
		parts = append(parts, fmt.Sprintf("Last time we talked about: %s", profile.LastSessionSummary))
	}

	kinds, err := s.DistinctKinds(userKey)
	if err == nil && len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = k.HumanName()
		}
		parts = append(parts, fmt.Sprintf("I have noticed these thinking patterns: %s.", strings.Join(names, ", ")))
	}

	traits, err := s.Traits(userKey)
	if err == nil && len(traits) > 0 {
		descs := make([]string, 0, len(traits))
		for _, t := range traits {
			if t.Status == StatusFact {
				descs = append(descs, t.Description)
			}
		}
		if len(descs) > 0 {
			parts = append(parts, fmt.Sprintf("What I know about you: %s.", strings.Join(descs, "; ")))
		}
	}

	count, err := s.TurnCount(userKey)
	if err == nil && count > 0 {
		parts = append(parts, fmt.Sprintf("We have exchanged %d messages so far.", count))
	}

	if len(parts) == 0 {
		return "I do not know much about you yet.", nil
	}
	return strings.Join(parts, " "), nil
}
