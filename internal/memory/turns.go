package memory

import (
	"encoding/json"
	"fmt"
	"time"

	"cothink/internal/logging"
)

// DialogueTurn is one append-only transcript entry.
type DialogueTurn struct {
	ID        int64
	IsUser    bool
	Content   string
	CreatedAt time.Time
}

// AppendTurn records a turn in the transcript. The transcript is kept
// independent of significance filtering.
func (s *Store) AppendTurn(userKey string, isUser bool, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ensureUserLocked(userKey)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		"INSERT INTO dialogue_turns (user_id, is_user, content, created_at) VALUES (?, ?, ?, ?)",
		id, boolToInt(isUser), content, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

// RecentTurns returns the last limit turns, oldest first.
func (s *Store) RecentTurns(userKey string, limit int) ([]DialogueTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT id, is_user, content, created_at FROM (
			SELECT id, is_user, content, created_at FROM dialogue_turns
			WHERE user_id = (SELECT id FROM users WHERE user_key = ?)
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		userKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent turns query failed: %w", err)
	}
	defer rows.Close()

	var out []DialogueTurn
	for rows.Next() {
		var t DialogueTurn
		var isUser int
		var createdRaw string
		if err := rows.Scan(&t.ID, &isUser, &t.Content, &createdRaw); err != nil {
			continue
		}
		t.IsUser = isUser != 0
		t.CreatedAt = parseTime(createdRaw)
		out = append(out, t)
	}
	return out, rows.Err()
}

// TurnCount returns the total transcript length for a user.
func (s *Store) TurnCount(userKey string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM dialogue_turns WHERE user_id = (SELECT id FROM users WHERE user_key = ?)",
		userKey,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("turn count query failed: %w", err)
	}
	return count, nil
}

// SessionAnalysis is the one-per-session-close summary record.
type SessionAnalysis struct {
	ID                 int64
	Summary            string
	KeyTopics          []string
	IdentifiedPatterns []string
	EndedAt            time.Time
}

// RecordSessionAnalysis stores a session close record.
func (s *Store) RecordSessionAnalysis(userKey string, analysis SessionAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ensureUserLocked(userKey)
	if err != nil {
		return err
	}

	topics, err := json.Marshal(analysis.KeyTopics)
	if err != nil {
		topics = []byte("[]")
	}
	patterns, err := json.Marshal(analysis.IdentifiedPatterns)
	if err != nil {
		patterns = []byte("[]")
	}

	endedAt := analysis.EndedAt
	if endedAt.IsZero() {
		endedAt = time.Now().UTC()
	}

	_, err = s.db.Exec(
		"INSERT INTO session_analyses (user_id, summary, key_topics, identified_patterns, ended_at) VALUES (?, ?, ?, ?, ?)",
		id, analysis.Summary, string(topics), string(patterns), endedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record session analysis: %w", err)
	}

	logging.Store("recorded session analysis for %q (%d topics)", userKey, len(analysis.KeyTopics))
	return nil
}

// RecentAnalyses returns the last limit session analyses, newest first.
func (s *Store) RecentAnalyses(userKey string, limit int) ([]SessionAnalysis, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 5
	}

	rows, err := s.db.Query(
		`SELECT id, summary, key_topics, identified_patterns, ended_at FROM session_analyses
		 WHERE user_id = (SELECT id FROM users WHERE user_key = ?)
		 ORDER BY id DESC LIMIT ?`,
		userKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent analyses query failed: %w", err)
	}
	defer rows.Close()

	var out []SessionAnalysis
	for rows.Next() {
		var a SessionAnalysis
		var topicsRaw, patternsRaw, endedRaw string
		if err := rows.Scan(&a.ID, &a.Summary, &topicsRaw, &patternsRaw, &endedRaw); err != nil {
			continue
		}
		_ = json.Unmarshal([]byte(topicsRaw), &a.KeyTopics)
		_ = json.Unmarshal([]byte(patternsRaw), &a.IdentifiedPatterns)
		a.EndedAt = parseTime(endedRaw)
		out = append(out, a)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
