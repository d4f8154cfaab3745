package memory

import (
	"database/sql"
	"fmt"
	"time"

	"cothink/internal/logging"
)

// TraitStatus is the promotion state of a trait hypothesis.
type TraitStatus string

const (
	StatusHypothesis TraitStatus = "hypothesis"
	StatusFact       TraitStatus = "fact"
)

// factThreshold is how many independent inferences of the same
// description promote a hypothesis to a fact.
const factThreshold = 3

// Trait is a hypothesis about a stable user characteristic, keyed by
// description identity.
type Trait struct {
	ID                int64
	Kind              string
	Description       string
	Confidence        int
	Status            TraitStatus
	ConfirmationCount int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UpsertTrait records an inferred trait. First inference creates a
// hypothesis; repeat inferences of the same description increment the
// confirmation count, keep the maximum confidence seen, and promote to
// fact once the count reaches the threshold. Promotion is one-way.
func (s *Store) UpsertTrait(userKey, kind, description string, confidence int) (Trait, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	userID, err := s.ensureUserLocked(userKey)
	if err != nil {
		return Trait{}, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.Begin()
	if err != nil {
		return Trait{}, fmt.Errorf("trait upsert begin failed: %w", err)
	}
	defer tx.Rollback()

	var t Trait
	var status string
	err = tx.QueryRow(
		`SELECT id, kind, confidence, status, confirmation_count FROM traits
		 WHERE user_id = ? AND description = ?`,
		userID, description,
	).Scan(&t.ID, &t.Kind, &t.Confidence, &status, &t.ConfirmationCount)

	switch {
	case err != nil && err != sql.ErrNoRows:
		return Trait{}, fmt.Errorf("trait lookup failed: %w", err)

	case err == nil:
		t.Description = description
		t.Status = TraitStatus(status)
		t.ConfirmationCount++
		if confidence > t.Confidence {
			t.Confidence = confidence
		}
		if t.ConfirmationCount >= factThreshold {
			t.Status = StatusFact
		}
		if _, err := tx.Exec(
			`UPDATE traits SET confidence = ?, status = ?, confirmation_count = ?, updated_at = ? WHERE id = ?`,
			t.Confidence, string(t.Status), t.ConfirmationCount, now, t.ID,
		); err != nil {
			return Trait{}, fmt.Errorf("trait update failed: %w", err)
		}

	default:
		t = Trait{
			Kind:              kind,
			Description:       description,
			Confidence:        confidence,
			Status:            StatusHypothesis,
			ConfirmationCount: 1,
		}
		res, err := tx.Exec(
			`INSERT INTO traits (user_id, kind, description, confidence, status, confirmation_count, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
			userID, kind, description, confidence, string(StatusHypothesis), now, now,
		)
		if err != nil {
			return Trait{}, fmt.Errorf("trait insert failed: %w", err)
		}
		t.ID, _ = res.LastInsertId()
	}

	if err := tx.Commit(); err != nil {
		return Trait{}, fmt.Errorf("trait upsert commit failed: %w", err)
	}

	if t.Status == StatusFact && t.ConfirmationCount == factThreshold {
		logging.Store("trait promoted to fact for %q: %s", userKey, description)
	}
	return t, nil
}

// Traits returns all traits for a user, facts first, then by recency.
func (s *Store) Traits(userKey string) ([]Trait, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, kind, description, confidence, status, confirmation_count, created_at, updated_at
		 FROM traits
		 WHERE user_id = (SELECT id FROM users WHERE user_key = ?)
		 ORDER BY CASE status WHEN 'fact' THEN 0 ELSE 1 END, updated_at DESC`,
		userKey,
	)
	if err != nil {
		return nil, fmt.Errorf("traits query failed: %w", err)
	}
	defer rows.Close()

	var out []Trait
	for rows.Next() {
		var t Trait
		var status, createdRaw, updatedRaw string
		if err := rows.Scan(&t.ID, &t.Kind, &t.Description, &t.Confidence, &status, &t.ConfirmationCount, &createdRaw, &updatedRaw); err != nil {
			continue
		}
		t.Status = TraitStatus(status)
		t.CreatedAt = parseTime(createdRaw)
		t.UpdatedAt = parseTime(updatedRaw)
		out = append(out, t)
	}
	return out, rows.Err()
}
