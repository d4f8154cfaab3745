package memory

import (
	"fmt"
	"math"
	"time"

	"cothink/internal/logging"
)

// PatternKind identifies a recurring cognitive/behavioral signal.
type PatternKind string

const (
	KindCatastrophizing  PatternKind = "catastrophizing"
	KindBlackAndWhite    PatternKind = "black_and_white_thinking"
	KindOvergeneralizing PatternKind = "overgeneralization"
	KindPersonalization  PatternKind = "personalization"
	KindMindReading      PatternKind = "mind_reading"
	KindEmotionalReason  PatternKind = "emotional_reasoning"
	KindHindsightBias    PatternKind = "hindsight_bias"
)

// HumanName returns a readable name for profile summaries.
func (k PatternKind) HumanName() string {
	if name, ok := humanNames[k]; ok {
		return name
	}
	return string(k)
}

var humanNames = map[PatternKind]string{
	KindCatastrophizing:  "catastrophizing",
	KindBlackAndWhite:    "black-and-white thinking",
	KindOvergeneralizing: "overgeneralization",
	KindPersonalization:  "personalization",
	KindMindReading:      "mind reading",
	KindEmotionalReason:  "emotional reasoning",
	KindHindsightBias:    "hindsight bias",
}

// Observation is one append-only entry in the pattern ledger.
type Observation struct {
	ID            int64
	Kind          PatternKind
	Confidence    int
	Justification string
	ObservedAt    time.Time
}

// Trend classifies a pattern's decay-weighted activity at session end.
type Trend string

const (
	TrendImproving  Trend = "improving"  // weight < 1.5
	TrendStable     Trend = "stable"     // 1.5 <= weight <= 4.0
	TrendConcerning Trend = "concerning" // weight > 4.0
)

// ClassifyWeight maps a decay weight onto a trend.
func ClassifyWeight(weight float64) Trend {
	switch {
	case weight < 1.5:
		return TrendImproving
	case weight > 4.0:
		return TrendConcerning
	default:
		return TrendStable
	}
}

// RecordObservation appends an observation stamped with the current time.
func (s *Store) RecordObservation(userKey string, kind PatternKind, confidence int, justification string) error {
	return s.RecordObservationAt(userKey, kind, confidence, justification, time.Now().UTC())
}

// RecordObservationAt appends an observation with an explicit timestamp.
// Observations are never mutated or deleted; history is the basis for
// decay-weighted frequency.
func (s *Store) RecordObservationAt(userKey string, kind PatternKind, confidence int, justification string, observedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.ensureUserLocked(userKey)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		"INSERT INTO pattern_observations (user_id, kind, confidence, justification, observed_at) VALUES (?, ?, ?, ?, ?)",
		id, string(kind), confidence, justification, observedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}

	logging.StoreDebug("recorded pattern %s for %q (confidence=%d)", kind, userKey, confidence)
	return nil
}

// Frequency returns the unweighted all-time observation count for a kind.
func (s *Store) Frequency(userKey string, kind PatternKind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM pattern_observations
		 WHERE user_id = (SELECT id FROM users WHERE user_key = ?) AND kind = ?`,
		userKey, string(kind),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("frequency query failed: %w", err)
	}
	return count, nil
}

// Weight returns the decay-weighted activity score for a kind within the
// window: sum of 0.9^(age_days/7) over in-window observations, losing
// 10% of weight per elapsed week. Computed at read time; stored rows are
// never mutated.
func (s *Store) Weight(userKey string, kind PatternKind, windowDays int) (float64, error) {
	return s.WeightAt(userKey, kind, windowDays, time.Now().UTC())
}

// WeightAt evaluates Weight relative to an explicit reference time.
func (s *Store) WeightAt(userKey string, kind PatternKind, windowDays int, now time.Time) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT observed_at FROM pattern_observations
		 WHERE user_id = (SELECT id FROM users WHERE user_key = ?) AND kind = ?`,
		userKey, string(kind),
	)
	if err != nil {
		return 0, fmt.Errorf("weight query failed: %w", err)
	}
	defer rows.Close()

	var total float64
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		observedAt := parseTime(raw)
		if observedAt.IsZero() || observedAt.After(now) {
			continue
		}
		ageDays := now.Sub(observedAt).Hours() / 24
		if windowDays > 0 && ageDays > float64(windowDays) {
			continue
		}
		total += math.Pow(0.9, ageDays/7)
	}
	return total, rows.Err()
}

// History returns the most recent limit observations of a kind, newest
// first.
func (s *Store) History(userKey string, kind PatternKind, limit int) ([]Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		`SELECT id, kind, confidence, justification, observed_at FROM pattern_observations
		 WHERE user_id = (SELECT id FROM users WHERE user_key = ?) AND kind = ?
		 ORDER BY observed_at DESC, id DESC LIMIT ?`,
		userKey, string(kind), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	var out []Observation
	for rows.Next() {
		var obs Observation
		var kindRaw, observedRaw string
		if err := rows.Scan(&obs.ID, &kindRaw, &obs.Confidence, &obs.Justification, &observedRaw); err != nil {
			continue
		}
		obs.Kind = PatternKind(kindRaw)
		obs.ObservedAt = parseTime(observedRaw)
		out = append(out, obs)
	}
	return out, rows.Err()
}

// DistinctKinds returns every pattern kind observed for the user.
func (s *Store) DistinctKinds(userKey string) ([]PatternKind, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT DISTINCT kind FROM pattern_observations
		 WHERE user_id = (SELECT id FROM users WHERE user_key = ?)
		 ORDER BY kind`,
		userKey,
	)
	if err != nil {
		return nil, fmt.Errorf("distinct kinds query failed: %w", err)
	}
	defer rows.Close()

	var kinds []PatternKind
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		kinds = append(kinds, PatternKind(raw))
	}
	return kinds, rows.Err()
}
