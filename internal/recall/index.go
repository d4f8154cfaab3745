// Package recall implements the per-user similarity-searchable archive
// of significant utterances. Entries are embedded on write and ranked
// by cosine similarity on read; without an embedding engine the index
// degrades to keyword matching. Storage shares the pattern store's
// SQLite database.
package recall

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"cothink/internal/embedding"
	"cothink/internal/logging"
)

// Entry is one archived utterance with ranking metadata.
type Entry struct {
	ID         string
	Content    string
	Metadata   map[string]interface{}
	Similarity float64
	CreatedAt  time.Time
}

// Index is the semantic recall store.
type Index struct {
	db     *sql.DB
	mu     sync.RWMutex
	engine embedding.Engine // nil means keyword fallback
}

// NewIndex prepares the recall schema on the shared database. engine
// may be nil.
func NewIndex(db *sql.DB, engine embedding.Engine) (*Index, error) {
	idx := &Index{db: db, engine: engine}
	if err := idx.initialize(); err != nil {
		return nil, err
	}
	if engine != nil {
		logging.Recall("recall index ready (engine=%s)", engine.Name())
	} else {
		logging.Recall("recall index ready (keyword fallback, no embedding engine)")
	}
	return idx, nil
}

func (idx *Index) initialize() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recall_entries (
			id TEXT PRIMARY KEY,
			user_key TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_recall_user ON recall_entries(user_key)`,
	}
	for _, stmt := range stmts {
		if _, err := idx.db.Exec(stmt); err != nil {
			return fmt.Errorf("recall schema statement failed: %w", err)
		}
	}
	return nil
}

// Add archives one utterance for a user. The caller has already judged
// it significant; the index itself applies no gating.
func (idx *Index) Add(ctx context.Context, userKey, text string, metadata map[string]interface{}) (string, error) {
	timer := logging.StartTimer(logging.CategoryRecall, "Add")
	defer timer.Stop()

	var embeddingJSON interface{}
	if idx.engine != nil {
		vec, err := idx.engine.Embed(ctx, text)
		if err != nil {
			return "", fmt.Errorf("failed to embed recall entry: %w", err)
		}
		data, err := json.Marshal(vec)
		if err != nil {
			return "", fmt.Errorf("failed to serialize embedding: %w", err)
		}
		embeddingJSON = string(data)
	}

	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}

	id := uuid.NewString()

	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err = idx.db.ExecContext(ctx,
		"INSERT INTO recall_entries (id, user_key, content, embedding, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		id, userKey, text, embeddingJSON, string(metaJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("failed to store recall entry: %w", err)
	}

	logging.RecallDebug("archived utterance for %q (id=%s, len=%d)", userKey, id, len(text))
	return id, nil
}

// Query returns the k entries most similar to the query text within the
// user's partition, best first.
func (idx *Index) Query(ctx context.Context, userKey, query string, k int) ([]Entry, error) {
	timer := logging.StartTimer(logging.CategoryRecall, "Query")
	defer timer.Stop()

	if k <= 0 {
		k = 3
	}

	if idx.engine == nil {
		return idx.queryKeyword(ctx, userKey, query, k)
	}

	queryVec, err := idx.engine.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rows, err := idx.db.QueryContext(ctx,
		"SELECT id, content, embedding, metadata, created_at FROM recall_entries WHERE user_key = ? AND embedding IS NOT NULL",
		userKey,
	)
	if err != nil {
		return nil, fmt.Errorf("recall query failed: %w", err)
	}
	defer rows.Close()

	var candidates []Entry
	for rows.Next() {
		var entry Entry
		var embeddingRaw, metaRaw, createdRaw string
		if err := rows.Scan(&entry.ID, &entry.Content, &embeddingRaw, &metaRaw, &createdRaw); err != nil {
			continue
		}

		var vec []float32
		if err := json.Unmarshal([]byte(embeddingRaw), &vec); err != nil {
			continue
		}
		similarity, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}

		entry.Similarity = similarity
		entry.CreatedAt = parseTime(createdRaw)
		_ = json.Unmarshal([]byte(metaRaw), &entry.Metadata)
		candidates = append(candidates, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}

// queryKeyword is the fallback search used when no embedding engine is
// configured: newest entries containing the query substring.
func (idx *Index) queryKeyword(ctx context.Context, userKey, query string, k int) ([]Entry, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	rows, err := idx.db.QueryContext(ctx,
		`SELECT id, content, metadata, created_at FROM recall_entries
		 WHERE user_key = ? AND content LIKE '%' || ? || '%'
		 ORDER BY created_at DESC LIMIT ?`,
		userKey, query, k,
	)
	if err != nil {
		return nil, fmt.Errorf("keyword recall failed: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var entry Entry
		var metaRaw, createdRaw string
		if err := rows.Scan(&entry.ID, &entry.Content, &metaRaw, &createdRaw); err != nil {
			continue
		}
		entry.CreatedAt = parseTime(createdRaw)
		_ = json.Unmarshal([]byte(metaRaw), &entry.Metadata)
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Count returns the number of archived entries for a user.
func (idx *Index) Count(userKey string) (int, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var count int
	err := idx.db.QueryRow("SELECT COUNT(*) FROM recall_entries WHERE user_key = ?", userKey).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("recall count failed: %w", err)
	}
	return count, nil
}

// Reset removes every entry for a user. Backs the full-reset command.
func (idx *Index) Reset(userKey string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, err := idx.db.Exec("DELETE FROM recall_entries WHERE user_key = ?", userKey); err != nil {
		return fmt.Errorf("recall reset failed: %w", err)
	}
	logging.Recall("cleared recall entries for %q", userKey)
	return nil
}

func parseTime(raw string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Time{}
}
