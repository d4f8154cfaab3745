package embedding

import (
	"math"
	"testing"
)

// Both backends must satisfy the Engine contract; a signature drift in
// either provider file fails this package at compile time.
var (
	_ Engine = (*GenAIEngine)(nil)
	_ Engine = (*OllamaEngine)(nil)
)

func TestNewEngineRejectsUnknownProvider(t *testing.T) {
	if _, err := NewEngine(Config{Provider: "carrier_pigeon"}); err == nil {
		t.Fatal("NewEngine accepted an unknown provider")
	}
}

func TestNewGenAIEngineRequiresKey(t *testing.T) {
	if _, err := NewGenAIEngine("", "gemini-embedding-001"); err == nil {
		t.Fatal("NewGenAIEngine accepted an empty API key")
	}
}

func TestCosineSimilarity(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{0, 1, 0}

	got, err := CosineSimilarity(a, a)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if math.Abs(got-1.0) > 1e-9 {
		t.Errorf("identical vectors: similarity=%v, want 1", got)
	}

	got, err = CosineSimilarity(a, b)
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if math.Abs(got) > 1e-9 {
		t.Errorf("orthogonal vectors: similarity=%v, want 0", got)
	}
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	if _, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); err == nil {
		t.Error("length mismatch accepted")
	}

	got, err := CosineSimilarity([]float32{0, 0, 0}, []float32{1, 2, 3})
	if err != nil {
		t.Fatalf("CosineSimilarity failed: %v", err)
	}
	if got != 0 {
		t.Errorf("zero vector: similarity=%v, want 0", got)
	}
}
