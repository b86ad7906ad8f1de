package memory

import (
	"context"
	"fmt"
	"math"
)

// DefaultKeywordWeight is the keyword share of a hybrid score.
const DefaultKeywordWeight = 0.5

// Embedder turns text into vectors. The package ships no implementation;
// hosts plug in their own model client through WithEmbedder.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// HybridRetriever blends keyword overlap with embedding similarity.
// Similarities below SimilarityThreshold count as zero. A KeywordWeight of
// zero gives pure semantic retrieval.
type HybridRetriever struct {
	Embedder            Embedder
	SimilarityThreshold float64
	KeywordWeight       float64
}

func (r *HybridRetriever) Retrieve(ctx context.Context, query string, candidates []*Segment, limit int) ([]*Segment, error) {
	if limit <= 0 || len(candidates) == 0 {
		return nil, nil
	}

	queryVec, err := r.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	texts := make([]string, len(candidates))
	for i, seg := range candidates {
		texts[i] = seg.Content
	}
	vectors, err := r.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed candidates: %w", err)
	}
	if len(vectors) != len(candidates) {
		return nil, fmt.Errorf("embed candidates: got %d vectors for %d segments", len(vectors), len(candidates))
	}

	queryWords := wordSet(query)
	scored := make([]*Segment, 0, len(candidates))
	for i, seg := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sim, err := cosineSimilarity(queryVec, vectors[i])
		if err != nil {
			return nil, fmt.Errorf("score segment %s: %w", seg.ID, err)
		}
		if sim < r.SimilarityThreshold {
			sim = 0
		}
		score := r.KeywordWeight*keywordScore(queryWords, seg.Content) + (1-r.KeywordWeight)*sim
		if score <= 0 {
			continue
		}
		seg.RelevanceScore = score
		scored = append(scored, seg)
	}
	return rank(scored, limit), nil
}

func cosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, fmt.Errorf("cosine similarity: empty vector")
	}
	if len(a) != len(b) {
		return 0, fmt.Errorf("cosine similarity: vector dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		if math.IsNaN(ai) || math.IsInf(ai, 0) || math.IsNaN(bi) || math.IsInf(bi, 0) {
			return 0, fmt.Errorf("cosine similarity: invalid value at index %d", i)
		}
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	// A zero vector is similar to nothing.
	if normA == 0 || normB == 0 {
		return 0, nil
	}

	score := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, score)), nil
}
