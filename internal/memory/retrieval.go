package memory

import (
	"context"
	"sort"
	"strings"
)

// Retriever ranks candidates against a query.
//
// Implementations write RelevanceScore onto every candidate they score. The
// controller feeds those scores back into the store, where the next
// optimization pass reads them: retrieval and eviction share one signal.
type Retriever interface {
	Retrieve(ctx context.Context, query string, candidates []*Segment, limit int) ([]*Segment, error)
}

// KeywordRetriever scores by the share of query words present in the content.
type KeywordRetriever struct{}

func (KeywordRetriever) Retrieve(ctx context.Context, query string, candidates []*Segment, limit int) ([]*Segment, error) {
	queryWords := wordSet(query)
	if len(queryWords) == 0 || limit <= 0 {
		return nil, nil
	}

	scored := make([]*Segment, 0, len(candidates))
	for _, seg := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		score := keywordScore(queryWords, seg.Content)
		// No overlap: dropped, and the previous score is left as it was.
		if score == 0 {
			continue
		}
		seg.RelevanceScore = score
		scored = append(scored, seg)
	}
	return rank(scored, limit), nil
}

// keywordScore is the share of query words that occur in content.
func keywordScore(queryWords map[string]struct{}, content string) float64 {
	if len(queryWords) == 0 {
		return 0
	}
	contentWords := wordSet(content)
	overlap := 0
	for w := range queryWords {
		if _, ok := contentWords[w]; ok {
			overlap++
		}
	}
	return float64(overlap) / float64(len(queryWords))
}

// rank orders scored segments by descending score, ties in input order.
func rank(scored []*Segment, limit int) []*Segment {
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].RelevanceScore > scored[j].RelevanceScore
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

func wordSet(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
