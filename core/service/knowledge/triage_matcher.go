// Package knowledge finds knowledge-base articles relevant to a support message.
package knowledge

import (
	"context"
	"fmt"
	"sort"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// UsableSimilarity is the bar a candidate must clear before a reply quotes it.
// It is independent of the search threshold.
const UsableSimilarity = 0.7

const (
	DefaultThreshold = 0.8
	DefaultLimit     = 5
	maxQueryLen      = 2000
)

type Matcher struct {
	embedder out.EmbeddingProvider
	store    out.KnowledgeStore
}

func NewMatcher(embedder out.EmbeddingProvider, store out.KnowledgeStore) *Matcher {
	return &Matcher{embedder: embedder, store: store}
}

// Search embeds query and returns candidates ordered by descending similarity.
// A non-empty category keeps only candidates of that category.
func (m *Matcher) Search(ctx context.Context, query string, threshold float64, limit int, category domain.Category) ([]domain.KnowledgeCandidate, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	embedding, err := m.embedder.Embed(ctx, PrepareQuery(query, maxQueryLen))
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	results, err := m.store.VectorSearch(ctx, embedding, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	candidates := make([]domain.KnowledgeCandidate, 0, len(results))
	for _, c := range results {
		if category != "" && c.Category != category {
			continue
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].SimilarityScore > candidates[j].SimilarityScore
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// IsUsable reports whether a reply may be built from c.
func IsUsable(c domain.KnowledgeCandidate) bool {
	return c.SimilarityScore > UsableSimilarity
}

// BestUsable returns the top candidate if it is usable.
// Candidates must already be sorted, as Search returns them.
func BestUsable(candidates []domain.KnowledgeCandidate) *domain.KnowledgeCandidate {
	if len(candidates) == 0 || !IsUsable(candidates[0]) {
		return nil
	}
	best := candidates[0]
	return &best
}

// PrepareQuery trims text to maxLen characters for embedding.
func PrepareQuery(text string, maxLen int) string {
	r := []rune(text)
	if len(r) > maxLen {
		return string(r[:maxLen])
	}
	return text
}
