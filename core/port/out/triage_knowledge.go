package out

import (
	"context"

	"triage_server/core/domain"
)

// KnowledgeStore is the vector-indexed knowledge base.
type KnowledgeStore interface {
	// VectorSearch returns entries whose cosine similarity to embedding exceeds threshold.
	VectorSearch(ctx context.Context, embedding []float32, threshold float64, limit int) ([]domain.KnowledgeCandidate, error)
	Upsert(ctx context.Context, entry *domain.KnowledgeEntry, embedding []float32) error
}

// EmbeddingProvider turns text into a vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// InferenceService is a text-completion model.
type InferenceService interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
