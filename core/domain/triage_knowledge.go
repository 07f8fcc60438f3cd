package domain

// KnowledgeCandidate is a knowledge-base article returned by similarity search.
type KnowledgeCandidate struct {
	ID                string   `json:"id"`
	Title             string   `json:"title"`
	Content           string   `json:"content"`
	Category          Category `json:"category"`
	Tags              []string `json:"tags,omitempty"`
	SimilarityScore   float64  `json:"similarity_score"`
	SolutionSteps     []string `json:"solution_steps,omitempty"`
	SuccessRate       float64  `json:"success_rate,omitempty"`
	AvgResolutionTime int      `json:"avg_resolution_time,omitempty"` // minutes
}

// KnowledgeEntry is an article as authored, before it is embedded and stored.
type KnowledgeEntry struct {
	ID                string   `json:"id" yaml:"id"`
	Title             string   `json:"title" yaml:"title"`
	Content           string   `json:"content" yaml:"content"`
	Category          Category `json:"category" yaml:"category"`
	Tags              []string `json:"tags" yaml:"tags"`
	SolutionSteps     []string `json:"solution_steps" yaml:"solution_steps"`
	SuccessRate       float64  `json:"success_rate" yaml:"success_rate"`
	AvgResolutionTime int      `json:"avg_resolution_time" yaml:"avg_resolution_time"`
}

// EmbeddingText is the text embedded for an entry.
func (e *KnowledgeEntry) EmbeddingText() string {
	return e.Title + "\n\n" + e.Content
}
