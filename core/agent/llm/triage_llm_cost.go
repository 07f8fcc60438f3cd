package llm

import (
	"sync"
	"time"
)

// USD per million tokens.
type pricing struct {
	input  float64
	output float64
}

var modelPricing = map[string]pricing{
	"gpt-4o-mini":            {input: 0.15, output: 0.60},
	"gpt-4o":                 {input: 2.50, output: 10.00},
	"text-embedding-ada-002": {input: 0.10},
	"text-embedding-3-small": {input: 0.02},
}

// CalculateCost returns the USD cost of a call, zero for unknown models.
func CalculateCost(model string, promptTokens, completionTokens int) float64 {
	p, ok := modelPricing[model]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1_000_000*p.input + float64(completionTokens)/1_000_000*p.output
}

type CostTracker struct {
	mu           sync.RWMutex
	totalCost    float64
	totalTokens  int64
	requestCount int64
	dailyCost    map[string]float64
	modelUsage   map[string]int64
}

func NewCostTracker() *CostTracker {
	return &CostTracker{
		dailyCost:  make(map[string]float64),
		modelUsage: make(map[string]int64),
	}
}

func (t *CostTracker) Track(model string, inputTokens, outputTokens int) float64 {
	cost := CalculateCost(model, inputTokens, outputTokens)
	tokens := int64(inputTokens + outputTokens)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.totalCost += cost
	t.totalTokens += tokens
	t.requestCount++
	t.dailyCost[time.Now().UTC().Format(time.DateOnly)] += cost
	t.modelUsage[model] += tokens

	return cost
}

func (t *CostTracker) GetStats() CostStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	usage := make(map[string]int64, len(t.modelUsage))
	for k, v := range t.modelUsage {
		usage[k] = v
	}

	stats := CostStats{
		TotalCost:    t.totalCost,
		TotalTokens:  t.totalTokens,
		RequestCount: t.requestCount,
		ModelTokens:  usage,
	}
	if t.requestCount > 0 {
		stats.AvgCostPerRequest = t.totalCost / float64(t.requestCount)
	}
	return stats
}

type CostStats struct {
	TotalCost         float64          `json:"total_cost"`
	TotalTokens       int64            `json:"total_tokens"`
	RequestCount      int64            `json:"request_count"`
	AvgCostPerRequest float64          `json:"avg_cost_per_request"`
	ModelTokens       map[string]int64 `json:"model_tokens"`
}
