package classification

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
)

const llmSystemPrompt = `You are a customer support triage assistant. You read one customer email and
return a single JSON object describing it. Respond with JSON only.`

const llmUserPrompt = `Analyze this customer support email and provide a structured analysis:

Subject: %s
From: %s
Body: %s

Return a JSON object with exactly these fields:
{
  "category": one of "technical", "billing", "account", "general", "complaint", "feature_request",
  "priority": one of "low", "medium", "high",
  "sentiment": one of "positive", "neutral", "negative",
  "intent": one of "question", "support_request", "refund_request", "complaint", "information",
  "confidence": number between 0.0 and 1.0,
  "keywords": list of up to 10 important keywords,
  "requires_human": true if this needs human attention,
  "ticket_needed": true if a support ticket should be created,
  "reasoning": short explanation of the analysis
}`

const maxPromptBody = 4000

// LLMClassifier asks an inference service for the analysis and falls back
// to SafeDefault whenever the answer cannot be used.
type LLMClassifier struct {
	llm     out.InferenceService
	lenient bool
	log     zerolog.Logger
}

// LLMOption configures an LLMClassifier.
type LLMOption func(*LLMClassifier)

// WithLenientJSON repairs near-JSON output (trailing commas, single quotes) before decoding.
func WithLenientJSON() LLMOption {
	return func(c *LLMClassifier) { c.lenient = true }
}

func NewLLMClassifier(llm out.InferenceService, log zerolog.Logger, opts ...LLMOption) *LLMClassifier {
	c := &LLMClassifier{
		llm: llm,
		log: log.With().Str("component", "llm_classifier").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *LLMClassifier) Name() string {
	return "llm"
}

// Analyze never fails; inference or parse errors produce SafeDefault.
func (c *LLMClassifier) Analyze(ctx context.Context, body, subject, sender string) (a domain.Analysis) {
	defer recoverAnalysis(&a, c.log)

	prompt := fmt.Sprintf(llmUserPrompt, subject, sender, truncateBody(body, maxPromptBody))

	resp, err := c.llm.Complete(ctx, llmSystemPrompt, prompt)
	if err != nil {
		c.log.Warn().Err(apperr.Collaborator("inference", "complete", err)).Msg("inference failed, using fallback analysis")
		return SafeDefault().Enforce()
	}

	analysis, err := ParseAnalysis(resp, c.lenient)
	if err != nil {
		c.log.Warn().Err(err).Msg("unusable inference output, using fallback analysis")
		return SafeDefault().Enforce()
	}
	return analysis.Enforce()
}

// llmAnalysis mirrors the prompt's JSON shape. Pointers detect missing fields.
type llmAnalysis struct {
	Category      *string  `json:"category"`
	Priority      *string  `json:"priority"`
	Sentiment     *string  `json:"sentiment"`
	Intent        *string  `json:"intent"`
	Confidence    *float64 `json:"confidence"`
	Keywords      []string `json:"keywords"`
	RequiresHuman bool     `json:"requires_human"`
	TicketNeeded  bool     `json:"ticket_needed"`
	Reasoning     string   `json:"reasoning"`
}

var errNoJSONObject = errors.New("no JSON object in response")

// ParseAnalysis decodes the outermost {...} of resp. The result is not yet enforced.
func ParseAnalysis(resp string, lenient bool) (domain.Analysis, error) {
	start := strings.Index(resp, "{")
	end := strings.LastIndex(resp, "}")
	if start < 0 || end <= start {
		return domain.Analysis{}, apperr.ClassificationParse(errNoJSONObject)
	}
	raw := resp[start : end+1]

	var parsed llmAnalysis
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		if !lenient {
			return domain.Analysis{}, apperr.ClassificationParse(err)
		}
		repaired, rerr := jsonrepair.JSONRepair(raw)
		if rerr != nil {
			return domain.Analysis{}, apperr.ClassificationParse(rerr)
		}
		if err := json.Unmarshal([]byte(repaired), &parsed); err != nil {
			return domain.Analysis{}, apperr.ClassificationParse(err)
		}
	}

	if parsed.Category == nil || parsed.Priority == nil || parsed.Sentiment == nil || parsed.Confidence == nil {
		return domain.Analysis{}, apperr.ClassificationParse(errors.New("missing required field"))
	}

	a := domain.Analysis{
		Category:      domain.Category(normalize(*parsed.Category)),
		Priority:      domain.Priority(normalize(*parsed.Priority)),
		Sentiment:     domain.Sentiment(normalize(*parsed.Sentiment)),
		Intent:        domain.IntentSupportRequest,
		Confidence:    *parsed.Confidence,
		Keywords:      limitKeywords(parsed.Keywords),
		RequiresHuman: parsed.RequiresHuman,
		TicketNeeded:  parsed.TicketNeeded,
		Reasoning:     parsed.Reasoning,
	}
	if parsed.Intent != nil {
		a.Intent = domain.Intent(normalize(*parsed.Intent))
	}
	if err := a.Validate(); err != nil {
		return domain.Analysis{}, apperr.ClassificationParse(err)
	}
	return a, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func limitKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	for _, k := range in {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
		if len(out) == maxKeywords {
			break
		}
	}
	return out
}

// truncateBody truncates body to maxLen characters.
func truncateBody(body string, maxLen int) string {
	r := []rune(body)
	if len(r) <= maxLen {
		return body
	}
	return string(r[:maxLen]) + "..."
}

var _ Classifier = (*LLMClassifier)(nil)
