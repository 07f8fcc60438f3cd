package classification

import (
	"context"
	"regexp"
	"strings"
	"unicode"

	"triage_server/core/domain"
	"triage_server/pkg/logger"
)

// =============================================================================
// Keyword tables
// =============================================================================

type categoryKeywords struct {
	category domain.Category
	keywords []string
}

// Order matters: argmax ties resolve to the earlier category.
var categoryTable = []categoryKeywords{
	{domain.CategoryTechnical, []string{"error", "bug", "crash", "not working", "broken", "issue", "problem", "outage", "down", "failure", "timeout"}},
	{domain.CategoryBilling, []string{"payment", "invoice", "charge", "refund", "subscription", "billing"}},
	{domain.CategoryAccount, []string{"login", "password", "access", "account", "profile", "settings"}},
	{domain.CategoryGeneral, []string{"question", "help", "how to", "information", "support"}},
	{domain.CategoryComplaint, []string{"angry", "frustrated", "terrible", "awful", "disappointed"}},
	{domain.CategoryFeatureRequest, []string{"feature", "enhancement", "suggestion", "improve", "add"}},
}

type priorityKeywords struct {
	priority domain.Priority
	keywords []string
}

// First matching row wins; no match means medium.
var priorityTable = []priorityKeywords{
	{domain.PriorityHigh, []string{"urgent", "critical", "emergency", "asap", "immediately", "down", "outage"}},
	{domain.PriorityLow, []string{"when possible", "eventually", "minor", "no rush", "whenever"}},
}

type sentimentKeywords struct {
	sentiment domain.Sentiment
	keywords  []string
}

var sentimentTable = []sentimentKeywords{
	{domain.SentimentPositive, []string{"thank", "great", "excellent", "love", "amazing", "perfect"}},
	{domain.SentimentNegative, []string{"angry", "frustrated", "terrible", "awful", "hate", "worst"}},
	{domain.SentimentNeutral, []string{"question", "help", "information", "please", "need"}},
}

var (
	questionWords = []string{"how", "what", "when", "where", "why"}
	supportWords  = []string{"fix", "solve", "help", "support"}
	refundWords   = []string{"refund", "cancel", "return"}

	// Technical messages mentioning these always go to a human.
	escalationKeywords = map[string]bool{"crash": true, "data": true, "security": true, "breach": true}
)

var stopWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "can": true, "had": true, "her": true, "was": true,
	"one": true, "our": true, "out": true, "day": true, "get": true, "has": true,
	"him": true, "his": true, "how": true, "its": true, "may": true, "new": true,
	"now": true, "old": true, "see": true, "two": true, "who": true, "boy": true,
	"did": true, "she": true, "use": true, "way": true, "this": true, "that": true,
	"with": true, "have": true, "from": true, "they": true, "been": true, "were": true,
	"said": true, "each": true, "which": true, "their": true, "time": true, "will": true,
	"about": true, "would": true, "there": true, "could": true, "other": true,
	"after": true, "first": true, "well": true, "also": true, "some": true,
	"what": true, "when": true, "where": true, "your": true, "just": true,
	"into": true, "than": true, "then": true, "them": true, "these": true,
	"hello": true, "thanks": true, "regards": true, "please": true,
}

const maxKeywords = 10

// =============================================================================
// Rule Classifier
// =============================================================================

// RuleClassifier is the deterministic keyword classifier.
type RuleClassifier struct {
	matchers map[string]*regexp.Regexp
}

// NewRuleClassifier precompiles a word-boundary matcher for every table keyword.
func NewRuleClassifier() *RuleClassifier {
	c := &RuleClassifier{matchers: make(map[string]*regexp.Regexp)}
	add := func(words []string) {
		for _, w := range words {
			if _, ok := c.matchers[w]; !ok {
				c.matchers[w] = regexp.MustCompile(`\b` + regexp.QuoteMeta(w) + `(?:s|es|d|ed|ing)?\b`)
			}
		}
	}
	for _, row := range categoryTable {
		add(row.keywords)
	}
	for _, row := range priorityTable {
		add(row.keywords)
	}
	for _, row := range sentimentTable {
		add(row.keywords)
	}
	add(questionWords)
	add(supportWords)
	add(refundWords)
	return c
}

func (c *RuleClassifier) Name() string {
	return "rule"
}

// Analyze never fails; the returned analysis already satisfies the invariants.
func (c *RuleClassifier) Analyze(_ context.Context, body, subject, _ string) (a domain.Analysis) {
	defer recoverAnalysis(&a, logger.Component("rule_classifier"))

	text := strings.ToLower(subject + " " + body)

	category := c.category(text)
	priority := c.priority(text)
	sentiment := c.sentiment(text)
	intent := c.intent(text, category)
	keywords := extractKeywords(text)

	a = domain.Analysis{
		Category:   category,
		Priority:   priority,
		Sentiment:  sentiment,
		Intent:     intent,
		Confidence: confidence(category, priority, sentiment),
		Keywords:   keywords,
		Reasoning:  "Rule-based keyword analysis",
	}
	a.RequiresHuman = requiresHuman(a)
	a.TicketNeeded = a.RequiresTicket()

	return a.Enforce()
}

func (c *RuleClassifier) hits(text string, words []string) int {
	n := 0
	for _, w := range words {
		if c.matchers[w].MatchString(text) {
			n++
		}
	}
	return n
}

func (c *RuleClassifier) any(text string, words []string) bool {
	for _, w := range words {
		if c.matchers[w].MatchString(text) {
			return true
		}
	}
	return false
}

func (c *RuleClassifier) category(text string) domain.Category {
	best, bestHits := domain.CategoryGeneral, 0
	for _, row := range categoryTable {
		if n := c.hits(text, row.keywords); n > bestHits {
			best, bestHits = row.category, n
		}
	}
	return best
}

func (c *RuleClassifier) priority(text string) domain.Priority {
	for _, row := range priorityTable {
		if c.any(text, row.keywords) {
			return row.priority
		}
	}
	return domain.PriorityMedium
}

func (c *RuleClassifier) sentiment(text string) domain.Sentiment {
	best, bestHits := domain.SentimentNeutral, 0
	for _, row := range sentimentTable {
		if n := c.hits(text, row.keywords); n > bestHits {
			best, bestHits = row.sentiment, n
		}
	}
	return best
}

func (c *RuleClassifier) intent(text string, category domain.Category) domain.Intent {
	switch {
	case strings.Contains(text, "?") || c.any(text, questionWords):
		return domain.IntentQuestion
	case c.any(text, supportWords):
		return domain.IntentSupportRequest
	case c.any(text, refundWords):
		return domain.IntentRefundRequest
	case category == domain.CategoryComplaint:
		return domain.IntentComplaint
	}
	return domain.IntentSupportRequest
}

func confidence(category domain.Category, priority domain.Priority, sentiment domain.Sentiment) float64 {
	score := 0.7
	switch category {
	case domain.CategoryTechnical, domain.CategoryBilling:
		score += 0.1
	case domain.CategoryGeneral:
		score -= 0.1
	}
	if priority != domain.PriorityMedium {
		score += 0.1
	}
	if sentiment != domain.SentimentNeutral {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

func requiresHuman(a domain.Analysis) bool {
	if a.Category == domain.CategoryTechnical {
		for _, k := range a.Keywords {
			if escalationKeywords[k] {
				return true
			}
		}
	}
	return false
}

// extractKeywords returns up to maxKeywords distinct non-stop words longer
// than three letters, in order of first appearance.
func extractKeywords(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool)
	keywords := make([]string, 0, maxKeywords)
	for _, w := range words {
		if len([]rune(w)) <= 3 || stopWords[w] || seen[w] {
			continue
		}
		seen[w] = true
		keywords = append(keywords, w)
		if len(keywords) == maxKeywords {
			break
		}
	}
	return keywords
}

var _ Classifier = (*RuleClassifier)(nil)
