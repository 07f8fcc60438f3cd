package response

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
)

const (
	maxReplyBody       = 2000
	maxReplyCandidates = 3
)

const replySystemPrompt = `You are a professional customer support agent. Write a helpful, empathetic reply
to the customer email you are given.

Guidelines:
1. Address the customer's specific concern.
2. Use the knowledge base articles when they apply.
3. Give clear next steps.
4. Match the tone to the customer's sentiment.
5. Keep the reply concise but complete.

Start with a greeting. Do not write a subject line, a signature or a ticket number;
those are added for you. Only output the reply body.`

const replyUserPrompt = `Customer email:
Subject: %s
From: %s
Content: %s

Analysis:
Category: %s
Priority: %s
Sentiment: %s
Intent: %s
Reasoning: %s
%s
Write the reply:`

// WithInference drafts replies with the model. The templates remain the
// fallback when the model fails or answers with nothing usable.
func WithInference(llm out.InferenceService) Option {
	return func(c *Composer) { c.llm = llm }
}

var errEmptyDraft = errors.New("model returned an empty reply")

func (c *Composer) generate(ctx context.Context, req ComposeRequest) (string, error) {
	prompt := fmt.Sprintf(replyUserPrompt,
		req.Subject,
		req.CustomerName,
		truncate(req.Body, maxReplyBody),
		req.Analysis.Category,
		req.Analysis.Priority,
		req.Analysis.Sentiment,
		req.Analysis.Intent,
		req.Analysis.Reasoning,
		knowledgeContext(req.Candidates),
	)

	resp, err := c.llm.Complete(ctx, replySystemPrompt, prompt)
	if err != nil {
		return "", apperr.Collaborator("inference", "draft reply", err)
	}
	draft := strings.TrimSpace(resp)
	if draft == "" {
		return "", apperr.Composition("draft reply", errEmptyDraft)
	}
	return draft, nil
}

// knowledgeContext lists the top candidates, best first.
func knowledgeContext(candidates []domain.KnowledgeCandidate) string {
	if len(candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\nKnowledge base articles:\n")
	for i, cand := range candidates {
		if i == maxReplyCandidates {
			break
		}
		fmt.Fprintf(&sb, "- %s: %s\n", cand.Title, cand.Content)
		for j, step := range cand.SolutionSteps {
			fmt.Fprintf(&sb, "  %d. %s\n", j+1, step)
		}
	}
	return sb.String()
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
