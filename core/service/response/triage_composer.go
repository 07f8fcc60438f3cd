// Package response composes customer-facing replies.
package response

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/core/service/knowledge"
	"triage_server/pkg/apperr"
)

// ComposeRequest is everything the composer may draw on.
type ComposeRequest struct {
	Analysis     domain.Analysis
	Body         string
	Subject      string
	Candidates   []domain.KnowledgeCandidate
	TicketID     string
	CustomerName string
}

// Composer renders replies from category templates or a matched article,
// or drafts them with a model when one is configured.
type Composer struct {
	teamName  string
	templates map[domain.Category]*template.Template
	solution  *template.Template
	llm       out.InferenceService
	log       zerolog.Logger
}

type Option func(*Composer)

// WithTemplate replaces the template text for one category.
func WithTemplate(category domain.Category, text string) Option {
	return func(c *Composer) {
		c.templates[category] = c.parse(string(category), text)
	}
}

var funcs = template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}

func NewComposer(teamName string, log zerolog.Logger, opts ...Option) *Composer {
	if teamName == "" {
		teamName = "Support Team"
	}
	c := &Composer{
		teamName:  teamName,
		templates: make(map[domain.Category]*template.Template, len(categoryTemplates)),
		log:       log.With().Str("component", "composer").Logger(),
	}
	for cat, text := range categoryTemplates {
		c.templates[cat] = c.parse(string(cat), text)
	}
	c.solution = c.parse("solution", solutionTemplate)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// parse returns nil for broken text; Compose then falls back.
func (c *Composer) parse(name, text string) *template.Template {
	t, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		c.log.Error().Err(err).Str("template", name).Msg("reply template does not parse")
		return nil
	}
	return t
}

// Compose never fails. A model failure falls back to the templates and a
// template error yields the generic acknowledgement.
func (c *Composer) Compose(ctx context.Context, req ComposeRequest) string {
	if c.llm != nil {
		body, err := c.generate(ctx, req)
		if err == nil {
			return c.finish(body, req.TicketID)
		}
		c.log.Warn().Err(err).Msg("model reply unavailable, using template")
	}

	body, err := c.render(req)
	if err != nil {
		c.log.Warn().Err(err).Str("category", string(req.Analysis.Category)).Msg("using fallback reply")
		body = fallbackReply
	}
	return c.finish(body, req.TicketID)
}

type templateData struct {
	CustomerName string
	Subject      string
	SLA          string
	Title        string
	Content      string
	Steps        []string
}

func (c *Composer) render(req ComposeRequest) (string, error) {
	data := templateData{
		CustomerName: req.CustomerName,
		Subject:      req.Subject,
		SLA:          SLAFor(req.Analysis.Category, req.Analysis.Priority),
	}

	tmpl := c.templates[req.Analysis.Category]
	name := string(req.Analysis.Category)
	if best := knowledge.BestUsable(req.Candidates); best != nil {
		tmpl, name = c.solution, "solution"
		data.Title = best.Title
		data.Content = best.Content
		data.Steps = best.SolutionSteps
	}
	if tmpl == nil {
		return "", apperr.Composition("render "+name, errors.New("template unavailable"))
	}

	var sb strings.Builder
	if err := tmpl.Execute(&sb, data); err != nil {
		return "", apperr.Composition("render "+name, err)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

func (c *Composer) finish(body, ticketID string) string {
	var sb strings.Builder
	sb.WriteString(body)
	sb.WriteString("\n\n")
	if ticketID != "" {
		fmt.Fprintf(&sb, "Ticket Reference: #%s\n\n", domain.ShortTicketID(ticketID))
	}
	sb.WriteString("Best regards,\n")
	sb.WriteString(c.teamName)
	return sb.String()
}
