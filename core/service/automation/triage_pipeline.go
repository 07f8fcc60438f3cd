// Package automation runs the triage pipeline over the support inbox.
package automation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/in"
	"triage_server/core/port/out"
	"triage_server/core/service/classification"
	"triage_server/core/service/knowledge"
	"triage_server/core/service/response"
	"triage_server/core/service/ticket"
	"triage_server/pkg/apperr"
	"triage_server/pkg/metrics"
)

// PipelineDeps are the collaborators of one message's trip through triage.
// Matcher may be nil when no knowledge base is configured.
type PipelineDeps struct {
	Classifier   classification.Classifier
	Matcher      *knowledge.Matcher
	Tickets      *ticket.Service
	Composer     *response.Composer
	Inbox        out.InboxProvider
	Outbox       out.OutboxProvider
	Interactions out.InteractionLog
	Ledger       *Ledger
	// Latency is optional; stage timings are dropped when nil.
	Latency *metrics.Registry
}

// Stage names reported in latency snapshots.
const (
	StageClassify  = "classify"
	StageKnowledge = "knowledge"
	StageTicket    = "ticket"
	StageReply     = "reply"
	StageTotal     = "total"
)

type PipelineConfig struct {
	KBThreshold float64
	KBLimit     int
	// AcknowledgeHumanReview also replies to messages routed to a human
	// when no knowledge article matched.
	AcknowledgeHumanReview bool
}

type Pipeline struct {
	deps PipelineDeps
	cfg  PipelineConfig
	now  func() time.Time
	log  zerolog.Logger
}

func NewPipeline(deps PipelineDeps, cfg PipelineConfig, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		deps: deps,
		cfg:  cfg,
		now:  time.Now,
		log:  log.With().Str("component", "pipeline").Logger(),
	}
}

// Process runs classify, match, ticket, reply, log and mark for msg.
// A returned error means msg was not marked processed and will be retried.
func (p *Pipeline) Process(ctx context.Context, msg *domain.InboundMessage) (*in.ProcessResult, error) {
	result := &in.ProcessResult{MessageID: msg.ID}

	if !p.deps.Ledger.Claim(ctx, msg.ID) {
		result.Skipped = true
		return result, nil
	}
	defer p.deps.Ledger.Release(msg.ID)

	log := p.log.With().Str("message_id", msg.ID).Logger()
	cp := p.deps.Ledger.checkpoint(msg.ID)
	started := time.Now()

	// 1. classify, once per message
	if cp.analysis == nil {
		a := p.deps.Classifier.Analyze(ctx, msg.Body, msg.Subject, msg.SenderAddress)
		cp.analysis = &a
		p.deps.Latency.Since(StageClassify, started)
	}
	analysis := *cp.analysis
	result.Analysis = &analysis

	// 2. knowledge
	stageStart := time.Now()
	candidates := p.search(ctx, msg, log)
	p.deps.Latency.Since(StageKnowledge, stageStart)
	if best := knowledge.BestUsable(candidates); best != nil {
		result.KnowledgeMatch = best.ID
	}

	// 3. ticket, attempted once per message
	if !cp.ticketAttempted {
		stageStart = time.Now()
		cp.ticket = p.deps.Tickets.DecideAndCreate(ctx, msg, analysis)
		cp.ticketAttempted = true
		p.deps.Latency.Since(StageTicket, stageStart)
	}
	result.Ticket = cp.ticket

	// 4. reply
	resolution := resolutionFor(analysis, candidates)
	result.Resolution = resolution

	var sendErr error
	if p.shouldReply(analysis, candidates) && !cp.replySent {
		stageStart = time.Now()
		sendErr = p.reply(ctx, msg, analysis, candidates, cp, log)
		p.deps.Latency.Since(StageReply, stageStart)
	}
	result.ReplySent = cp.replySent

	// 5. interaction record
	if !cp.logged {
		rec := p.processedRecord(msg, analysis, cp, resolution)
		if err := p.deps.Interactions.Append(ctx, rec); err != nil {
			err = apperr.Collaborator("interaction_log", "append", err)
			log.Error().Err(err).Msg("interaction record not written, will retry")
			return result, err
		}
		cp.logged = true
	}

	if sendErr != nil {
		return result, sendErr
	}

	// 6. best-effort mark read
	if err := p.deps.Inbox.MarkRead(ctx, msg.ID); err != nil {
		log.Warn().Err(apperr.Collaborator("inbox", "mark read", err)).Msg("mark read failed")
	} else {
		result.MarkedRead = true
	}

	p.deps.Ledger.MarkProcessed(ctx, msg.ID)
	result.Processed = true
	p.deps.Latency.Since(StageTotal, started)

	log.Info().
		Str("category", string(analysis.Category)).
		Str("priority", string(analysis.Priority)).
		Bool("ticket", cp.ticket != nil).
		Bool("reply_sent", cp.replySent).
		Str("resolution", string(resolution)).
		Msg("message processed")
	return result, nil
}

func (p *Pipeline) search(ctx context.Context, msg *domain.InboundMessage, log zerolog.Logger) []domain.KnowledgeCandidate {
	if p.deps.Matcher == nil {
		return nil
	}
	candidates, err := p.deps.Matcher.Search(ctx, msg.Text(), p.cfg.KBThreshold, p.cfg.KBLimit, "")
	if err != nil {
		log.Warn().Err(apperr.Collaborator("knowledge", "search", err)).Msg("knowledge search failed, continuing without")
		return nil
	}
	return candidates
}

// shouldReply sends automatically unless the message waits for a human and
// nothing in the knowledge base came back.
func (p *Pipeline) shouldReply(a domain.Analysis, candidates []domain.KnowledgeCandidate) bool {
	return !a.RequiresHuman || len(candidates) > 0 || p.cfg.AcknowledgeHumanReview
}

func (p *Pipeline) reply(ctx context.Context, msg *domain.InboundMessage, a domain.Analysis, candidates []domain.KnowledgeCandidate, cp *checkpoint, log zerolog.Logger) error {
	req := response.ComposeRequest{
		Analysis:     a,
		Body:         msg.Body,
		Subject:      msg.Subject,
		Candidates:   candidates,
		CustomerName: msg.SenderDisplay,
	}
	if cp.ticket != nil {
		req.TicketID = cp.ticket.TicketID
	}
	text := p.deps.Composer.Compose(ctx, req)

	sent, err := p.deps.Outbox.Send(ctx, &out.OutgoingMessage{
		To:        msg.SenderAddress,
		Subject:   msg.ReplySubject(),
		Body:      text,
		ThreadID:  msg.ThreadID,
		InReplyTo: msg.MessageIDHeader,
	})
	if err != nil {
		err = apperr.Collaborator("outbox", "send", err)
		log.Error().Err(err).Msg("reply not sent, will retry")
		return err
	}

	cp.replySent = true
	cp.replyMessageID = sent.MessageID

	rec := &domain.InteractionRecord{
		ID:              uuid.NewString(),
		InteractionType: domain.InteractionEmailSent,
		MessageID:       msg.ID,
		ThreadID:        sent.ThreadID,
		CustomerEmail:   msg.SenderAddress,
		Subject:         msg.ReplySubject(),
		Analysis:        a.Summary(),
		TicketID:        ticketID(cp.ticket),
		TicketCreated:   cp.ticket != nil,
		ReplySent:       true,
		ReplyMessageID:  sent.MessageID,
		CreatedAt:       p.now(),
	}
	if err := p.deps.Interactions.Append(ctx, rec); err != nil {
		log.Warn().Err(apperr.Collaborator("interaction_log", "append sent", err)).Msg("sent record not written")
	}
	return nil
}

func (p *Pipeline) processedRecord(msg *domain.InboundMessage, a domain.Analysis, cp *checkpoint, resolution domain.ResolutionType) *domain.InteractionRecord {
	return &domain.InteractionRecord{
		ID:              uuid.NewString(),
		InteractionType: domain.InteractionEmailProcessed,
		MessageID:       msg.ID,
		ThreadID:        msg.ThreadID,
		CustomerEmail:   msg.SenderAddress,
		Subject:         msg.Subject,
		Analysis:        a.Summary(),
		TicketID:        ticketID(cp.ticket),
		TicketCreated:   cp.ticket != nil,
		ReplySent:       cp.replySent,
		ReplyMessageID:  cp.replyMessageID,
		ResolutionType:  resolution,
		CreatedAt:       p.now(),
	}
}

func resolutionFor(a domain.Analysis, candidates []domain.KnowledgeCandidate) domain.ResolutionType {
	switch {
	case knowledge.BestUsable(candidates) != nil:
		return domain.ResolutionKnowledgeBase
	case a.RequiresHuman:
		return domain.ResolutionHumanReview
	}
	return domain.ResolutionTemplate
}

func ticketID(ref *domain.TicketRef) *string {
	if ref == nil {
		return nil
	}
	id := ref.TicketID
	return &id
}

// recoverProcess converts a panic in a collaborator into an error so one
// message cannot take the loop down.
func recoverProcess(id string, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("panic processing %s: %v", id, r)
	}
}
