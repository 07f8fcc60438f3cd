package automation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/core/service/classification"
	"triage_server/core/service/knowledge"
	"triage_server/core/service/response"
	"triage_server/core/service/ticket"
	"triage_server/pkg/metrics"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeInbox struct {
	mu        sync.Mutex
	msgs      []domain.InboundMessage
	read      map[string]bool
	listErr   error
	markErr   error
	listCalls int
}

func newFakeInbox(msgs ...domain.InboundMessage) *fakeInbox {
	return &fakeInbox{msgs: msgs, read: make(map[string]bool)}
}

func (f *fakeInbox) ListUnseen(_ context.Context, _ time.Duration, max int) ([]domain.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var res []domain.InboundMessage
	for _, m := range f.msgs {
		if !f.read[m.ID] && len(res) < max {
			res = append(res, m)
		}
	}
	return res, nil
}

func (f *fakeInbox) Get(_ context.Context, id string) (*domain.InboundMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.msgs {
		if m.ID == id {
			msg := m
			return &msg, nil
		}
	}
	return nil, out.NewProviderError("fake", out.ProviderErrNotFound, "no such message", nil, false)
}

func (f *fakeInbox) MarkRead(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.read[id] = true
	return nil
}

func (f *fakeInbox) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeInbox) setListErr(err error) {
	f.mu.Lock()
	f.listErr = err
	f.mu.Unlock()
}

type fakeOutbox struct {
	mu      sync.Mutex
	sent    []*out.OutgoingMessage
	failFor int // number of sends that fail before succeeding
	entered chan string
	release chan struct{}
}

func (f *fakeOutbox) Send(_ context.Context, msg *out.OutgoingMessage) (*out.SendResult, error) {
	if f.entered != nil {
		f.entered <- msg.To
	}
	if f.release != nil {
		<-f.release
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor > 0 {
		f.failFor--
		return nil, errors.New("smtp: 421 service not available")
	}
	f.sent = append(f.sent, msg)
	return &out.SendResult{
		MessageID: fmt.Sprintf("sent-%d", len(f.sent)),
		ThreadID:  msg.ThreadID,
		SentAt:    time.Now(),
	}, nil
}

func (f *fakeOutbox) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeInteractionLog struct {
	mu      sync.Mutex
	records []*domain.InteractionRecord
	failFor int // number of email_processed appends that fail
}

func (f *fakeInteractionLog) Append(_ context.Context, rec *domain.InteractionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.InteractionType == domain.InteractionEmailProcessed && f.failFor > 0 {
		f.failFor--
		return errors.New("connection reset by peer")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeInteractionLog) Query(_ context.Context, q domain.InteractionQuery) ([]domain.InteractionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []domain.InteractionRecord
	for _, r := range f.records {
		if q.MessageID != "" && r.MessageID != q.MessageID {
			continue
		}
		if q.InteractionType != "" && r.InteractionType != q.InteractionType {
			continue
		}
		res = append(res, *r)
		if q.Limit > 0 && len(res) >= q.Limit {
			break
		}
	}
	return res, nil
}

func (f *fakeInteractionLog) ofType(t domain.InteractionType) []*domain.InteractionRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []*domain.InteractionRecord
	for _, r := range f.records {
		if r.InteractionType == t {
			res = append(res, r)
		}
	}
	return res
}

type fakeTicketing struct {
	mu      sync.Mutex
	created int
	err     error
}

func (f *fakeTicketing) CreateTicket(_ context.Context, _ *out.TicketRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.created++
	return fmt.Sprintf("a1b2c3d4-000%d", f.created), nil
}

func (f *fakeTicketing) CreateFollowupTask(_ context.Context, _ *out.FollowupRequest) (string, error) {
	return "task-1", nil
}

func (f *fakeTicketing) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.created
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeKnowledge struct {
	candidates []domain.KnowledgeCandidate
}

func (f *fakeKnowledge) VectorSearch(_ context.Context, _ []float32, _ float64, _ int) ([]domain.KnowledgeCandidate, error) {
	return f.candidates, nil
}

func (f *fakeKnowledge) Upsert(_ context.Context, _ *domain.KnowledgeEntry, _ []float32) error {
	return nil
}

type fakeConnector struct {
	name string
	err  error
}

func (f *fakeConnector) Name() string                    { return f.name }
func (f *fakeConnector) Connect(_ context.Context) error { return f.err }

type panicClassifier struct{}

func (panicClassifier) Name() string { return "panic" }
func (panicClassifier) Analyze(context.Context, string, string, string) domain.Analysis {
	panic("classifier exploded")
}

// =============================================================================
// Harness
// =============================================================================

type harness struct {
	inbox     *fakeInbox
	outbox    *fakeOutbox
	log       *fakeInteractionLog
	ticketing *fakeTicketing
	kb        *fakeKnowledge
	embedder  *fakeEmbedder
	ledger    *Ledger
	latency   *metrics.Registry
	pipeline  *Pipeline
}

func newHarness(msgs ...domain.InboundMessage) *harness {
	h := &harness{
		inbox:     newFakeInbox(msgs...),
		outbox:    &fakeOutbox{},
		log:       &fakeInteractionLog{},
		ticketing: &fakeTicketing{},
		kb:        &fakeKnowledge{},
		embedder:  &fakeEmbedder{},
		latency:   metrics.NewRegistry(16),
	}
	h.ledger = NewLedger(nil, zerolog.Nop())
	h.pipeline = h.build(classification.NewRuleClassifier(), PipelineConfig{KBThreshold: 0.5, KBLimit: 5})
	return h
}

func (h *harness) build(c classification.Classifier, cfg PipelineConfig) *Pipeline {
	return NewPipeline(PipelineDeps{
		Classifier:   c,
		Matcher:      knowledge.NewMatcher(h.embedder, h.kb),
		Tickets:      ticket.NewService(h.ticketing, zerolog.Nop()),
		Composer:     response.NewComposer("Support Team", zerolog.Nop()),
		Inbox:        h.inbox,
		Outbox:       h.outbox,
		Interactions: h.log,
		Ledger:       h.ledger,
		Latency:      h.latency,
	}, cfg, zerolog.Nop())
}

func (h *harness) loop(connectors ...out.Connector) *Loop {
	return NewLoop(LoopConfig{CheckInterval: 10 * time.Millisecond}, h.inbox, h.pipeline, h.ledger, connectors, zerolog.Nop())
}

func msg(id, subject, body string) domain.InboundMessage {
	return domain.InboundMessage{
		ID:              id,
		ThreadID:        "thread-" + id,
		Subject:         subject,
		SenderDisplay:   "Dana",
		SenderAddress:   id + "@customer.example",
		Body:            body,
		MessageIDHeader: "<" + id + "@mail.customer.example>",
	}
}
