package automation

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// checkpoint records side effects already performed for a message that has
// not finished the pipeline, so a retry never repeats them.
type checkpoint struct {
	analysis        *domain.Analysis
	ticketAttempted bool
	ticket          *domain.TicketRef
	replySent       bool
	replyMessageID  string
	logged          bool
}

// Ledger is the dedup ledger. Memory is authoritative for this run; an
// optional LedgerStore makes it survive restarts.
type Ledger struct {
	mu          sync.Mutex
	processed   map[string]struct{}
	inflight    map[string]struct{}
	checkpoints map[string]*checkpoint
	store       out.LedgerStore
	log         zerolog.Logger
}

func NewLedger(store out.LedgerStore, log zerolog.Logger) *Ledger {
	return &Ledger{
		processed:   make(map[string]struct{}),
		inflight:    make(map[string]struct{}),
		checkpoints: make(map[string]*checkpoint),
		store:       store,
		log:         log.With().Str("component", "ledger").Logger(),
	}
}

// Contains reports whether id finished the pipeline.
func (l *Ledger) Contains(ctx context.Context, id string) bool {
	l.mu.Lock()
	_, ok := l.processed[id]
	l.mu.Unlock()
	if ok {
		return true
	}
	return l.seenInStore(ctx, id)
}

// Claim reserves id for processing. It fails when id is processed or another
// caller holds it. A successful claim must be released.
func (l *Ledger) Claim(ctx context.Context, id string) bool {
	l.mu.Lock()
	if _, ok := l.processed[id]; ok {
		l.mu.Unlock()
		return false
	}
	if _, ok := l.inflight[id]; ok {
		l.mu.Unlock()
		return false
	}
	l.inflight[id] = struct{}{}
	l.mu.Unlock()

	if l.seenInStore(ctx, id) {
		l.Release(id)
		return false
	}
	return true
}

func (l *Ledger) Release(id string) {
	l.mu.Lock()
	delete(l.inflight, id)
	l.mu.Unlock()
}

// MarkProcessed enters id into the processed set. It is idempotent.
func (l *Ledger) MarkProcessed(ctx context.Context, id string) {
	l.mu.Lock()
	_, already := l.processed[id]
	l.processed[id] = struct{}{}
	delete(l.checkpoints, id)
	l.mu.Unlock()

	if already || l.store == nil {
		return
	}
	if err := l.store.Remember(ctx, id); err != nil {
		l.log.Warn().Err(err).Str("message_id", id).Msg("ledger store write failed")
	}
}

// checkpoint returns the progress record for id, creating it on first use.
// Only the claim holder touches its fields.
func (l *Ledger) checkpoint(id string) *checkpoint {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp, ok := l.checkpoints[id]
	if !ok {
		cp = &checkpoint{}
		l.checkpoints[id] = cp
	}
	return cp
}

// Count is the number of messages processed in this run.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.processed)
}

func (l *Ledger) seenInStore(ctx context.Context, id string) bool {
	if l.store == nil {
		return false
	}
	seen, err := l.store.Seen(ctx, id)
	if err != nil {
		l.log.Warn().Err(err).Str("message_id", id).Msg("ledger store read failed, treating as unseen")
		return false
	}
	if seen {
		l.mu.Lock()
		l.processed[id] = struct{}{}
		l.mu.Unlock()
	}
	return seen
}

// =============================================================================
// Interaction-log backed store
// =============================================================================

// InteractionLedgerStore derives "already processed" from the interaction log.
// The email_processed record is written even when the reply fails, so only a
// completion marker counts as seen.
type InteractionLedgerStore struct {
	log out.InteractionLog
	now func() time.Time
}

func NewInteractionLedgerStore(log out.InteractionLog) *InteractionLedgerStore {
	return &InteractionLedgerStore{log: log, now: time.Now}
}

func (s *InteractionLedgerStore) Seen(ctx context.Context, messageID string) (bool, error) {
	recs, err := s.log.Query(ctx, domain.InteractionQuery{
		MessageID:       messageID,
		InteractionType: domain.InteractionMessageCompleted,
		Limit:           1,
	})
	if err != nil {
		return false, err
	}
	return len(recs) > 0, nil
}

// Remember appends the completion marker. Its id derives from the message id,
// so a repeated write is absorbed by the log.
func (s *InteractionLedgerStore) Remember(ctx context.Context, messageID string) error {
	return s.log.Append(ctx, &domain.InteractionRecord{
		ID:              completionMarkerID(messageID),
		InteractionType: domain.InteractionMessageCompleted,
		MessageID:       messageID,
		CreatedAt:       s.now().UTC(),
	})
}

func completionMarkerID(messageID string) string {
	return "completed:" + messageID
}

var _ out.LedgerStore = (*InteractionLedgerStore)(nil)
