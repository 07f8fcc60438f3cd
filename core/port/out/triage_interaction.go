package out

import (
	"context"

	"triage_server/core/domain"
)

// InteractionLog is the append-only audit trail.
type InteractionLog interface {
	Append(ctx context.Context, rec *domain.InteractionRecord) error
	Query(ctx context.Context, q domain.InteractionQuery) ([]domain.InteractionRecord, error)
}

// InteractionPublisher fans interaction records out to downstream consumers.
type InteractionPublisher interface {
	Publish(ctx context.Context, rec *domain.InteractionRecord) error
	Close() error
}

// LedgerStore remembers processed message ids across restarts.
type LedgerStore interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Remember(ctx context.Context, messageID string) error
}
