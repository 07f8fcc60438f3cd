package messaging

import (
	"context"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

// PublishingLog appends to the wrapped log and then publishes the record.
// The log is the source of truth; a failed publish is only logged.
type PublishingLog struct {
	out.InteractionLog
	publisher out.InteractionPublisher
	log       zerolog.Logger
}

func NewPublishingLog(inner out.InteractionLog, publisher out.InteractionPublisher, log zerolog.Logger) *PublishingLog {
	return &PublishingLog{
		InteractionLog: inner,
		publisher:      publisher,
		log:            log.With().Str("component", "interaction_events").Logger(),
	}
}

func (l *PublishingLog) Append(ctx context.Context, rec *domain.InteractionRecord) error {
	if err := l.InteractionLog.Append(ctx, rec); err != nil {
		return err
	}
	if err := l.publisher.Publish(ctx, rec); err != nil {
		l.log.Warn().Err(err).Str("record_id", rec.ID).Str("message_id", rec.MessageID).Msg("interaction event not published")
	}
	return nil
}

var _ out.InteractionLog = (*PublishingLog)(nil)
