package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"triage_server/core/domain"
	"triage_server/core/port/out"
)

const interactionSchema = `
CREATE TABLE IF NOT EXISTS interactions (
	id               TEXT PRIMARY KEY,
	interaction_type TEXT NOT NULL,
	message_id       TEXT NOT NULL,
	thread_id        TEXT NOT NULL DEFAULT '',
	customer_email   TEXT NOT NULL DEFAULT '',
	subject          TEXT NOT NULL DEFAULT '',
	analysis         JSONB NOT NULL DEFAULT '{}',
	ticket_id        TEXT,
	ticket_created   BOOLEAN NOT NULL DEFAULT FALSE,
	reply_sent       BOOLEAN NOT NULL DEFAULT FALSE,
	reply_message_id TEXT NOT NULL DEFAULT '',
	resolution_type  TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interactions_message ON interactions (message_id, interaction_type);
CREATE INDEX IF NOT EXISTS idx_interactions_created ON interactions (created_at);`

const interactionInsertQuery = `
	INSERT INTO interactions (id, interaction_type, message_id, thread_id, customer_email, subject, analysis,
		ticket_id, ticket_created, reply_sent, reply_message_id, resolution_type, created_at)
	VALUES (:id, :interaction_type, :message_id, :thread_id, :customer_email, :subject, :analysis,
		:ticket_id, :ticket_created, :reply_sent, :reply_message_id, :resolution_type, :created_at)`

const interactionColumns = `id, interaction_type, message_id, thread_id, customer_email, subject, analysis,
	ticket_id, ticket_created, reply_sent, reply_message_id, resolution_type, created_at`

// pqUniqueViolation is the SQLSTATE for a duplicate primary key.
const pqUniqueViolation = "23505"

// interactionRow is the table shape; analysis is stored as JSONB.
type interactionRow struct {
	ID              string         `db:"id"`
	InteractionType string         `db:"interaction_type"`
	MessageID       string         `db:"message_id"`
	ThreadID        string         `db:"thread_id"`
	CustomerEmail   string         `db:"customer_email"`
	Subject         string         `db:"subject"`
	Analysis        []byte         `db:"analysis"`
	TicketID        sql.NullString `db:"ticket_id"`
	TicketCreated   bool           `db:"ticket_created"`
	ReplySent       bool           `db:"reply_sent"`
	ReplyMessageID  string         `db:"reply_message_id"`
	ResolutionType  string         `db:"resolution_type"`
	CreatedAt       time.Time      `db:"created_at"`
}

// InteractionAdapter is the Postgres interaction log.
type InteractionAdapter struct {
	db *sqlx.DB
}

func NewInteractionAdapter(db *sqlx.DB) *InteractionAdapter {
	return &InteractionAdapter{db: db}
}

func (a *InteractionAdapter) Name() string {
	return "interaction_log"
}

func (a *InteractionAdapter) Connect(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping interaction log: %w", err)
	}
	if _, err := a.db.ExecContext(ctx, interactionSchema); err != nil {
		return fmt.Errorf("failed to ensure interaction schema: %w", err)
	}
	return nil
}

// Append writes a record once. Re-appending the same id is a no-op.
func (a *InteractionAdapter) Append(ctx context.Context, rec *domain.InteractionRecord) error {
	row, err := toInteractionRow(rec)
	if err != nil {
		return err
	}
	if _, err := a.db.NamedExecContext(ctx, interactionInsertQuery, row); err != nil {
		if pqErr, ok := err.(*pq.Error); ok && string(pqErr.Code) == pqUniqueViolation {
			return nil
		}
		return fmt.Errorf("failed to append interaction: %w", err)
	}
	return nil
}

func (a *InteractionAdapter) Query(ctx context.Context, q domain.InteractionQuery) ([]domain.InteractionRecord, error) {
	query, args := buildInteractionQuery(q)

	var rows []interactionRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}

	records := make([]domain.InteractionRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// buildInteractionQuery turns the non-zero filter fields into a WHERE clause.
func buildInteractionQuery(q domain.InteractionQuery) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if q.MessageID != "" {
		add("message_id = $%d", q.MessageID)
	}
	if q.CustomerEmail != "" {
		add("customer_email = $%d", q.CustomerEmail)
	}
	if q.InteractionType != "" {
		add("interaction_type = $%d", string(q.InteractionType))
	}
	if !q.Since.IsZero() {
		add("created_at >= $%d", q.Since)
	}
	if !q.Until.IsZero() {
		add("created_at < $%d", q.Until)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(interactionColumns)
	sb.WriteString(" FROM interactions")
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY created_at ASC")
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}
	return sb.String(), args
}

func toInteractionRow(rec *domain.InteractionRecord) (*interactionRow, error) {
	analysis, err := json.Marshal(rec.Analysis)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis: %w", err)
	}
	row := &interactionRow{
		ID:              rec.ID,
		InteractionType: string(rec.InteractionType),
		MessageID:       rec.MessageID,
		ThreadID:        rec.ThreadID,
		CustomerEmail:   rec.CustomerEmail,
		Subject:         rec.Subject,
		Analysis:        analysis,
		TicketCreated:   rec.TicketCreated,
		ReplySent:       rec.ReplySent,
		ReplyMessageID:  rec.ReplyMessageID,
		ResolutionType:  string(rec.ResolutionType),
		CreatedAt:       rec.CreatedAt.UTC(),
	}
	if rec.TicketID != nil {
		row.TicketID = sql.NullString{String: *rec.TicketID, Valid: true}
	}
	return row, nil
}

func (r *interactionRow) toDomain() (domain.InteractionRecord, error) {
	rec := domain.InteractionRecord{
		ID:              r.ID,
		InteractionType: domain.InteractionType(r.InteractionType),
		MessageID:       r.MessageID,
		ThreadID:        r.ThreadID,
		CustomerEmail:   r.CustomerEmail,
		Subject:         r.Subject,
		TicketCreated:   r.TicketCreated,
		ReplySent:       r.ReplySent,
		ReplyMessageID:  r.ReplyMessageID,
		ResolutionType:  domain.ResolutionType(r.ResolutionType),
		CreatedAt:       r.CreatedAt,
	}
	if len(r.Analysis) > 0 {
		if err := json.Unmarshal(r.Analysis, &rec.Analysis); err != nil {
			return rec, fmt.Errorf("failed to decode analysis of %s: %w", r.ID, err)
		}
	}
	if r.TicketID.Valid {
		id := r.TicketID.String
		rec.TicketID = &id
	}
	return rec, nil
}

var (
	_ out.InteractionLog = (*InteractionAdapter)(nil)
	_ out.Connector      = (*InteractionAdapter)(nil)
)
