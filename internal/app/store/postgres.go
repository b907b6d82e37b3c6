package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements MessageStore and PresenceStore on top of a pgx
// connection pool. The schema is managed by the db package (goose migrations).
type Postgres struct {
	pool         *pgxpool.Pool
	historyLimit int
}

// NewPostgres wraps an existing pool. historyLimit caps PublicHistory to the
// most recent N messages; zero means unbounded.
func NewPostgres(pool *pgxpool.Pool, historyLimit int) *Postgres {
	return &Postgres{
		pool:         pool,
		historyLimit: historyLimit,
	}
}

// Append implements MessageStore. Each append is a single INSERT and
// therefore atomic; concurrent appends from different connections never
// interleave partial writes.
func (p *Postgres) Append(ctx context.Context, msg Message) (int64, error) {
	var id int64

	err := p.pool.QueryRow(ctx, `
		INSERT INTO messages (sender, receiver, content, sent_at, is_private)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		RETURNING id`,
		msg.Sender, msg.Receiver, msg.Content, msg.SentAt, msg.Private,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append message: %w", errors.Join(ErrUnavailable, err))
	}

	return id, nil
}

// PublicHistory implements MessageStore.
func (p *Postgres) PublicHistory(ctx context.Context) ([]Message, error) {
	query := `
		SELECT id, sender, COALESCE(receiver, ''), content, sent_at, is_private
		FROM messages
		WHERE is_private = FALSE
		ORDER BY id`

	args := []any{}
	if p.historyLimit > 0 {
		// Cap to the most recent N while preserving insertion order.
		query = `
			SELECT id, sender, COALESCE(receiver, ''), content, sent_at, is_private
			FROM (
				SELECT id, sender, receiver, content, sent_at, is_private
				FROM messages
				WHERE is_private = FALSE
				ORDER BY id DESC
				LIMIT $1
			) recent
			ORDER BY id`
		args = append(args, p.historyLimit)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query public history: %w", errors.Join(ErrUnavailable, err))
	}
	defer rows.Close()

	return scanMessages(rows)
}

// PrivateHistory implements MessageStore. The pair match is symmetric.
func (p *Postgres) PrivateHistory(ctx context.Context, a, b string) ([]Message, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, sender, COALESCE(receiver, ''), content, sent_at, is_private
		FROM messages
		WHERE is_private = TRUE
		  AND ((sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1))
		ORDER BY id`,
		a, b,
	)
	if err != nil {
		return nil, fmt.Errorf("query private history: %w", errors.Join(ErrUnavailable, err))
	}
	defer rows.Close()

	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]Message, error) {
	var out []Message

	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.Sender, &msg.Receiver, &msg.Content, &msg.SentAt, &msg.Private); err != nil {
			return nil, fmt.Errorf("scan message row: %w", errors.Join(ErrUnavailable, err))
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", errors.Join(ErrUnavailable, err))
	}

	return out, nil
}

// Upsert implements PresenceStore with an ON CONFLICT overwrite, giving
// last-write-wins semantics per identity.
func (p *Postgres) Upsert(ctx context.Context, identity, label string, seenAt time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO presence (identity, label, last_seen)
		VALUES ($1, $2, $3)
		ON CONFLICT (identity)
		DO UPDATE SET label = EXCLUDED.label, last_seen = EXCLUDED.last_seen`,
		identity, label, seenAt,
	)
	if err != nil {
		return fmt.Errorf("upsert presence: %w", errors.Join(ErrUnavailable, err))
	}

	return nil
}

// ListActive implements PresenceStore.
func (p *Postgres) ListActive(ctx context.Context) ([]PresenceEntry, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT identity, label, last_seen
		FROM presence
		ORDER BY identity`,
	)
	if err != nil {
		return nil, fmt.Errorf("query presence: %w", errors.Join(ErrUnavailable, err))
	}
	defer rows.Close()

	var out []PresenceEntry
	for rows.Next() {
		var entry PresenceEntry
		if err := rows.Scan(&entry.Identity, &entry.Label, &entry.LastSeen); err != nil {
			return nil, fmt.Errorf("scan presence row: %w", errors.Join(ErrUnavailable, err))
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate presence rows: %w", errors.Join(ErrUnavailable, err))
	}

	return out, nil
}
