package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/postgres"
)

const selectColumns = `m.id, m.scope, m.scope_id, m.author_id, m.content, m.cipher, m.created_at, u.username`

const baseJoin = "FROM messages m JOIN users u ON u.id = m.author_id"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed relay repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new room or group message and returns it with joined author information.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Message, error) {
	row := r.db.QueryRow(ctx,
		`INSERT INTO messages (scope, scope_id, author_id, content, cipher)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		string(params.Scope), params.ScopeID, params.AuthorID, params.Content, params.Cipher,
	)

	var msg Message
	msg.Scope = params.Scope
	msg.ScopeID = params.ScopeID
	msg.AuthorID = params.AuthorID
	msg.Content = params.Content
	msg.Cipher = params.Cipher
	if err := row.Scan(&msg.ID, &msg.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	if err := r.db.QueryRow(ctx, "SELECT username FROM users WHERE id = $1", params.AuthorID).Scan(&msg.AuthorUsername); err != nil {
		return nil, fmt.Errorf("fetch author username: %w", err)
	}
	return &msg, nil
}

// GetByID returns a single message by ID with joined author information.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Message, error) {
	row := r.db.QueryRow(ctx, fmt.Sprintf("SELECT %s %s WHERE m.id = $1", selectColumns, baseJoin), id)
	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query message by id: %w", err)
	}
	return msg, nil
}

// List returns messages in (scope, scopeID) ordered newest-first, optionally before a cursor message.
func (r *PGRepository) List(ctx context.Context, scope Scope, scopeID string, before *uuid.UUID, limit int) ([]Message, error) {
	var rows pgx.Rows
	var err error

	if before != nil {
		rows, err = r.db.Query(ctx, fmt.Sprintf(
			`SELECT %s %s
			 WHERE m.scope = $1 AND m.scope_id = $2
			   AND (m.created_at, m.id) < (SELECT created_at, id FROM messages WHERE id = $3)
			 ORDER BY m.created_at DESC, m.id DESC
			 LIMIT $4`, selectColumns, baseJoin),
			string(scope), scopeID, *before, limit,
		)
	} else {
		rows, err = r.db.Query(ctx, fmt.Sprintf(
			`SELECT %s %s
			 WHERE m.scope = $1 AND m.scope_id = $2
			 ORDER BY m.created_at DESC, m.id DESC
			 LIMIT $3`, selectColumns, baseJoin),
			string(scope), scopeID, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, *msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return messages, nil
}

// EnqueueOffline spools a ciphertext direct message for a recipient with no live connection.
func (r *PGRepository) EnqueueOffline(ctx context.Context, recipientID, senderID uuid.UUID, cipher string) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO offline_messages (recipient_id, sender_id, cipher) VALUES ($1, $2, $3)`,
		recipientID, senderID, cipher,
	)
	if err != nil {
		return fmt.Errorf("enqueue offline message: %w", err)
	}
	return nil
}

// DrainOffline returns spooled messages from senderID to recipientID in ascending timestamp order. When peek is
// false, it sets delivered_at on the returned rows in the same transaction so a drain is exactly-once (§8 Offline drain
// exactness): a retry that observes the commit never re-delivers, and a retry before the commit sees the rows again.
func (r *PGRepository) DrainOffline(ctx context.Context, recipientID, senderID uuid.UUID, peek bool) ([]OfflineMessage, error) {
	if peek {
		rows, err := r.db.Query(ctx,
			`SELECT id, recipient_id, sender_id, cipher, created_at FROM offline_messages
			 WHERE recipient_id = $1 AND sender_id = $2 AND delivered_at IS NULL
			 ORDER BY created_at ASC`,
			recipientID, senderID,
		)
		if err != nil {
			return nil, fmt.Errorf("peek offline messages: %w", err)
		}
		defer rows.Close()
		return scanOfflineMessages(rows)
	}

	var drained []OfflineMessage
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT id, recipient_id, sender_id, cipher, created_at FROM offline_messages
			 WHERE recipient_id = $1 AND sender_id = $2 AND delivered_at IS NULL
			 ORDER BY created_at ASC
			 FOR UPDATE`,
			recipientID, senderID,
		)
		if err != nil {
			return fmt.Errorf("select offline messages: %w", err)
		}
		msgs, err := scanOfflineMessages(rows)
		rows.Close()
		if err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		if _, err := tx.Exec(ctx,
			`UPDATE offline_messages SET delivered_at = now() WHERE id = ANY($1)`, ids,
		); err != nil {
			return fmt.Errorf("mark offline messages delivered: %w", err)
		}
		drained = msgs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drained, nil
}

// MissedSummary aggregates undelivered spool counts per sender for a recipient.
func (r *PGRepository) MissedSummary(ctx context.Context, recipientID uuid.UUID) ([]SenderCount, error) {
	rows, err := r.db.Query(ctx,
		`SELECT sender_id, COUNT(*) FROM offline_messages
		 WHERE recipient_id = $1 AND delivered_at IS NULL
		 GROUP BY sender_id`,
		recipientID,
	)
	if err != nil {
		return nil, fmt.Errorf("query missed summary: %w", err)
	}
	defer rows.Close()

	var summary []SenderCount
	for rows.Next() {
		var sc SenderCount
		if err := rows.Scan(&sc.SenderID, &sc.Count); err != nil {
			return nil, fmt.Errorf("scan missed summary row: %w", err)
		}
		summary = append(summary, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate missed summary: %w", err)
	}
	return summary, nil
}

// React inserts a reaction if none exists yet for (messageID, userID). The ON CONFLICT DO NOTHING plus
// rows-affected check is the same unique-constraint-as-gate technique the Storage Gateway uses elsewhere
// (user.Repository.Create's duplicate-email/username detection).
func (r *PGRepository) React(ctx context.Context, messageID, userID uuid.UUID, emoji string) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO message_reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
		 ON CONFLICT (message_id, user_id) DO NOTHING`,
		messageID, userID, emoji,
	)
	if err != nil {
		return false, fmt.Errorf("insert reaction: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReactionCounts returns the current per-emoji reaction counts for a message.
func (r *PGRepository) ReactionCounts(ctx context.Context, messageID uuid.UUID) (map[string]int, error) {
	rows, err := r.db.Query(ctx,
		`SELECT emoji, COUNT(*) FROM message_reactions WHERE message_id = $1 GROUP BY emoji`,
		messageID,
	)
	if err != nil {
		return nil, fmt.Errorf("query reaction counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var emoji string
		var count int
		if err := rows.Scan(&emoji, &count); err != nil {
			return nil, fmt.Errorf("scan reaction count row: %w", err)
		}
		counts[emoji] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaction counts: %w", err)
	}
	return counts, nil
}

func scanMessage(row pgx.Row) (*Message, error) {
	var msg Message
	var scope string
	if err := row.Scan(&msg.ID, &scope, &msg.ScopeID, &msg.AuthorID, &msg.Content, &msg.Cipher, &msg.CreatedAt, &msg.AuthorUsername); err != nil {
		return nil, err
	}
	msg.Scope = Scope(scope)
	return &msg, nil
}

func scanOfflineMessages(rows pgx.Rows) ([]OfflineMessage, error) {
	var msgs []OfflineMessage
	for rows.Next() {
		var m OfflineMessage
		if err := rows.Scan(&m.ID, &m.RecipientID, &m.SenderID, &m.Cipher, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan offline message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate offline messages: %w", err)
	}
	return msgs, nil
}
