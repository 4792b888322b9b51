package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, user_id, created_at, last_activity_at, terminated_at, termination_reason, user_agent_fingerprint`

func scanSession(row pgx.Row) (*Session, error) {
	var s Session
	var reason *string
	err := row.Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.LastActivityAt, &s.TerminatedAt, &reason, &s.UserAgentFingerprint)
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if reason != nil {
		r := TerminationReason(*reason)
		s.TerminationReason = &r
	}
	return &s, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed session repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create opens a new AuthSession for a just-authenticated user.
func (r *PGRepository) Create(ctx context.Context, userID uuid.UUID, fingerprint string) (*Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx,
		`INSERT INTO auth_sessions (user_id, user_agent_fingerprint)
		 VALUES ($1, $2)
		 RETURNING `+selectColumns,
		userID, fingerprint,
	))
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

// Get returns the session matching the given ID.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	s, err := scanSession(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM auth_sessions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return s, nil
}

// RecordActivity stamps last_activity_at, called on every successful Validate of a bound access token.
func (r *PGRepository) RecordActivity(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE auth_sessions SET last_activity_at = $1 WHERE id = $2 AND terminated_at IS NULL`,
		at, id,
	)
	if err != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	return nil
}

// Terminate marks a session as ended. Idempotent: terminating an already-terminated session is a no-op.
func (r *PGRepository) Terminate(ctx context.Context, id uuid.UUID, reason TerminationReason, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE auth_sessions SET terminated_at = $1, termination_reason = $2
		 WHERE id = $3 AND terminated_at IS NULL`,
		at, string(reason), id,
	)
	if err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	return nil
}

// TerminateAllForUser ends every active session belonging to a user and returns their IDs, so the caller can also
// revoke the matching Valkey-backed refresh tokens and publish force_logout to each.
func (r *PGRepository) TerminateAllForUser(ctx context.Context, userID uuid.UUID, reason TerminationReason, at time.Time) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx,
		`UPDATE auth_sessions SET terminated_at = $1, termination_reason = $2
		 WHERE user_id = $3 AND terminated_at IS NULL
		 RETURNING id`,
		at, string(reason), userID,
	)
	if err != nil {
		return nil, fmt.Errorf("terminate all sessions: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan terminated session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IdleSince returns every active session whose last activity is at or before the cutoff, for the idle-sweep
// background job to terminate.
func (r *PGRepository) IdleSince(ctx context.Context, cutoff time.Time) ([]Session, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+selectColumns+` FROM auth_sessions WHERE terminated_at IS NULL AND last_activity_at <= $1`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("query idle sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// RecordToken inserts one entry into the auth_tokens lineage audit trail.
func (r *PGRepository) RecordToken(ctx context.Context, t Token) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO auth_tokens (jti, session_id, kind, issued_at, expires_at, revoked, parent_jti)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.JTI, t.SessionID, string(t.Kind), t.IssuedAt, t.ExpiresAt, t.Revoked, t.ParentJTI,
	)
	if err != nil {
		return fmt.Errorf("record token: %w", err)
	}
	return nil
}

// RevokeToken flags a single token as revoked in the lineage trail. No code path in the server calls it.
func (r *PGRepository) RevokeToken(ctx context.Context, jti uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE auth_tokens SET revoked = true WHERE jti = $1`, jti)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
