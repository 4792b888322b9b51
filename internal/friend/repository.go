package friend

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

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed friend repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// CreateRequest inserts a pending friend request after checking blocks and existing friendship/pending state.
func (r *PGRepository) CreateRequest(ctx context.Context, requesterID, recipientID uuid.UUID) (*Request, error) {
	if requesterID == recipientID {
		return nil, ErrSelfRequest
	}

	blockedByRecipient, err := r.IsBlocked(ctx, recipientID, requesterID)
	if err != nil {
		return nil, err
	}
	blockedRecipient, err := r.IsBlocked(ctx, requesterID, recipientID)
	if err != nil {
		return nil, err
	}
	if blockedByRecipient || blockedRecipient {
		return nil, ErrBlocked
	}

	a, b := OrderPair(requesterID, recipientID)
	already, err := r.AreFriends(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if already {
		return nil, ErrAlreadyFriends
	}

	if _, err := r.GetPendingRequest(ctx, recipientID, requesterID); err == nil {
		return nil, ErrAlreadyPending
	} else if !errors.Is(err, ErrRequestNotFound) {
		return nil, err
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO friend_requests (requester_id, recipient_id) VALUES ($1, $2)
		 RETURNING id, requester_id, recipient_id, status, created_at, responded_at`,
		requesterID, recipientID,
	)
	var req Request
	var status string
	if err := row.Scan(&req.ID, &req.RequesterID, &req.RecipientID, &status, &req.CreatedAt, &req.RespondedAt); err != nil {
		if postgres.IsUniqueViolation(err) {
			return nil, ErrAlreadyPending
		}
		return nil, fmt.Errorf("insert friend request: %w", err)
	}
	req.Status = Status(status)
	return &req, nil
}

// GetPendingRequest looks up a pending request in a specific direction.
func (r *PGRepository) GetPendingRequest(ctx context.Context, requesterID, recipientID uuid.UUID) (*Request, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, requester_id, recipient_id, status, created_at, responded_at
		 FROM friend_requests WHERE requester_id = $1 AND recipient_id = $2 AND status = 'pending'`,
		requesterID, recipientID,
	)
	var req Request
	var status string
	if err := row.Scan(&req.ID, &req.RequesterID, &req.RecipientID, &status, &req.CreatedAt, &req.RespondedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("query pending friend request: %w", err)
	}
	req.Status = Status(status)
	return &req, nil
}

// Respond marks a pending request accepted or rejected, inserting the friendship row atomically on acceptance.
func (r *PGRepository) Respond(ctx context.Context, requestID uuid.UUID, accept bool) (*Request, error) {
	var req Request
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT id, requester_id, recipient_id, status FROM friend_requests WHERE id = $1 FOR UPDATE`,
			requestID,
		)
		var status string
		if err := row.Scan(&req.ID, &req.RequesterID, &req.RecipientID, &status); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrRequestNotFound
			}
			return fmt.Errorf("select friend request: %w", err)
		}
		if Status(status) != StatusPending {
			return ErrNotPending
		}

		newStatus := StatusRejected
		if accept {
			newStatus = StatusAccepted
		}

		row = tx.QueryRow(ctx,
			`UPDATE friend_requests SET status = $2, responded_at = now() WHERE id = $1
			 RETURNING status, created_at, responded_at`,
			requestID, string(newStatus),
		)
		if err := row.Scan(&status, &req.CreatedAt, &req.RespondedAt); err != nil {
			return fmt.Errorf("update friend request: %w", err)
		}
		req.Status = Status(status)

		if accept {
			a, b := OrderPair(req.RequesterID, req.RecipientID)
			if _, err := tx.Exec(ctx,
				`INSERT INTO friendships (user_a, user_b) VALUES ($1, $2) ON CONFLICT DO NOTHING`, a, b,
			); err != nil {
				return fmt.Errorf("insert friendship: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

// ListIncomingRequests returns every pending request addressed to a user.
func (r *PGRepository) ListIncomingRequests(ctx context.Context, recipientID uuid.UUID) ([]Request, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, requester_id, recipient_id, status, created_at, responded_at
		 FROM friend_requests WHERE recipient_id = $1 AND status = 'pending'
		 ORDER BY created_at`,
		recipientID,
	)
	if err != nil {
		return nil, fmt.Errorf("query incoming friend requests: %w", err)
	}
	defer rows.Close()

	var reqs []Request
	for rows.Next() {
		var req Request
		var status string
		if err := rows.Scan(&req.ID, &req.RequesterID, &req.RecipientID, &status, &req.CreatedAt, &req.RespondedAt); err != nil {
			return nil, fmt.Errorf("scan friend request: %w", err)
		}
		req.Status = Status(status)
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friend requests: %w", err)
	}
	return reqs, nil
}

// AreFriends reports whether a and b have a confirmed friendship, in either argument order.
func (r *PGRepository) AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error) {
	x, y := OrderPair(a, b)
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM friendships WHERE user_a = $1 AND user_b = $2)", x, y,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query friendship: %w", err)
	}
	return exists, nil
}

// ListFriends returns every confirmed friend of a user, with usernames joined in.
func (r *PGRepository) ListFriends(ctx context.Context, userID uuid.UUID) ([]Friend, error) {
	rows, err := r.db.Query(ctx,
		`SELECT u.id, u.username, f.created_at
		 FROM friendships f
		 JOIN users u ON u.id = (CASE WHEN f.user_a = $1 THEN f.user_b ELSE f.user_a END)
		 WHERE f.user_a = $1 OR f.user_b = $1
		 ORDER BY f.created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query friends: %w", err)
	}
	defer rows.Close()

	var friends []Friend
	for rows.Next() {
		var f Friend
		if err := rows.Scan(&f.UserID, &f.Username, &f.Since); err != nil {
			return nil, fmt.Errorf("scan friend: %w", err)
		}
		friends = append(friends, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate friends: %w", err)
	}
	return friends, nil
}

// RemoveFriend deletes a friendship row in either argument order.
func (r *PGRepository) RemoveFriend(ctx context.Context, a, b uuid.UUID) error {
	x, y := OrderPair(a, b)
	tag, err := r.db.Exec(ctx, "DELETE FROM friendships WHERE user_a = $1 AND user_b = $2", x, y)
	if err != nil {
		return fmt.Errorf("delete friendship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFriends
	}
	return nil
}

// Block records blockerID blocking blockedID. Blocking is directional and idempotent.
func (r *PGRepository) Block(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	_, err := r.db.Exec(ctx,
		"INSERT INTO user_blocks (blocker_id, blocked_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		blockerID, blockedID,
	)
	if err != nil {
		return fmt.Errorf("insert block: %w", err)
	}
	return nil
}

// Unblock removes a block row.
func (r *PGRepository) Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error {
	_, err := r.db.Exec(ctx, "DELETE FROM user_blocks WHERE blocker_id = $1 AND blocked_id = $2", blockerID, blockedID)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	return nil
}

// IsBlocked reports whether blockerID has blocked blockedID.
func (r *PGRepository) IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM user_blocks WHERE blocker_id = $1 AND blocked_id = $2)", blockerID, blockedID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query block: %w", err)
	}
	return exists, nil
}
