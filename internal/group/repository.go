package group

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/postgres"
)

const inviteCodeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const inviteCodeLength = 10
const maxCodeRetries = 5

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed group repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new group and its creator as owner in a single transaction.
func (r *PGRepository) Create(ctx context.Context, displayName string, ownerID uuid.UUID) (*Group, error) {
	var g Group
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO groups (display_name, owner_id) VALUES ($1, $2) RETURNING id, display_name, owner_id, created_at`,
			displayName, ownerID,
		)
		if err := row.Scan(&g.ID, &g.DisplayName, &g.OwnerID, &g.CreatedAt); err != nil {
			return fmt.Errorf("insert group: %w", err)
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO group_memberships (group_id, user_id, role) VALUES ($1, $2, $3)`,
			g.ID, ownerID, string(RoleOwner),
		)
		if err != nil {
			return fmt.Errorf("insert owner membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// GetByID returns a group by ID.
func (r *PGRepository) GetByID(ctx context.Context, id int64) (*Group, error) {
	row := r.db.QueryRow(ctx, "SELECT id, display_name, owner_id, created_at FROM groups WHERE id = $1", id)
	var g Group
	if err := row.Scan(&g.ID, &g.DisplayName, &g.OwnerID, &g.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query group by id: %w", err)
	}
	return &g, nil
}

// ListForUser returns every group a user belongs to, ordered by creation time.
func (r *PGRepository) ListForUser(ctx context.Context, userID uuid.UUID) ([]Group, error) {
	rows, err := r.db.Query(ctx,
		`SELECT g.id, g.display_name, g.owner_id, g.created_at
		 FROM groups g JOIN group_memberships m ON m.group_id = g.id
		 WHERE m.user_id = $1
		 ORDER BY g.created_at`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query groups for user: %w", err)
	}
	defer rows.Close()

	var groups []Group
	for rows.Next() {
		var g Group
		if err := rows.Scan(&g.ID, &g.DisplayName, &g.OwnerID, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		groups = append(groups, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate groups: %w", err)
	}
	return groups, nil
}

// AddMember inserts a membership row, failing with ErrAlreadyMember on conflict.
func (r *PGRepository) AddMember(ctx context.Context, groupID int64, userID uuid.UUID, role Role) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO group_memberships (group_id, user_id, role) VALUES ($1, $2, $3)`,
		groupID, userID, string(role),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyMember
		}
		if postgres.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("insert group membership: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership row.
func (r *PGRepository) RemoveMember(ctx context.Context, groupID int64, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM group_memberships WHERE group_id = $1 AND user_id = $2", groupID, userID)
	if err != nil {
		return fmt.Errorf("delete group membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// GetMembership returns one member's role within a group.
func (r *PGRepository) GetMembership(ctx context.Context, groupID int64, userID uuid.UUID) (*Membership, error) {
	row := r.db.QueryRow(ctx,
		`SELECT m.group_id, m.user_id, u.username, m.role, m.joined_at
		 FROM group_memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.group_id = $1 AND m.user_id = $2`,
		groupID, userID,
	)
	var m Membership
	var role string
	if err := row.Scan(&m.GroupID, &m.UserID, &m.Username, &role, &m.JoinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotMember
		}
		return nil, fmt.Errorf("query group membership: %w", err)
	}
	m.Role = Role(role)
	return &m, nil
}

// ListMembers returns every member of a group ordered by join time.
func (r *PGRepository) ListMembers(ctx context.Context, groupID int64) ([]Membership, error) {
	rows, err := r.db.Query(ctx,
		`SELECT m.group_id, m.user_id, u.username, m.role, m.joined_at
		 FROM group_memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.group_id = $1
		 ORDER BY m.joined_at`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("query group members: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		var role string
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Username, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan group membership: %w", err)
		}
		m.Role = Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return members, nil
}

// CreateInvite generates a unique invite code, retrying on collision, matching room.PGRepository.CreateInvite's
// pattern.
func (r *PGRepository) CreateInvite(ctx context.Context, groupID int64, inviterID uuid.UUID, inviteeID *uuid.UUID) (*Invite, error) {
	var lastErr error
	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		code, err := generateInviteCode()
		if err != nil {
			return nil, fmt.Errorf("generate invite code: %w", err)
		}

		row := r.db.QueryRow(ctx,
			`INSERT INTO group_invites (group_id, inviter_id, invitee_id, code)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, group_id, inviter_id, invitee_id, code, created_at`,
			groupID, inviterID, inviteeID, code,
		)

		var inv Invite
		if err := row.Scan(&inv.ID, &inv.GroupID, &inv.InviterID, &inv.InviteeID, &inv.Code, &inv.CreatedAt); err != nil {
			if postgres.IsUniqueViolation(err) {
				lastErr = err
				continue
			}
			if postgres.IsForeignKeyViolation(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("insert group invite: %w", err)
		}
		return &inv, nil
	}
	return nil, fmt.Errorf("generate unique group invite code after %d attempts: %w", maxCodeRetries, lastErr)
}

// ConsumeInvite deletes the invite row and returns it, so a concurrent double-redemption loses the race. An
// invite addressed to the wrong user is left in place, not deleted, so its rightful invitee can still redeem it.
func (r *PGRepository) ConsumeInvite(ctx context.Context, code string, redeemerID uuid.UUID) (*Invite, error) {
	var inv Invite
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT id, group_id, inviter_id, invitee_id, code, created_at FROM group_invites WHERE code = $1 FOR UPDATE`,
			code,
		)
		if err := row.Scan(&inv.ID, &inv.GroupID, &inv.InviterID, &inv.InviteeID, &inv.Code, &inv.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInviteNotFound
			}
			return fmt.Errorf("select group invite: %w", err)
		}
		if inv.InviteeID != nil && *inv.InviteeID != redeemerID {
			return ErrInviteNotForYou
		}
		if _, err := tx.Exec(ctx, "DELETE FROM group_invites WHERE id = $1", inv.ID); err != nil {
			return fmt.Errorf("delete group invite: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

func generateInviteCode() (string, error) {
	buf := make([]byte, inviteCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = inviteCodeAlphabet[int(b)%len(inviteCodeAlphabet)]
	}
	return string(buf), nil
}
