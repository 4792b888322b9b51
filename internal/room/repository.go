package room

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/postgres"
)

const roomColumns = `id, name, category, subcategory, visibility, flag_18plus, flag_nsfw, creator_id,
	locked, readonly, slowmode_seconds, autoscale_parent_id, created_at, updated_at`

const inviteCodeAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
const inviteCodeLength = 10
const maxCodeRetries = 5

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed room repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new room and its creator as owner in a single transaction.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*Room, error) {
	var room Room
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO rooms (name, category, subcategory, visibility, flag_18plus, flag_nsfw, creator_id, autoscale_parent_id)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING `+roomColumns,
			params.Name, params.Category, params.Subcategory, string(params.Visibility),
			params.Flag18Plus, params.FlagNSFW, params.CreatorID, params.AutoscaleParentID,
		)
		if err := scanRoomRow(row, &room); err != nil {
			if postgres.IsUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("insert room: %w", err)
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO room_memberships (room_id, user_id, role) VALUES ($1, $2, $3)`,
			room.ID, params.CreatorID, string(RoleOwner),
		)
		if err != nil {
			return fmt.Errorf("insert creator membership: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// GetByID returns a room by ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*Room, error) {
	row := r.db.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE id = $1", id)
	var room Room
	if err := scanRoomRow(row, &room); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query room by id: %w", err)
	}
	return &room, nil
}

// GetByName returns a room by case-insensitive name.
func (r *PGRepository) GetByName(ctx context.Context, name string) (*Room, error) {
	row := r.db.QueryRow(ctx, "SELECT "+roomColumns+" FROM rooms WHERE lower(name) = lower($1)", name)
	var room Room
	if err := scanRoomRow(row, &room); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query room by name: %w", err)
	}
	return &room, nil
}

// List returns every top-level (non-sub-room) room, ordered by name.
func (r *PGRepository) List(ctx context.Context) ([]Room, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE autoscale_parent_id IS NULL ORDER BY name",
	)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := scanRoomRow(rows, &room); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rooms: %w", err)
	}
	return rooms, nil
}

// UpdatePolicy mutates only the non-nil fields of update and returns the resulting row.
func (r *PGRepository) UpdatePolicy(ctx context.Context, id uuid.UUID, update PolicyUpdate) (*Room, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE rooms SET
			locked = COALESCE($2, locked),
			readonly = COALESCE($3, readonly),
			slowmode_seconds = COALESCE($4, slowmode_seconds),
			updated_at = now()
		 WHERE id = $1
		 RETURNING `+roomColumns,
		id, update.Locked, update.Readonly, update.SlowmodeSeconds,
	)
	var room Room
	if err := scanRoomRow(row, &room); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update room policy: %w", err)
	}
	return &room, nil
}

// AddMember inserts a membership row, failing with ErrAlreadyMember on conflict.
func (r *PGRepository) AddMember(ctx context.Context, roomID, userID uuid.UUID, role Role) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO room_memberships (room_id, user_id, role) VALUES ($1, $2, $3)`,
		roomID, userID, string(role),
	)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return ErrAlreadyMember
		}
		if postgres.IsForeignKeyViolation(err) {
			return ErrNotFound
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership row.
func (r *PGRepository) RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM room_memberships WHERE room_id = $1 AND user_id = $2", roomID, userID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// GetMembership returns one member's role within a room.
func (r *PGRepository) GetMembership(ctx context.Context, roomID, userID uuid.UUID) (*Membership, error) {
	row := r.db.QueryRow(ctx,
		`SELECT m.room_id, m.user_id, u.username, m.role, m.joined_at
		 FROM room_memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.room_id = $1 AND m.user_id = $2`,
		roomID, userID,
	)
	var m Membership
	var role string
	if err := row.Scan(&m.RoomID, &m.UserID, &m.Username, &role, &m.JoinedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotMember
		}
		return nil, fmt.Errorf("query membership: %w", err)
	}
	m.Role = Role(role)
	return &m, nil
}

// ListMembers returns every member of a room ordered by join time.
func (r *PGRepository) ListMembers(ctx context.Context, roomID uuid.UUID) ([]Membership, error) {
	rows, err := r.db.Query(ctx,
		`SELECT m.room_id, m.user_id, u.username, m.role, m.joined_at
		 FROM room_memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.room_id = $1
		 ORDER BY m.joined_at`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []Membership
	for rows.Next() {
		var m Membership
		var role string
		if err := rows.Scan(&m.RoomID, &m.UserID, &m.Username, &role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m.Role = Role(role)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

// MemberCount returns how many users currently belong to a room, used by the autoscaler's capacity check.
func (r *PGRepository) MemberCount(ctx context.Context, roomID uuid.UUID) (int, error) {
	var count int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM room_memberships WHERE room_id = $1", roomID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return count, nil
}

// CreateInvite generates a unique invite code, retrying on collision up to maxCodeRetries times.
func (r *PGRepository) CreateInvite(ctx context.Context, roomID, inviterID uuid.UUID, maxUses int, expiresAt *time.Time) (*Invite, error) {
	var lastErr error
	for attempt := 0; attempt < maxCodeRetries; attempt++ {
		code, err := generateInviteCode()
		if err != nil {
			return nil, fmt.Errorf("generate invite code: %w", err)
		}

		row := r.db.QueryRow(ctx,
			`INSERT INTO room_invites (room_id, inviter_id, code, max_uses, expires_at)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, room_id, inviter_id, code, max_uses, uses, expires_at, created_at`,
			roomID, inviterID, code, maxUses, expiresAt,
		)

		var inv Invite
		if err := row.Scan(&inv.ID, &inv.RoomID, &inv.InviterID, &inv.Code, &inv.MaxUses, &inv.Uses, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
			if postgres.IsUniqueViolation(err) {
				lastErr = err
				continue
			}
			if postgres.IsForeignKeyViolation(err) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("insert invite: %w", err)
		}
		return &inv, nil
	}
	return nil, fmt.Errorf("generate unique invite code after %d attempts: %w", maxCodeRetries, lastErr)
}

// ListInvites returns every invite issued for a room.
func (r *PGRepository) ListInvites(ctx context.Context, roomID uuid.UUID) ([]Invite, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, room_id, inviter_id, code, max_uses, uses, expires_at, created_at
		 FROM room_invites WHERE room_id = $1 ORDER BY created_at DESC`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("query invites: %w", err)
	}
	defer rows.Close()

	var invites []Invite
	for rows.Next() {
		var inv Invite
		if err := rows.Scan(&inv.ID, &inv.RoomID, &inv.InviterID, &inv.Code, &inv.MaxUses, &inv.Uses, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan invite: %w", err)
		}
		invites = append(invites, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invites: %w", err)
	}
	return invites, nil
}

// ConsumeInvite atomically increments an invite's use count and returns it, refusing exhausted or expired invites.
func (r *PGRepository) ConsumeInvite(ctx context.Context, code string) (*Invite, error) {
	var inv Invite
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT id, room_id, inviter_id, code, max_uses, uses, expires_at, created_at
			 FROM room_invites WHERE code = $1 FOR UPDATE`,
			code,
		)
		if err := row.Scan(&inv.ID, &inv.RoomID, &inv.InviterID, &inv.Code, &inv.MaxUses, &inv.Uses, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrInviteNotFound
			}
			return fmt.Errorf("select invite: %w", err)
		}
		if inv.ExpiresAt != nil && inv.ExpiresAt.Before(time.Now()) {
			return ErrInviteExpired
		}
		if inv.Uses >= inv.MaxUses {
			return ErrInviteExhausted
		}

		inv.Uses++
		if _, err := tx.Exec(ctx, "UPDATE room_invites SET uses = $2 WHERE id = $1", inv.ID, inv.Uses); err != nil {
			return fmt.Errorf("increment invite uses: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &inv, nil
}

// ListSubrooms returns every sub-room of a parent, ordered by name length and then name so ascending Name(k) scans
// find the lowest free-capacity sub-room first.
func (r *PGRepository) ListSubrooms(ctx context.Context, parentID uuid.UUID) ([]Room, error) {
	rows, err := r.db.Query(ctx,
		"SELECT "+roomColumns+" FROM rooms WHERE autoscale_parent_id = $1 ORDER BY length(name), name",
		parentID,
	)
	if err != nil {
		return nil, fmt.Errorf("query sub-rooms: %w", err)
	}
	defer rows.Close()

	var rooms []Room
	for rows.Next() {
		var room Room
		if err := scanRoomRow(rows, &room); err != nil {
			return nil, fmt.Errorf("scan sub-room: %w", err)
		}
		rooms = append(rooms, room)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sub-rooms: %w", err)
	}
	return rooms, nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRoomRow(row scannable, room *Room) error {
	var visibility string
	return row.Scan(
		&room.ID, &room.Name, &room.Category, &room.Subcategory, &visibility,
		&room.Flag18Plus, &room.FlagNSFW, &room.CreatorID,
		&room.Locked, &room.Readonly, &room.SlowmodeSeconds, &room.AutoscaleParentID,
		&room.CreatedAt, &room.UpdatedAt,
	)
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
