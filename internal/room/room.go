// Package room implements the Room Policy Engine (spec §4.5): room membership, capacity, lock/read-only/slowmode
// policy, autoscaling overflow sub-rooms, invites, and the per-viewer can_send derivation.
package room

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// namePolicy strips any markup a client might smuggle into a room name before it is persisted and echoed back to
// other members' clients.
var namePolicy = bluemonday.StrictPolicy()

// Visibility identifies whether a room is publicly listed or invite-only.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

// Role identifies a member's standing within a room, the small enumerable RBAC set per spec §1.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// MaxSlowmodeSeconds bounds the slowmode_seconds policy field.
const MaxSlowmodeSeconds = 21600

// Sentinel errors for the room package.
var (
	ErrNotFound          = errors.New("room not found")
	ErrAlreadyExists     = errors.New("room name already taken")
	ErrNameLength        = errors.New("room name must be between 1 and 100 characters")
	ErrInvalidSlowmode   = errors.New("slowmode seconds must be between 0 and 21600")
	ErrAlreadyMember     = errors.New("user is already a member")
	ErrNotMember         = errors.New("user is not a member of this room")
	ErrInviteNotFound    = errors.New("invite not found")
	ErrInviteExhausted   = errors.New("invite has reached its maximum number of uses")
	ErrInviteExpired     = errors.New("invite has expired")
	ErrNoCapacity        = errors.New("no sub-room has free capacity")
)

// Room holds the fields read from the database.
type Room struct {
	ID                uuid.UUID
	Name              string
	Category          string
	Subcategory       string
	Visibility        Visibility
	Flag18Plus        bool
	FlagNSFW          bool
	CreatorID         uuid.UUID
	Locked            bool
	Readonly          bool
	SlowmodeSeconds   int
	AutoscaleParentID *uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// CreateParams groups the inputs for creating a new room.
type CreateParams struct {
	Name              string
	Category          string
	Subcategory       string
	Visibility        Visibility
	Flag18Plus        bool
	FlagNSFW          bool
	CreatorID         uuid.UUID
	AutoscaleParentID *uuid.UUID
}

// PolicyUpdate groups the optional policy fields an owner/moderator can mutate. A nil field means "no change."
type PolicyUpdate struct {
	Locked          *bool
	Readonly        *bool
	SlowmodeSeconds *int
}

// Membership is one (room, user) row.
type Membership struct {
	RoomID   uuid.UUID
	UserID   uuid.UUID
	Username string
	Role     Role
	JoinedAt time.Time
}

// Invite is a single-use room invitation.
type Invite struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	InviterID uuid.UUID
	Code      string
	MaxUses   int
	Uses      int
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// ValidateName trims and length-checks a room name (1-100 runes).
func ValidateName(name string) (string, error) {
	trimmed := strings.TrimSpace(namePolicy.Sanitize(name)) //nolint:misspell // bluemonday API uses American English spelling.
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > 100 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// ValidateSlowmode checks that slowmode seconds falls within [0, MaxSlowmodeSeconds].
func ValidateSlowmode(seconds int) error {
	if seconds < 0 || seconds > MaxSlowmodeSeconds {
		return ErrInvalidSlowmode
	}
	return nil
}

// SubroomName returns the autoscaled overflow name for the k-th sub-room of a parent room (k≥2), per the
// glossary's "Sub-room: Name(k)" convention.
func SubroomName(parent string, k int) string {
	return parent + "(" + itoa(k) + ")"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// CanSend derives whether a member with the given role may post, and if not, why. Moderators and owners always
// bypass locked/readonly; slowmode applies to everyone including moderators/owners, since it throttles pace rather
// than gating access.
func CanSend(r *Room, role Role) (ok bool, blockReason string) {
	isPrivileged := role == RoleOwner || role == RoleModerator
	if r.Locked && !isPrivileged {
		return false, "locked"
	}
	if r.Readonly && !isPrivileged {
		return false, "read_only"
	}
	return true, ""
}

// Repository defines the data-access contract for the Room Policy Engine.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Room, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Room, error)
	GetByName(ctx context.Context, name string) (*Room, error)
	List(ctx context.Context) ([]Room, error)
	UpdatePolicy(ctx context.Context, id uuid.UUID, update PolicyUpdate) (*Room, error)

	AddMember(ctx context.Context, roomID, userID uuid.UUID, role Role) error
	RemoveMember(ctx context.Context, roomID, userID uuid.UUID) error
	GetMembership(ctx context.Context, roomID, userID uuid.UUID) (*Membership, error)
	ListMembers(ctx context.Context, roomID uuid.UUID) ([]Membership, error)
	MemberCount(ctx context.Context, roomID uuid.UUID) (int, error)

	CreateInvite(ctx context.Context, roomID, inviterID uuid.UUID, maxUses int, expiresAt *time.Time) (*Invite, error)
	ListInvites(ctx context.Context, roomID uuid.UUID) ([]Invite, error)
	ConsumeInvite(ctx context.Context, code string) (*Invite, error)

	// ListSubrooms returns every sub-room of the given parent room, in ascending Name(k) order, for autoscaling
	// capacity scans.
	ListSubrooms(ctx context.Context, parentID uuid.UUID) ([]Room, error)
}
