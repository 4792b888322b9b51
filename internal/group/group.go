// Package group implements small multi-user group chats (SPEC_FULL.md's Group chat supplement): bigint-keyed
// groups with the same owner/moderator/member role set as room.Role, invited membership only (no public listing or
// join codes), and the same Ciphertext Relay scope that rooms use for message storage.
package group

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// displayNamePolicy strips any markup a client might smuggle into a group's display name.
var displayNamePolicy = bluemonday.StrictPolicy()

// Role mirrors room.Role; kept as a distinct type since group and room membership are different domain concepts
// that happen to share a vocabulary, not the same concept reused.
type Role string

const (
	RoleOwner     Role = "owner"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

// Sentinel errors for the group package.
var (
	ErrNotFound        = errors.New("group not found")
	ErrNameLength      = errors.New("group display name must be between 1 and 100 characters")
	ErrAlreadyMember   = errors.New("user is already a member")
	ErrNotMember       = errors.New("user is not a member of this group")
	ErrInviteNotFound  = errors.New("invite not found")
	ErrInviteNotForYou = errors.New("invite is addressed to a different user")
)

// Group is a multi-user chat with no public visibility; membership is invite-only.
type Group struct {
	ID          int64
	DisplayName string
	OwnerID     uuid.UUID
	CreatedAt   time.Time
}

// Membership is one (group, user) row.
type Membership struct {
	GroupID  int64
	UserID   uuid.UUID
	Username string
	Role     Role
	JoinedAt time.Time
}

// Invite is a targeted (or open, if InviteeID is nil) group invitation. Unlike room.Invite, group invites carry no
// max-uses/expiry: they are consumed exactly once by the named invitee, or by anyone if InviteeID is nil.
type Invite struct {
	ID        uuid.UUID
	GroupID   int64
	InviterID uuid.UUID
	InviteeID *uuid.UUID
	Code      string
	CreatedAt time.Time
}

// ValidateDisplayName trims and length-checks a group's display name.
func ValidateDisplayName(name string) (string, error) {
	trimmed := strings.TrimSpace(displayNamePolicy.Sanitize(name)) //nolint:misspell // bluemonday API uses American English spelling.
	if n := utf8.RuneCountInString(trimmed); n < 1 || n > 100 {
		return "", ErrNameLength
	}
	return trimmed, nil
}

// Repository defines the data-access contract for group chat.
type Repository interface {
	Create(ctx context.Context, displayName string, ownerID uuid.UUID) (*Group, error)
	GetByID(ctx context.Context, id int64) (*Group, error)
	ListForUser(ctx context.Context, userID uuid.UUID) ([]Group, error)

	AddMember(ctx context.Context, groupID int64, userID uuid.UUID, role Role) error
	RemoveMember(ctx context.Context, groupID int64, userID uuid.UUID) error
	GetMembership(ctx context.Context, groupID int64, userID uuid.UUID) (*Membership, error)
	ListMembers(ctx context.Context, groupID int64) ([]Membership, error)

	CreateInvite(ctx context.Context, groupID int64, inviterID uuid.UUID, inviteeID *uuid.UUID) (*Invite, error)
	// ConsumeInvite deletes the invite row atomically with returning it, so double-redemption races lose. If the
	// invite is addressed to a specific invitee, redeemerID must match or ErrInviteNotForYou is returned.
	ConsumeInvite(ctx context.Context, code string, redeemerID uuid.UUID) (*Invite, error)
}
