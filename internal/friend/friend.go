// Package friend implements the friend graph: requests, accepted friendships, and blocks, backing presence
// fan-out's friends-only visibility mode (spec §4.7).
package friend

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Status is a friend request's lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Sentinel errors for the friend package.
var (
	ErrRequestNotFound  = errors.New("friend request not found")
	ErrAlreadyPending   = errors.New("a pending friend request already exists between these users")
	ErrAlreadyFriends   = errors.New("users are already friends")
	ErrSelfRequest      = errors.New("cannot send a friend request to yourself")
	ErrBlocked          = errors.New("one of these users has blocked the other")
	ErrNotPending       = errors.New("friend request is not pending")
	ErrNotFriends       = errors.New("users are not friends")
)

// Request is a friend-request row.
type Request struct {
	ID           uuid.UUID
	RequesterID  uuid.UUID
	RecipientID  uuid.UUID
	Status       Status
	CreatedAt    time.Time
	RespondedAt  *time.Time
}

// Friendship is a confirmed bidirectional friend relationship, canonically stored with UserA < UserB.
type Friendship struct {
	UserA     uuid.UUID
	UserB     uuid.UUID
	CreatedAt time.Time
}

// Friend is a friendship pair projected to the viewer's counterpart, for listing.
type Friend struct {
	UserID    uuid.UUID
	Username  string
	Since     time.Time
}

// OrderPair returns (a, b) such that a < b, matching the friendships table's CHECK (user_a < user_b).
func OrderPair(x, y uuid.UUID) (uuid.UUID, uuid.UUID) {
	if x.String() < y.String() {
		return x, y
	}
	return y, x
}

// Repository defines the data-access contract for the friend graph.
type Repository interface {
	CreateRequest(ctx context.Context, requesterID, recipientID uuid.UUID) (*Request, error)
	GetPendingRequest(ctx context.Context, requesterID, recipientID uuid.UUID) (*Request, error)
	// Respond accepts or rejects a pending request. Accepting atomically inserts the friendship row.
	Respond(ctx context.Context, requestID uuid.UUID, accept bool) (*Request, error)
	ListIncomingRequests(ctx context.Context, recipientID uuid.UUID) ([]Request, error)

	AreFriends(ctx context.Context, a, b uuid.UUID) (bool, error)
	ListFriends(ctx context.Context, userID uuid.UUID) ([]Friend, error)
	RemoveFriend(ctx context.Context, a, b uuid.UUID) error

	Block(ctx context.Context, blockerID, blockedID uuid.UUID) error
	Unblock(ctx context.Context, blockerID, blockedID uuid.UUID) error
	IsBlocked(ctx context.Context, blockerID, blockedID uuid.UUID) (bool, error)
}
