// Package session models the AuthSession and AuthToken entities that back the Session & Token Authority's durable
// lineage trail. The fast path for refresh rotation and revocation lives in Valkey (internal/auth); this package is
// the Postgres-backed audit record so that token lineage remains inspectable after Valkey keys expire.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for the session package.
var (
	ErrNotFound    = errors.New("session not found")
	ErrTerminated  = errors.New("session has been terminated")
)

// TerminationReason records why an AuthSession ended.
type TerminationReason string

const (
	TerminationLogout        TerminationReason = "logout"
	TerminationLogoutAll     TerminationReason = "logout_all"
	TerminationAdminAction   TerminationReason = "admin_action"
	TerminationPasswordReset TerminationReason = "password_reset"
	TerminationIdleTimeout   TerminationReason = "idle_timeout"
)

// Session is a durable record of one authenticated client binding.
type Session struct {
	ID                   uuid.UUID
	UserID               uuid.UUID
	CreatedAt            time.Time
	LastActivityAt       time.Time
	TerminatedAt         *time.Time
	TerminationReason    *TerminationReason
	UserAgentFingerprint string
}

// Active reports whether the session has not been terminated.
func (s *Session) Active() bool {
	return s.TerminatedAt == nil
}

// TokenKind distinguishes access tokens from refresh tokens in the lineage trail.
type TokenKind string

const (
	TokenAccess  TokenKind = "access"
	TokenRefresh TokenKind = "refresh"
)

// Token is one entry in the auth_tokens lineage audit trail.
type Token struct {
	JTI       uuid.UUID
	SessionID uuid.UUID
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
	ParentJTI *uuid.UUID
}

// Repository defines the data-access contract for sessions and their token lineage.
type Repository interface {
	Create(ctx context.Context, userID uuid.UUID, fingerprint string) (*Session, error)
	Get(ctx context.Context, id uuid.UUID) (*Session, error)
	RecordActivity(ctx context.Context, id uuid.UUID, at time.Time) error
	Terminate(ctx context.Context, id uuid.UUID, reason TerminationReason, at time.Time) error
	TerminateAllForUser(ctx context.Context, userID uuid.UUID, reason TerminationReason, at time.Time) ([]uuid.UUID, error)
	IdleSince(ctx context.Context, cutoff time.Time) ([]Session, error)
	RecordToken(ctx context.Context, t Token) error
	RevokeToken(ctx context.Context, jti uuid.UUID) error
}
