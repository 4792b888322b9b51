// Package relay implements the Ciphertext Relay (spec §4.3): direct, room, and group message routing, offline
// message spooling, and reaction bookkeeping. The server never inspects cipher content; it only sequences, stores,
// and fans out whichever of content/cipher the caller supplied.
package relay

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the relay package.
var (
	ErrNotFound       = errors.New("message not found")
	ErrEmptyContent   = errors.New("message content must not be empty")
	ErrContentTooLong = errors.New("message content exceeds the maximum length")
	ErrInvalidEmoji   = errors.New("emoji is not in the allowed reaction set")
)

// Scope identifies the addressing space a stored message belongs to.
type Scope string

const (
	ScopeRoom  Scope = "room"
	ScopeGroup Scope = "group"
)

// AllowedReactions is the small, enumerable emoji set §4.3 requires reactions to belong to.
var AllowedReactions = map[string]bool{
	"👍": true,
	"❤️": true,
	"😂": true,
	"😮": true,
	"😢": true,
	"🔥": true,
}

// ValidateEmoji reports ErrInvalidEmoji if the emoji is not in AllowedReactions.
func ValidateEmoji(emoji string) error {
	if !AllowedReactions[emoji] {
		return ErrInvalidEmoji
	}
	return nil
}

// Message holds a stored room or group message, including joined author information.
type Message struct {
	ID             uuid.UUID
	Scope          Scope
	ScopeID        string
	AuthorID       uuid.UUID
	AuthorUsername string
	Content        *string
	Cipher         *string
	CreatedAt      time.Time
}

// CreateParams groups the inputs for persisting a new room or group message. Exactly one of Content/Cipher must be
// set, matching §4.3's "exactly one of message or cipher is present".
type CreateParams struct {
	Scope    Scope
	ScopeID  string
	AuthorID uuid.UUID
	Content  *string
	Cipher   *string
}

// OfflineMessage is a spooled direct message awaiting first successful drain (§3 OfflineMessage).
type OfflineMessage struct {
	ID          uuid.UUID
	RecipientID uuid.UUID
	SenderID    uuid.UUID
	Cipher      string
	CreatedAt   time.Time
}

// SenderCount is one row of a missed-PM summary: how many spooled messages a given sender has waiting.
type SenderCount struct {
	SenderID uuid.UUID
	Count    int
}

// ValidateContent trims and length-checks a plaintext message body. Never applied to cipher strings, which the
// server treats as opaque.
func ValidateContent(content string, maxLength int) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(trimmed) > maxLength {
		return "", ErrContentTooLong
	}
	return trimmed, nil
}

// ClampLimit constrains a requested history page size to [1, maxLimit], defaulting to defaultLimit when the request
// is zero or negative. defaultLimit/maxLimit come from config (ROOM_HISTORY_DEFAULT_LIMIT/ROOM_HISTORY_MAX_LIMIT).
func ClampLimit(limit, defaultLimit, maxLimit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Repository defines the data-access contract for the Ciphertext Relay.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (*Message, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Message, error)
	// List returns messages in (scope, scopeID) ordered newest-first. When before is non-nil, only strictly-older
	// messages are returned (cursor pagination per §4.3 History).
	List(ctx context.Context, scope Scope, scopeID string, before *uuid.UUID, limit int) ([]Message, error)

	EnqueueOffline(ctx context.Context, recipientID, senderID uuid.UUID, cipher string) error
	// DrainOffline returns spooled messages from senderID to recipientID in ascending timestamp order. When peek is
	// false, the returned rows are marked delivered atomically with the read and are not returned again (§4.3 Offline
	// drain, §8 Offline drain exactness).
	DrainOffline(ctx context.Context, recipientID, senderID uuid.UUID, peek bool) ([]OfflineMessage, error)
	MissedSummary(ctx context.Context, recipientID uuid.UUID) ([]SenderCount, error)

	// React inserts a reaction if (messageID, userID) has none yet. Returns accepted=false without error when one
	// already exists (§4.3/§8 Reaction finality) — the caller maps that to apierrors.ReactionFinal.
	React(ctx context.Context, messageID, userID uuid.UUID, emoji string) (accepted bool, err error)
	ReactionCounts(ctx context.Context, messageID uuid.UUID) (map[string]int, error)
}
