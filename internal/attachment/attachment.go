// Package attachment models the EncryptedFileBlob entity (spec §3): opaque, server-unreadable ciphertext
// uploaded once and wrapped separately for each recipient who is allowed to decrypt it. The server never
// sees plaintext; it stores ciphertext bytes, a per-recipient wrapped data-encryption key, and the metadata
// needed to serve and garbage-collect the blob once no message references it any longer.
package attachment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
)

// mimeHintPolicy strips any markup a client might smuggle into the mime_hint field, which is echoed back verbatim in
// blob metadata responses.
var mimeHintPolicy = bluemonday.StrictPolicy()

// Sentinel errors for the attachment package.
var (
	ErrNotFound       = errors.New("file blob not found")
	ErrForbidden      = errors.New("caller is not the owner or an authorized recipient of this file blob")
	ErrInvalidScope   = errors.New("scope must be dm or group")
	ErrNoRecipients   = errors.New("file blob must be wrapped for at least one recipient")
	ErrAlreadyPinned  = errors.New("file blob is already referenced by a message")
	ErrMimeHintLength = errors.New("mime hint must be 255 characters or fewer")
)

// Scope distinguishes a direct-message file blob from a group one. The schema carries no scope_id: a blob's
// audience is entirely determined by the rows in blob_recipient_keys, so scope is descriptive metadata used
// to keep the dm_files and group_files HTTP surfaces from serving each other's blobs.
type Scope string

const (
	ScopeDM    Scope = "dm"
	ScopeGroup Scope = "group"
)

// MaxMimeHintLength bounds the client-supplied mime_hint field.
const MaxMimeHintLength = 255

// ValidateMimeHint sanitises and length-checks a client-supplied mime_hint, falling back to the generic octet-stream
// hint when left blank.
func ValidateMimeHint(hint string) (string, error) {
	trimmed := strings.TrimSpace(mimeHintPolicy.Sanitize(hint)) //nolint:misspell // bluemonday API uses American English spelling.
	if trimmed == "" {
		return "application/octet-stream", nil
	}
	if len(trimmed) > MaxMimeHintLength {
		return "", ErrMimeHintLength
	}
	return trimmed, nil
}

// RecipientKey is one recipient's wrapped copy of the blob's data-encryption key.
type RecipientKey struct {
	RecipientID uuid.UUID
	WrappedKey  string
}

// FileBlob holds the fields read from the database for one encrypted file blob. Ciphertext bytes themselves
// live in a StorageProvider (internal/media) under StorageKey, not in Postgres.
type FileBlob struct {
	ID         uuid.UUID
	OwnerID    uuid.UUID
	Scope      Scope
	IV         string
	SHA256     string
	StorageKey string
	SizeBytes  int64
	MimeHint   string
	RefCount   int
	CreatedAt  time.Time
}

// Pinned reports whether the blob is referenced by at least one message and therefore exempt from orphan GC.
func (b *FileBlob) Pinned() bool {
	return b.RefCount > 0
}

// CreateParams groups the inputs for inserting a new file blob plus its per-recipient wrapped-key rows. The
// blob is created unpinned (ref_count = 0); the uploader must call Pin once the message referencing it has
// actually been sent, or it is swept as an orphan.
type CreateParams struct {
	OwnerID       uuid.UUID
	Scope         Scope
	IV            string
	SHA256        string
	StorageKey    string
	SizeBytes     int64
	MimeHint      string
	RecipientKeys []RecipientKey
}

// Repository defines the data-access contract for the EncryptedFileBlob subsystem.
type Repository interface {
	// Create inserts a new file blob and its recipient wrapped-key rows in a single transaction.
	Create(ctx context.Context, params CreateParams) (*FileBlob, error)

	// GetByID returns a single file blob by ID, regardless of caller identity.
	GetByID(ctx context.Context, id uuid.UUID) (*FileBlob, error)

	// Authorize returns the blob if the caller is its owner or holds a wrapped recipient key for it, and the
	// blob's scope matches expectScope. Returns ErrNotFound if the blob doesn't exist or belongs to the other
	// scope's surface, ErrForbidden if the caller has no standing to read it.
	Authorize(ctx context.Context, id uuid.UUID, callerID uuid.UUID, expectScope Scope) (*FileBlob, error)

	// WrappedKeyFor returns the caller's wrapped data-encryption key for the blob, or ErrForbidden if the
	// caller is not a recipient (the owner does not necessarily hold a wrapped key of their own).
	WrappedKeyFor(ctx context.Context, blobID uuid.UUID, recipientID uuid.UUID) (string, error)

	// Pin marks the blob as referenced by a sent message, setting ref_count to at least 1. Idempotent. Only
	// the owner may pin their own upload. Returns ErrNotFound if the blob is missing or not owned by ownerID.
	Pin(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error

	// PurgeUnreferenced deletes blobs (and their recipient key rows, via cascade) that were never pinned and
	// are older than the given threshold, returning their storage keys so the caller can remove the ciphertext
	// bytes from the StorageProvider.
	PurgeUnreferenced(ctx context.Context, olderThan time.Time) ([]string, error)
}
