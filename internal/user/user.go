package user

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Sentinel errors for the user package.
var (
	ErrNotFound         = errors.New("user not found")
	ErrAlreadyExists    = errors.New("email or username already taken")
	ErrTombstoned       = errors.New("email or username was previously used by a deleted account")
	ErrUsernameLength   = errors.New("username must be between 3 and 32 characters")
	ErrLocked           = errors.New("account is locked")
	ErrRecoveryPINUnset = errors.New("no recovery PIN configured for this account")
)

// User holds the core identity fields read from the database. Password hash and the encrypted RSA private key blob
// are never embedded here; only Credentials carries them, so read paths cannot leak secrets at the type level.
type User struct {
	ID                     uuid.UUID
	Username               string
	Email                  string
	RSAPublicKey           string
	RoleSet                []string
	IsAdmin                bool
	LockoutCount           int
	LockedUntil            *time.Time
	LastLoginAt            *time.Time
	LastLoginIP            *string
	EmailVerified          bool
	RecoveryPINConfigured  bool
	CreatedAt              time.Time
}

// IsLocked reports whether the account is currently under a login lockout.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// Credentials extends User with the fields required to authenticate and to hand back the encrypted private key blob
// after a successful login. Only repository methods serving the authentication path return this type.
type Credentials struct {
	User
	PasswordHash           string
	RecoveryPINHash        *string
	RSAPrivateKeyEncrypted []byte
	// StepUpSecretEncrypted holds an AES-256-GCM-encrypted TOTP secret (auth.EncryptStepUpSecret), present only when
	// the account has enrolled a second step-up factor layered on top of the recovery PIN. Nil means step-up checks
	// rely on the PIN alone.
	StepUpSecretEncrypted *string
}

// CreateParams groups the inputs for creating a new user, including the client-generated keypair material: the
// server never generates or sees the plaintext private key, only stores the blob the client already encrypted.
type CreateParams struct {
	Username               string
	Email                  string
	PasswordHash           string
	RSAPublicKey           string
	RSAPrivateKeyEncrypted []byte
}

// TombstoneType identifies the kind of identifier stored in a deletion tombstone.
type TombstoneType string

const (
	TombstoneEmail    TombstoneType = "email"
	TombstoneUsername TombstoneType = "username"
)

// Tombstone represents an HMAC hash of an identifier that belonged to a deleted account, used to prevent
// re-registration with the same email or username.
type Tombstone struct {
	IdentifierType TombstoneType
	HMACHash       string
}

// NormalizeUsername trims surrounding whitespace. Case is preserved for display; comparisons are case-insensitive at
// the storage layer via a functional unique index.
func NormalizeUsername(username string) string {
	return strings.TrimSpace(username)
}

// ValidateUsername checks that a username is between 3 and 32 Unicode characters.
func ValidateUsername(username string) error {
	if n := utf8.RuneCountInString(username); n < 3 || n > 32 {
		return ErrUsernameLength
	}
	return nil
}

// Repository defines the data-access contract for user operations.
type Repository interface {
	Create(ctx context.Context, params CreateParams) (uuid.UUID, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByUsername(ctx context.Context, username string) (*Credentials, error)
	GetCredentialsByID(ctx context.Context, id uuid.UUID) (*Credentials, error)
	MarkEmailVerified(ctx context.Context, id uuid.UUID) error
	RecordLoginAttempt(ctx context.Context, email, ipAddress string, success bool) error
	RecordLoginSuccess(ctx context.Context, id uuid.UUID, ip string, at time.Time) error
	IncrementLockout(ctx context.Context, id uuid.UUID, lockUntil *time.Time) (int, error)
	Lock(ctx context.Context, id uuid.UUID, lockedUntil time.Time) error
	ClearLockout(ctx context.Context, id uuid.UUID) error
	UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error
	SetRecoveryPIN(ctx context.Context, userID uuid.UUID, hash string) error
	SetStepUpSecret(ctx context.Context, userID uuid.UUID, encryptedSecret *string) error
	DeleteWithTombstones(ctx context.Context, id uuid.UUID, tombstones []Tombstone) error
	CheckTombstone(ctx context.Context, identifierType TombstoneType, hmacHash string) (bool, error)
}
