package user

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/postgres"
)

// selectColumns lists the columns returned by queries that produce a *User. Every method that scans into a User must
// select these columns in this exact order.
const selectColumns = `id, username, email, rsa_public_key, role_set, is_admin, lockout_count, locked_until,
	last_login_at, last_login_ip, email_verified, (recovery_pin_hash IS NOT NULL), created_at`

// selectCredentialsColumns lists the columns returned by queries that produce a *Credentials. The order must match
// scanCredentials.
const selectCredentialsColumns = `id, username, email, rsa_public_key, role_set, is_admin, lockout_count, locked_until,
	last_login_at, last_login_ip, email_verified, (recovery_pin_hash IS NOT NULL), created_at,
	password_hash, recovery_pin_hash, rsa_private_key_encrypted, step_up_secret_encrypted`

// scanUser scans a single row into a *User. The row must contain the columns listed in selectColumns.
func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.RSAPublicKey, &u.RoleSet, &u.IsAdmin, &u.LockoutCount, &u.LockedUntil,
		&u.LastLoginAt, &u.LastLoginIP, &u.EmailVerified, &u.RecoveryPINConfigured, &u.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// scanCredentials scans a single row into a *Credentials. The row must contain the columns listed in
// selectCredentialsColumns.
func scanCredentials(row pgx.Row) (*Credentials, error) {
	var c Credentials
	err := row.Scan(
		&c.ID, &c.Username, &c.Email, &c.RSAPublicKey, &c.RoleSet, &c.IsAdmin, &c.LockoutCount, &c.LockedUntil,
		&c.LastLoginAt, &c.LastLoginIP, &c.EmailVerified, &c.RecoveryPINConfigured, &c.CreatedAt,
		&c.PasswordHash, &c.RecoveryPINHash, &c.RSAPrivateKeyEncrypted, &c.StepUpSecretEncrypted,
	)
	if err != nil {
		return nil, fmt.Errorf("scan credentials: %w", err)
	}
	return &c, nil
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed user repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new user with its client-supplied public key and encrypted private key blob.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (uuid.UUID, error) {
	var userID uuid.UUID
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (username, email, password_hash, rsa_public_key, rsa_private_key_encrypted)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		params.Username, params.Email, params.PasswordHash, params.RSAPublicKey, params.RSAPrivateKeyEncrypted,
	).Scan(&userID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return uuid.Nil, ErrAlreadyExists
		}
		return uuid.Nil, fmt.Errorf("insert user: %w", err)
	}
	return userID, nil
}

// GetByID returns the user matching the given ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*User, error) {
	u, err := scanUser(r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by id: %w", err)
	}
	return u, nil
}

// GetByUsername returns the user with credentials matching the given username, compared case-insensitively. This
// serves the login path.
func (r *PGRepository) GetByUsername(ctx context.Context, username string) (*Credentials, error) {
	c, err := scanCredentials(r.db.QueryRow(ctx,
		`SELECT `+selectCredentialsColumns+` FROM users WHERE lower(username) = lower($1)`, username))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query user by username: %w", err)
	}
	return c, nil
}

// GetCredentialsByID returns the user with credentials matching the given ID.
func (r *PGRepository) GetCredentialsByID(ctx context.Context, id uuid.UUID) (*Credentials, error) {
	c, err := scanCredentials(r.db.QueryRow(ctx,
		`SELECT `+selectCredentialsColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query credentials by id: %w", err)
	}
	return c, nil
}

// MarkEmailVerified flips the email_verified flag for the given user.
func (r *PGRepository) MarkEmailVerified(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET email_verified = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark email verified: %w", err)
	}
	return nil
}

// RecordLoginAttempt writes an entry to the login_attempts audit table. Lockout decisions do not read this table; they
// use the per-user counter updated by IncrementLockout.
func (r *PGRepository) RecordLoginAttempt(ctx context.Context, email, ipAddress string, success bool) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO login_attempts (email, ip_address, success) VALUES ($1, $2, $3)`,
		email, ipAddress, success,
	)
	if err != nil {
		return fmt.Errorf("record login attempt: %w", err)
	}
	return nil
}

// RecordLoginSuccess stamps last_login_at/last_login_ip and clears any lockout state.
func (r *PGRepository) RecordLoginSuccess(ctx context.Context, id uuid.UUID, ip string, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE users SET last_login_at = $1, last_login_ip = $2, lockout_count = 0, locked_until = NULL WHERE id = $3`,
		at, ip, id,
	)
	if err != nil {
		return fmt.Errorf("record login success: %w", err)
	}
	return nil
}

// IncrementLockout bumps the lockout counter and, when lockUntil is non-nil, sets the lockout expiry. Returns the new
// counter value so the caller can decide whether the threshold was crossed.
func (r *PGRepository) IncrementLockout(ctx context.Context, id uuid.UUID, lockUntil *time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`UPDATE users SET lockout_count = lockout_count + 1, locked_until = COALESCE($1, locked_until)
		 WHERE id = $2 RETURNING lockout_count`,
		lockUntil, id,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("increment lockout: %w", err)
	}
	return count, nil
}

// Lock sets the lockout expiry and resets the attempt counter to zero in a single update, used once the Session &
// Token Authority detects that the attempt threshold has been crossed.
func (r *PGRepository) Lock(ctx context.Context, id uuid.UUID, lockedUntil time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET lockout_count = 0, locked_until = $1 WHERE id = $2`, lockedUntil, id)
	if err != nil {
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}

// ClearLockout resets the lockout counter and expiry.
func (r *PGRepository) ClearLockout(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET lockout_count = 0, locked_until = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("clear lockout: %w", err)
	}
	return nil
}

// UpdatePasswordHash updates the stored password hash for a user, used for lazy hash rotation when Argon2 parameters
// change.
func (r *PGRepository) UpdatePasswordHash(ctx context.Context, userID uuid.UUID, hash string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET password_hash = $1 WHERE id = $2`, hash, userID)
	if err != nil {
		return fmt.Errorf("update password hash: %w", err)
	}
	return nil
}

// SetRecoveryPIN stores a new recovery PIN verifier hash, overwriting any previous one.
func (r *PGRepository) SetRecoveryPIN(ctx context.Context, userID uuid.UUID, hash string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET recovery_pin_hash = $1 WHERE id = $2`, hash, userID)
	if err != nil {
		return fmt.Errorf("set recovery pin: %w", err)
	}
	return nil
}

// SetStepUpSecret stores (or, with a nil encryptedSecret, clears) the account's encrypted step-up TOTP secret.
func (r *PGRepository) SetStepUpSecret(ctx context.Context, userID uuid.UUID, encryptedSecret *string) error {
	_, err := r.db.Exec(ctx, `UPDATE users SET step_up_secret_encrypted = $1 WHERE id = $2`, encryptedSecret, userID)
	if err != nil {
		return fmt.Errorf("set step-up secret: %w", err)
	}
	return nil
}

// DeleteWithTombstones inserts deletion tombstones and deletes the user in a single transaction. Tombstone inserts use
// ON CONFLICT DO NOTHING so that re-deleting a restored account (or overlapping identifiers) is idempotent.
func (r *PGRepository) DeleteWithTombstones(ctx context.Context, id uuid.UUID, tombstones []Tombstone) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, t := range tombstones {
			_, err := tx.Exec(ctx,
				`INSERT INTO user_tombstones (identifier_type, hmac_hash)
				 VALUES ($1, $2)
				 ON CONFLICT (identifier_type, hmac_hash) DO NOTHING`,
				string(t.IdentifierType), t.HMACHash,
			)
			if err != nil {
				return fmt.Errorf("insert tombstone: %w", err)
			}
		}

		tag, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		return nil
	})
}

// CheckTombstone returns true if a deletion tombstone exists for the given identifier type and HMAC hash.
func (r *PGRepository) CheckTombstone(ctx context.Context, identifierType TombstoneType, hmacHash string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM user_tombstones WHERE identifier_type = $1 AND hmac_hash = $2)`,
		string(identifierType), hmacHash,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check tombstone: %w", err)
	}
	return exists, nil
}

// purgeBatchSize is the maximum number of rows deleted per batch to avoid long-running transactions.
const purgeBatchSize = 1000

// PurgeLoginAttempts deletes login attempt rows older than the given cutoff in batches.
func (r *PGRepository) PurgeLoginAttempts(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `DELETE FROM login_attempts WHERE ctid IN (SELECT ctid FROM login_attempts WHERE created_at < $1 LIMIT 1000)`
	if r.db == nil {
		return 0, errors.New("purge login attempts: no database pool")
	}

	var total int64
	for {
		tag, err := r.db.Exec(ctx, query, olderThan)
		if err != nil {
			return total, fmt.Errorf("purge login attempts: %w", err)
		}
		affected := tag.RowsAffected()
		total += affected
		if affected < purgeBatchSize {
			break
		}
	}
	return total, nil
}

// PurgeTombstones deletes deletion tombstone rows older than the given cutoff in batches.
func (r *PGRepository) PurgeTombstones(ctx context.Context, olderThan time.Time) (int64, error) {
	const query = `DELETE FROM user_tombstones WHERE ctid IN (SELECT ctid FROM user_tombstones WHERE created_at < $1 LIMIT 1000)`
	if r.db == nil {
		return 0, errors.New("purge tombstones: no database pool")
	}

	var total int64
	for {
		tag, err := r.db.Exec(ctx, query, olderThan)
		if err != nil {
			return total, fmt.Errorf("purge tombstones: %w", err)
		}
		affected := tag.RowsAffected()
		total += affected
		if affected < purgeBatchSize {
			break
		}
	}
	return total, nil
}
