package attachment

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

const selectColumns = `id, owner_id, scope, iv, sha256, storage_key, size_bytes, mime_hint, ref_count, created_at`

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed file blob repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Create inserts a new file blob and its recipient wrapped-key rows in one transaction.
func (r *PGRepository) Create(ctx context.Context, params CreateParams) (*FileBlob, error) {
	if params.Scope != ScopeDM && params.Scope != ScopeGroup {
		return nil, ErrInvalidScope
	}
	if len(params.RecipientKeys) == 0 {
		return nil, ErrNoRecipients
	}

	var blob *FileBlob
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`INSERT INTO encrypted_file_blobs (owner_id, scope, iv, sha256, storage_key, size_bytes, mime_hint)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING `+selectColumns,
			params.OwnerID, params.Scope, params.IV, params.SHA256, params.StorageKey, params.SizeBytes, params.MimeHint,
		)
		b, err := scanFileBlob(row)
		if err != nil {
			return fmt.Errorf("insert file blob: %w", err)
		}

		batch := make([][]any, len(params.RecipientKeys))
		for i, rk := range params.RecipientKeys {
			batch[i] = []any{b.ID, rk.RecipientID, rk.WrappedKey}
		}
		for _, args := range batch {
			if _, err := tx.Exec(ctx,
				`INSERT INTO blob_recipient_keys (blob_id, recipient_id, wrapped_key) VALUES ($1, $2, $3)`,
				args...,
			); err != nil {
				return fmt.Errorf("insert recipient key: %w", err)
			}
		}

		blob = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return blob, nil
}

// GetByID returns a single file blob by ID.
func (r *PGRepository) GetByID(ctx context.Context, id uuid.UUID) (*FileBlob, error) {
	row := r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM encrypted_file_blobs WHERE id = $1", id)
	b, err := scanFileBlob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query file blob by id: %w", err)
	}
	return b, nil
}

// Authorize returns the blob if the caller is its owner or holds a wrapped recipient key for it and the
// blob's scope matches expectScope.
func (r *PGRepository) Authorize(ctx context.Context, id uuid.UUID, callerID uuid.UUID, expectScope Scope) (*FileBlob, error) {
	b, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Scope != expectScope {
		return nil, ErrNotFound
	}
	if b.OwnerID == callerID {
		return b, nil
	}

	var exists bool
	err = r.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM blob_recipient_keys WHERE blob_id = $1 AND recipient_id = $2)`,
		id, callerID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check recipient standing: %w", err)
	}
	if !exists {
		return nil, ErrForbidden
	}
	return b, nil
}

// WrappedKeyFor returns the caller's wrapped data-encryption key for the blob.
func (r *PGRepository) WrappedKeyFor(ctx context.Context, blobID uuid.UUID, recipientID uuid.UUID) (string, error) {
	var wrappedKey string
	err := r.db.QueryRow(ctx,
		`SELECT wrapped_key FROM blob_recipient_keys WHERE blob_id = $1 AND recipient_id = $2`,
		blobID, recipientID,
	).Scan(&wrappedKey)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrForbidden
		}
		return "", fmt.Errorf("query wrapped key: %w", err)
	}
	return wrappedKey, nil
}

// Pin marks the blob as referenced by a sent message, setting ref_count to at least 1. Idempotent.
func (r *PGRepository) Pin(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE encrypted_file_blobs SET ref_count = GREATEST(ref_count, 1) WHERE id = $1 AND owner_id = $2`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("pin file blob: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// PurgeUnreferenced deletes blobs that were never pinned and are older than the given threshold, returning
// their storage keys for ciphertext cleanup.
func (r *PGRepository) PurgeUnreferenced(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`DELETE FROM encrypted_file_blobs WHERE ref_count = 0 AND created_at < $1 RETURNING storage_key`,
		olderThan,
	)
	if err != nil {
		return nil, fmt.Errorf("purge unreferenced file blobs: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var storageKey string
		if err := rows.Scan(&storageKey); err != nil {
			return nil, fmt.Errorf("scan purged storage key: %w", err)
		}
		keys = append(keys, storageKey)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate purged storage keys: %w", err)
	}
	return keys, nil
}

func scanFileBlob(row pgx.Row) (*FileBlob, error) {
	var b FileBlob
	err := row.Scan(
		&b.ID, &b.OwnerID, &b.Scope, &b.IV, &b.SHA256, &b.StorageKey, &b.SizeBytes, &b.MimeHint, &b.RefCount, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}
