package realm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = "id, name, description, owner_id, global_announcement, created_at, updated_at"

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed realm config repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Get returns the realm configuration row.
func (r *PGRepository) Get(ctx context.Context) (*Config, error) {
	row := r.db.QueryRow(ctx, "SELECT "+selectColumns+" FROM realm_config ORDER BY created_at LIMIT 1")
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query realm config: %w", err)
	}
	return cfg, nil
}

// Update applies the non-nil fields in params to the realm config row and returns the updated config.
func (r *PGRepository) Update(ctx context.Context, params UpdateParams) (*Config, error) {
	var setClauses []string
	namedArgs := pgx.NamedArgs{}

	if params.Name != nil {
		setClauses = append(setClauses, "name = @name")
		namedArgs["name"] = *params.Name
	}
	if params.Description != nil {
		setClauses = append(setClauses, "description = @description")
		namedArgs["description"] = *params.Description
	}
	if params.GlobalAnnouncement != nil {
		setClauses = append(setClauses, "global_announcement = @global_announcement")
		namedArgs["global_announcement"] = *params.GlobalAnnouncement
	}

	// No fields to update. Return the current row without issuing an UPDATE, since the UPDATE below sets updated_at to
	// now(). A no-op PATCH leaves the modification timestamp unchanged.
	if len(setClauses) == 0 {
		return r.Get(ctx)
	}

	setClauses = append(setClauses, "updated_at = now()")
	query := "UPDATE realm_config SET " + strings.Join(setClauses, ", ") + " RETURNING " + selectColumns

	row := r.db.QueryRow(ctx, query, namedArgs)
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update realm config: %w", err)
	}
	return cfg, nil
}

// Seed inserts the initial realm row on first run, owned by the first-run admin. It is a no-op (returning the
// existing row) if a realm config row already exists.
func (r *PGRepository) Seed(ctx context.Context, name string, ownerID uuid.UUID) (*Config, error) {
	existing, err := r.Get(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO realm_config (name, owner_id) VALUES ($1, $2) RETURNING `+selectColumns,
		name, ownerID,
	)
	cfg, scanErr := scanConfig(row)
	if scanErr != nil {
		return nil, fmt.Errorf("seed realm config: %w", scanErr)
	}
	return cfg, nil
}

func scanConfig(row pgx.Row) (*Config, error) {
	var cfg Config
	err := row.Scan(
		&cfg.ID, &cfg.Name, &cfg.Description, &cfg.OwnerID, &cfg.GlobalAnnouncement,
		&cfg.CreatedAt, &cfg.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan realm config: %w", err)
	}
	return &cfg, nil
}
