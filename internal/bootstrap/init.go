// Package bootstrap seeds the first-run owner account and realm configuration. It is invoked once by cmd/echochat when
// the users table is empty.
package bootstrap

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/auth"
	"github.com/echochat/echochat-server/internal/config"
	"github.com/echochat/echochat-server/internal/realm"
	"github.com/echochat/echochat-server/internal/user"
)

var sanitizeUsername = func(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
		return r
	default:
		return -1
	}
}

// IsFirstRun returns true when the users table has no rows.
func IsFirstRun(ctx context.Context, db *pgxpool.Pool) (bool, error) {
	var count int
	if err := db.QueryRow(ctx, "SELECT COUNT(*) FROM users").Scan(&count); err != nil {
		return false, fmt.Errorf("check first run: %w", err)
	}
	return count == 0, nil
}

// RunFirstInit creates the owner account and seeds the realm configuration. The owner's RSA key material is supplied
// via config, not generated here: the owner runs the same client-side keygen flow as any other registrant and the
// operator pastes the resulting public key and encrypted private key blob into the environment before first start.
func RunFirstInit(ctx context.Context, db *pgxpool.Pool, cfg *config.Config, logger zerolog.Logger) error {
	if cfg.InitOwnerEmail == "" || cfg.InitOwnerPassword == "" {
		return fmt.Errorf("INIT_OWNER_EMAIL and INIT_OWNER_PASSWORD must be set for first-run initialization")
	}
	if cfg.InitOwnerRSAPublicKey == "" || cfg.InitOwnerRSAPrivateKeyEncrypted == "" {
		return fmt.Errorf("INIT_OWNER_RSA_PUBLIC_KEY and INIT_OWNER_RSA_PRIVATE_KEY_ENCRYPTED must be set for first-run initialization")
	}

	ownerEmail, _, err := auth.ValidateEmail(cfg.InitOwnerEmail)
	if err != nil {
		return fmt.Errorf("invalid INIT_OWNER_EMAIL: %w", err)
	}
	if err := auth.ValidatePassword(cfg.InitOwnerPassword); err != nil {
		return fmt.Errorf("invalid INIT_OWNER_PASSWORD: %w", err)
	}

	privateKeyBlob, err := base64.StdEncoding.DecodeString(cfg.InitOwnerRSAPrivateKeyEncrypted)
	if err != nil {
		return fmt.Errorf("INIT_OWNER_RSA_PRIVATE_KEY_ENCRYPTED must be base64-encoded: %w", err)
	}

	hash, err := auth.HashPassword(
		cfg.InitOwnerPassword,
		cfg.Argon2Memory,
		cfg.Argon2Iterations,
		cfg.Argon2Parallelism,
		cfg.Argon2SaltLength,
		cfg.Argon2KeyLength,
	)
	if err != nil {
		return fmt.Errorf("hash owner password: %w", err)
	}

	username := deriveUsername(ownerEmail)
	if err := user.ValidateUsername(username); err != nil {
		return fmt.Errorf("derived owner username %q from email is invalid: %w", username, err)
	}

	userRepo := user.NewPGRepository(db, logger)
	realmRepo := realm.NewPGRepository(db, logger)

	ownerID, err := userRepo.Create(ctx, user.CreateParams{
		Username:               username,
		Email:                  ownerEmail,
		PasswordHash:           hash,
		RSAPublicKey:           cfg.InitOwnerRSAPublicKey,
		RSAPrivateKeyEncrypted: privateKeyBlob,
	})
	if err != nil {
		return fmt.Errorf("create owner account: %w", err)
	}

	if _, err := db.Exec(ctx,
		`UPDATE users SET is_admin = true, email_verified = true WHERE id = $1`, ownerID,
	); err != nil {
		return fmt.Errorf("promote owner account: %w", err)
	}

	if _, err := realmRepo.Seed(ctx, cfg.ServerName, ownerID); err != nil {
		return fmt.Errorf("seed realm config: %w", err)
	}

	logger.Info().Str("owner_username", username).Msg("first-run initialization complete")
	return nil
}

// deriveUsername derives a candidate username from the local part of an email address, stripping characters the
// username charset does not allow.
func deriveUsername(email string) string {
	local := email
	if idx := strings.Index(local, "@"); idx > 0 {
		local = local[:idx]
	}
	return strings.Map(sanitizeUsername, local)
}
