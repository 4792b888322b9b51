package auth

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"
)

// HashRecoveryPIN hashes a recovery PIN using the same Argon2id parameters as passwords.
func HashRecoveryPIN(pin string, memory, iterations uint32, parallelism uint8, saltLen, keyLen uint32) (string, error) {
	return HashPassword(pin, memory, iterations, parallelism, saltLen, keyLen)
}

// VerifyRecoveryPIN checks whether a plaintext recovery PIN matches the given Argon2id hash.
func VerifyRecoveryPIN(pin, hash string) (bool, error) {
	return VerifyPassword(pin, hash)
}

// EncryptStepUpSecret encrypts a step-up TOTP secret using AES-256-GCM. The hexKey must be exactly 64 hex characters
// (32 bytes). The returned string is base64(nonce || ciphertext || tag).
func EncryptStepUpSecret(secret, hexKey string) (string, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("decode encryption key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	_, _ = rand.Read(nonce)

	ciphertext := gcm.Seal(nonce, nonce, []byte(secret), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptStepUpSecret decrypts a step-up secret that was encrypted by EncryptStepUpSecret.
func DecryptStepUpSecret(encoded, hexKey string) (string, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return "", fmt.Errorf("decode encryption key: %w", err)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create GCM: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// GenerateStepUpSecret issues a fresh TOTP secret for the optional step-up second factor. The key's otpauth URL
// (which carries the secret) is returned to the user once at enrollment; afterwards the user supplies the current
// authenticator code alongside the recovery PIN when requesting a step-up ticket.
func GenerateStepUpSecret(issuer, accountName string) (*totp.Key, error) {
	return totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountName,
		Period:      30,
		Digits:      6,
	})
}

// ValidateStepUpCode checks a 6-digit step-up code against the decrypted TOTP secret.
func ValidateStepUpCode(code, secret string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    6,
		Algorithm: 0,
	})
	return err == nil && valid
}

// Valkey key pattern for pending step-up tickets:
//
//	stepup:{ticket} → user_id (STRING with TTL)

func stepUpTicketKey(ticket string) string {
	return "stepup:" + ticket
}

// CreateStepUpTicket generates a single-use step-up confirmation ticket, stores it in Valkey with the given TTL, and
// returns the ticket string. Issued after a successful recovery-PIN verification; account deletion is the only action
// that consumes it.
func CreateStepUpTicket(ctx context.Context, rdb *redis.Client, userID uuid.UUID, ttl time.Duration) (string, error) {
	ticket := uuid.New().String()

	err := rdb.Set(ctx, stepUpTicketKey(ticket), userID.String(), ttl).Err()
	if err != nil {
		return "", fmt.Errorf("store step-up ticket: %w", err)
	}

	return ticket, nil
}

// ConsumeStepUpTicket atomically reads and deletes a step-up ticket from Valkey, returning the associated user ID.
// GETDEL guarantees single-use without a Lua script.
func ConsumeStepUpTicket(ctx context.Context, rdb *redis.Client, ticket string) (uuid.UUID, error) {
	val, err := rdb.GetDel(ctx, stepUpTicketKey(ticket)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrInvalidToken
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("consume step-up ticket: %w", err)
	}

	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse user ID from step-up ticket: %w", err)
	}

	return userID, nil
}
