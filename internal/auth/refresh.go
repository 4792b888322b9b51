package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Valkey key patterns:
//
//	refresh:{token}        → user_id:session_id (STRING with TTL)
//	user_refresh:{user_id} → SET of token UUIDs

func refreshKey(token string) string {
	return "refresh:" + token
}

func userRefreshKey(userID uuid.UUID) string {
	return "user_refresh:" + userID.String()
}

// rotateScript atomically consumes an old refresh token and issues a new one. Returns the stored
// user_id:session_id binding on success, or nil
// if the old token was not found (indicating reuse). Also cleans up expired token UUIDs from the user set so it does
// not grow unboundedly when tokens expire naturally without being rotated or revoked.
//
//	KEYS[1] = refresh:{oldToken}
//	ARGV[1] = oldToken (UUID string, for SREM from user set)
//	ARGV[2] = newToken (UUID string)
//	ARGV[3] = TTL in seconds
var rotateScript = redis.NewScript(`
local userId = redis.call('GET', KEYS[1])
if not userId then
    return false
end

redis.call('DEL', KEYS[1])

local userSetKey = 'user_refresh:' .. string.match(userId, '^[^:]+')
redis.call('SREM', userSetKey, ARGV[1])

-- Remove stale entries whose refresh:{token} key has expired.
local members = redis.call('SMEMBERS', userSetKey)
for _, member in ipairs(members) do
    if redis.call('EXISTS', 'refresh:' .. member) == 0 then
        redis.call('SREM', userSetKey, member)
    end
end

local newKey = 'refresh:' .. ARGV[2]
redis.call('SET', newKey, userId, 'EX', tonumber(ARGV[3]))
redis.call('SADD', userSetKey, ARGV[2])
redis.call('EXPIRE', userSetKey, tonumber(ARGV[3]))

return userId
`)

// createScript atomically stores a new refresh token and adds it to the user's token set, ensuring both operations
// succeed or fail together. Expired token UUIDs are cleaned from the set to prevent unbounded growth.
//
//	KEYS[1] = refresh:{token}
//	KEYS[2] = user_refresh:{userID}
//	ARGV[1] = userID string
//	ARGV[2] = token UUID string (for SADD into user set)
//	ARGV[3] = TTL in seconds
var createScript = redis.NewScript(`
-- Remove stale entries whose refresh:{token} key has expired.
local members = redis.call('SMEMBERS', KEYS[2])
for _, member in ipairs(members) do
    if redis.call('EXISTS', 'refresh:' .. member) == 0 then
        redis.call('SREM', KEYS[2], member)
    end
end

redis.call('SET', KEYS[1], ARGV[1], 'EX', tonumber(ARGV[3]))
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[3]))
return 1
`)

// revokeAllScript atomically removes all refresh tokens for a user.
//
//	KEYS[1] = user_refresh:{userID}
var revokeAllScript = redis.NewScript(`
local tokens = redis.call('SMEMBERS', KEYS[1])
for _, token in ipairs(tokens) do
    redis.call('DEL', 'refresh:' .. token)
end
redis.call('DEL', KEYS[1])
return #tokens
`)

// refreshBinding is the opaque value stored under refresh:{token} in Valkey: the owning user id and the AuthSession
// it was minted under, joined by a colon. Binding the session here (rather than only the user) lets RotateRefreshToken
// hand back the session id needed to mint a session-bound access token without a round trip to Postgres.
func encodeRefreshBinding(userID, sessionID uuid.UUID) string {
	return userID.String() + ":" + sessionID.String()
}

func decodeRefreshBinding(val string) (userID, sessionID uuid.UUID, err error) {
	parts := strings.SplitN(val, ":", 2)
	if len(parts) != 2 {
		return uuid.Nil, uuid.Nil, fmt.Errorf("malformed refresh token binding")
	}
	userID, err = uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse user ID from refresh token: %w", err)
	}
	sessionID, err = uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("parse session ID from refresh token: %w", err)
	}
	return userID, sessionID, nil
}

// CreateRefreshToken generates a new refresh token bound to the given session and stores it in Valkey with the given
// TTL. A Lua script ensures the token key and user set are updated atomically.
func CreateRefreshToken(ctx context.Context, rdb *redis.Client, userID, sessionID uuid.UUID, ttl time.Duration) (string, error) {
	token := uuid.New().String()

	_, err := createScript.Run(ctx, rdb,
		[]string{refreshKey(token), userRefreshKey(userID)},
		encodeRefreshBinding(userID, sessionID), token, int(ttl.Seconds()),
	).Result()
	if err != nil {
		return "", fmt.Errorf("create refresh token: %w", err)
	}

	return token, nil
}

// ValidateRefreshToken checks whether a refresh token exists in Valkey and returns the bound user and session IDs.
func ValidateRefreshToken(ctx context.Context, rdb *redis.Client, token string) (userID, sessionID uuid.UUID, err error) {
	val, err := rdb.Get(ctx, refreshKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, uuid.Nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("get refresh token: %w", err)
	}

	return decodeRefreshBinding(val)
}

// RotateRefreshToken atomically consumes an old refresh token and issues a new one bound to the same session via a
// Lua script. If the old token was already consumed, returns ErrRefreshTokenReused.
func RotateRefreshToken(ctx context.Context, rdb *redis.Client, oldToken string, ttl time.Duration) (newToken string, userID, sessionID uuid.UUID, err error) {
	newToken = uuid.New().String()

	result, err := rotateScript.Run(ctx, rdb,
		[]string{refreshKey(oldToken)},
		oldToken, newToken, int(ttl.Seconds()),
	).Text()

	if errors.Is(err, redis.Nil) {
		return "", uuid.Nil, uuid.Nil, ErrRefreshTokenReused
	}
	if err != nil {
		return "", uuid.Nil, uuid.Nil, fmt.Errorf("rotate refresh token: %w", err)
	}

	userID, sessionID, err = decodeRefreshBinding(result)
	if err != nil {
		return "", uuid.Nil, uuid.Nil, err
	}

	return newToken, userID, sessionID, nil
}

// RevokeAllRefreshTokens atomically removes all refresh tokens for the given user via a Lua script.
func RevokeAllRefreshTokens(ctx context.Context, rdb *redis.Client, userID uuid.UUID) error {
	_, err := revokeAllScript.Run(ctx, rdb,
		[]string{userRefreshKey(userID)},
	).Result()

	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("revoke refresh tokens: %w", err)
	}

	return nil
}
