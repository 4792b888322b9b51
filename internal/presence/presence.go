// Package presence provides ephemeral presence state backed by Valkey. Presence keys expire after 120 seconds and are
// refreshed by each gateway heartbeat. Presence updates propagate only to friends (§4.7); this package stores the raw
// per-user state, while internal/friend supplies the friend-scoped fan-out list.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
)

// customStatusPolicy strips any markup a client might smuggle into a custom status string before it is broadcast
// to friends' clients.
var customStatusPolicy = bluemonday.StrictPolicy()

const (
	// presenceTTL is the lifetime of a presence key. Heartbeats refresh this TTL so keys expire only when the client
	// stops sending heartbeats.
	presenceTTL = 120 * time.Second

	// MaxCustomStatusLength is the maximum length, in runes, of a custom status string (§3).
	MaxCustomStatusLength = 128

	// StatusOnline indicates the user is actively connected.
	StatusOnline = "online"
	// StatusAway indicates the user is connected but inactive.
	StatusAway = "away"
	// StatusBusy indicates the user does not want to be disturbed.
	StatusBusy = "busy"
	// StatusInvisible makes the user appear offline to others (including friends) while remaining connected.
	StatusInvisible = "invisible"
	// StatusOffline is the implicit status when no presence key exists, or the status a friend sees in place of
	// StatusInvisible. It is never stored in Valkey under that name by itself, but Invisible maps to it on read.
	StatusOffline = "offline"
)

// ErrInvalidCustomStatus is returned when a custom status exceeds MaxCustomStatusLength.
var ErrInvalidCustomStatus = errors.New("custom status must be 128 characters or fewer")

// State is one user's presence snapshot.
type State struct {
	UserID       uuid.UUID `json:"user_id"`
	Status       string    `json:"presence"`
	CustomStatus *string   `json:"custom_status,omitempty"`
	LastSeen     int64     `json:"last_seen"`
}

// record is the JSON shape stored in Valkey under the presence key.
type record struct {
	Status       string  `json:"status"`
	CustomStatus *string `json:"custom_status,omitempty"`
	LastSeen     int64   `json:"last_seen"`
}

// Store reads and writes ephemeral presence state in Valkey.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a new presence store backed by the given Valkey client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// ValidateCustomStatus sanitises a custom status in place, stripping any markup, and checks its length, if set.
func ValidateCustomStatus(customStatus *string) error {
	if customStatus == nil {
		return nil
	}
	*customStatus = customStatusPolicy.Sanitize(*customStatus) //nolint:misspell // bluemonday API uses American English spelling.
	if utf8.RuneCountInString(*customStatus) > MaxCustomStatusLength {
		return ErrInvalidCustomStatus
	}
	return nil
}

// ValidStatus returns true for statuses a client may set via set_my_presence. StatusOffline is not settable; clients
// go offline by disconnecting.
func ValidStatus(status string) bool {
	switch status {
	case StatusOnline, StatusAway, StatusBusy, StatusInvisible:
		return true
	default:
		return false
	}
}

// Set stores the user's presence status and custom status with the standard TTL.
func (s *Store) Set(ctx context.Context, userID uuid.UUID, status string, customStatus *string) error {
	rec := record{Status: status, CustomStatus: customStatus, LastSeen: time.Now().Unix()}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal presence record: %w", err)
	}
	if err := s.rdb.Set(ctx, presenceKey(userID), raw, presenceTTL).Err(); err != nil {
		return fmt.Errorf("set presence for %s: %w", userID, err)
	}
	return nil
}

// Get returns the user's own current presence snapshot (never masked to Offline, unlike GetForFriend). If no key
// exists the user is considered offline.
func (s *Store) Get(ctx context.Context, userID uuid.UUID) (State, error) {
	raw, err := s.rdb.Get(ctx, presenceKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{UserID: userID, Status: StatusOffline}, nil
	}
	if err != nil {
		return State{}, fmt.Errorf("get presence for %s: %w", userID, err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return State{}, fmt.Errorf("unmarshal presence record for %s: %w", userID, err)
	}
	return State{UserID: userID, Status: rec.Status, CustomStatus: rec.CustomStatus, LastSeen: rec.LastSeen}, nil
}

// GetForFriend returns the presence snapshot as a friend should observe it: StatusInvisible is masked to
// StatusOffline, per §4.7.
func (s *Store) GetForFriend(ctx context.Context, userID uuid.UUID) (State, error) {
	st, err := s.Get(ctx, userID)
	if err != nil {
		return State{}, err
	}
	if st.Status == StatusInvisible {
		st.Status = StatusOffline
		st.CustomStatus = nil
	}
	return st, nil
}

// GetManyForFriends returns the friend-masked presence snapshot for each of the given users. Offline users (no key)
// are omitted from the result so callers need not special-case them.
func (s *Store) GetManyForFriends(ctx context.Context, userIDs []uuid.UUID) ([]State, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = presenceKey(id)
	}

	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget presence: %w", err)
	}

	result := make([]State, 0, len(userIDs))
	for i, v := range vals {
		if v == nil {
			continue
		}
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		status := rec.Status
		customStatus := rec.CustomStatus
		if status == StatusInvisible {
			status = StatusOffline
			customStatus = nil
		}
		result = append(result, State{
			UserID:       userIDs[i],
			Status:       status,
			CustomStatus: customStatus,
			LastSeen:     rec.LastSeen,
		})
	}
	return result, nil
}

// Refresh extends the TTL of an existing presence key without changing the stored status, used by gateway heartbeats
// to keep a connected user's presence alive.
func (s *Store) Refresh(ctx context.Context, userID uuid.UUID) error {
	if err := s.rdb.Expire(ctx, presenceKey(userID), presenceTTL).Err(); err != nil {
		return fmt.Errorf("refresh presence for %s: %w", userID, err)
	}
	return nil
}

// Delete removes the user's presence key. After deletion the user is considered offline. Called by the Connection
// Registry when a user's last connection disconnects.
func (s *Store) Delete(ctx context.Context, userID uuid.UUID) error {
	if err := s.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return fmt.Errorf("delete presence for %s: %w", userID, err)
	}
	return nil
}

func presenceKey(userID uuid.UUID) string {
	return "presence:" + userID.String()
}
