package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrSlowmode is returned when a (room, user) pair posts again before its slowmode window elapses. Callers map
// this to apierrors.SlowMode.
var ErrSlowmode = errors.New("slowmode in effect")

// Slowmode tracks the last-post timestamp per (room, user) in Valkey, enforcing room.Room.SlowmodeSeconds.
type Slowmode struct {
	rdb *redis.Client
}

// NewSlowmode constructs a Slowmode enforcer backed by the given Valkey client.
func NewSlowmode(rdb *redis.Client) *Slowmode {
	return &Slowmode{rdb: rdb}
}

// Check records a post attempt for (roomID, userID). If seconds is 0, slowmode is disabled and Check always
// succeeds. Otherwise it uses SET ... NX EX seconds as an atomic claim: the first caller within the window wins and
// every other caller within the same window is rejected with ErrSlowmode.
func (s *Slowmode) Check(ctx context.Context, roomID uuid.UUID, userID uuid.UUID, seconds int) error {
	if seconds <= 0 {
		return nil
	}

	key := fmt.Sprintf("slowmode:%s:%s", roomID, userID)
	ok, err := s.rdb.SetNX(ctx, key, 1, time.Duration(seconds)*time.Second).Result()
	if err != nil {
		return fmt.Errorf("claim slowmode key: %w", err)
	}
	if !ok {
		return ErrSlowmode
	}
	return nil
}
