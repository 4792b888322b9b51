package presence

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestSetAndGet(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()
	userID := uuid.New()

	if err := store.Set(ctx, userID, StatusOnline, nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusOnline {
		t.Errorf("Get().Status = %q, want %q", got.Status, StatusOnline)
	}
}

func TestSetAndGetCustomStatus(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()
	userID := uuid.New()
	custom := "out for a walk"

	if err := store.Set(ctx, userID, StatusAway, &custom); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.CustomStatus == nil || *got.CustomStatus != custom {
		t.Errorf("Get().CustomStatus = %v, want %q", got.CustomStatus, custom)
	}
}

func TestGetReturnsOfflineWhenMissing(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()

	got, err := store.Get(ctx, uuid.New())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusOffline {
		t.Errorf("Get().Status = %q, want %q", got.Status, StatusOffline)
	}
}

func TestGetForFriendMasksInvisible(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()
	userID := uuid.New()

	if err := store.Set(ctx, userID, StatusInvisible, nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := store.GetForFriend(ctx, userID)
	if err != nil {
		t.Fatalf("GetForFriend() error = %v", err)
	}
	if got.Status != StatusOffline {
		t.Errorf("GetForFriend().Status = %q, want %q", got.Status, StatusOffline)
	}
}

func TestGetManyForFriendsMasksInvisible(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()

	onlineUser := uuid.New()
	invisibleUser := uuid.New()
	offlineUser := uuid.New()

	if err := store.Set(ctx, onlineUser, StatusOnline, nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, invisibleUser, StatusInvisible, nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	result, err := store.GetManyForFriends(ctx, []uuid.UUID{onlineUser, invisibleUser, offlineUser})
	if err != nil {
		t.Fatalf("GetManyForFriends() error = %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("GetManyForFriends() returned %d results, want 2", len(result))
	}

	byUser := make(map[uuid.UUID]State, len(result))
	for _, r := range result {
		byUser[r.UserID] = r
	}
	if byUser[onlineUser].Status != StatusOnline {
		t.Errorf("online user status = %q, want %q", byUser[onlineUser].Status, StatusOnline)
	}
	if byUser[invisibleUser].Status != StatusOffline {
		t.Errorf("invisible user status = %q, want %q (masked)", byUser[invisibleUser].Status, StatusOffline)
	}
}

func TestGetManyForFriendsEmptyInput(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)

	result, err := store.GetManyForFriends(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetManyForFriends() error = %v", err)
	}
	if result != nil {
		t.Errorf("GetManyForFriends(nil) = %v, want nil", result)
	}
}

func TestRefreshExtendsTTL(t *testing.T) {
	t.Parallel()
	mr, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()
	userID := uuid.New()

	if err := store.Set(ctx, userID, StatusAway, nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Advance time so the key is near expiry.
	mr.FastForward(100 * time.Second)

	if err := store.Refresh(ctx, userID); err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}

	// After refresh, the key should survive another full TTL.
	mr.FastForward(100 * time.Second)

	got, err := store.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusAway {
		t.Errorf("Get().Status = %q after Refresh, want %q", got.Status, StatusAway)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	_, rdb := newTestRedis(t)
	store := NewStore(rdb)
	ctx := context.Background()
	userID := uuid.New()

	if err := store.Set(ctx, userID, StatusOnline, nil); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Delete(ctx, userID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	got, err := store.Get(ctx, userID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusOffline {
		t.Errorf("Get().Status = %q after Delete, want %q", got.Status, StatusOffline)
	}
}

func TestValidStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status string
		want   bool
	}{
		{StatusOnline, true},
		{StatusAway, true},
		{StatusBusy, true},
		{StatusInvisible, true},
		{StatusOffline, false},
		{"", false},
		{"idle", false},
	}
	for _, tt := range tests {
		if got := ValidStatus(tt.status); got != tt.want {
			t.Errorf("ValidStatus(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestValidateCustomStatus(t *testing.T) {
	t.Parallel()

	if err := ValidateCustomStatus(nil); err != nil {
		t.Errorf("ValidateCustomStatus(nil) error = %v, want nil", err)
	}

	short := "back in 5"
	if err := ValidateCustomStatus(&short); err != nil {
		t.Errorf("ValidateCustomStatus(short) error = %v, want nil", err)
	}

	long := make([]byte, MaxCustomStatusLength+1)
	for i := range long {
		long[i] = 'a'
	}
	longStr := string(long)
	if err := ValidateCustomStatus(&longStr); err == nil {
		t.Error("ValidateCustomStatus(too long) should return error")
	}
}
