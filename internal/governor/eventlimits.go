package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/echochat/echochat-server/internal/config"
)

// ErrRateLimited is returned by EventLimiter.Allow when a rule's window is exhausted.
var ErrRateLimited = errors.New("rate limited")

// Rule names the realtime event classes §4.6.2 lists per-user sliding windows for.
type Rule string

const (
	RuleRoomSend     Rule = "room_send"
	RuleDMSend       Rule = "dm_send"
	RuleRoomJoin     Rule = "room_join"
	RuleRoomCreate   Rule = "room_create"
	RuleFriendReq    Rule = "friend_request"
	RuleFriendAction Rule = "friend_action"
	RuleP2PSignal    Rule = "p2p_signal"
	RuleVoiceInvite  Rule = "voice_invite"
)

// Limit pairs a rule's allowance with its window.
type Limit struct {
	Count  int
	Window time.Duration
}

// EventLimiter enforces per-user, per-rule sliding windows in Valkey, each kept as a sorted set of recent event
// timestamps. Counters survive a worker restart and
// are visible to every worker in the fleet, unlike a connection-local in-memory counter that resets on reconnect.
type EventLimiter struct {
	rdb   *redis.Client
	rules map[Rule]Limit
}

// NewEventLimiter constructs a limiter keyed by rule.
func NewEventLimiter(rdb *redis.Client, rules map[Rule]Limit) *EventLimiter {
	return &EventLimiter{rdb: rdb, rules: rules}
}

// DefaultRules builds the rule→limit table from config, one entry per Rule constant.
func DefaultRules(cfg *config.Config) map[Rule]Limit {
	return map[Rule]Limit{
		RuleRoomSend:     {Count: cfg.RateLimitRoomSendCount, Window: cfg.RateLimitRoomSendWindow},
		RuleDMSend:       {Count: cfg.RateLimitDMSendCount, Window: cfg.RateLimitDMSendWindow},
		RuleRoomJoin:     {Count: cfg.RateLimitRoomJoinCount, Window: cfg.RateLimitRoomJoinWindow},
		RuleRoomCreate:   {Count: cfg.RateLimitRoomCreateCount, Window: cfg.RateLimitRoomCreateWindow},
		RuleFriendReq:    {Count: cfg.RateLimitFriendReqCount, Window: cfg.RateLimitFriendReqWindow},
		RuleFriendAction: {Count: cfg.RateLimitFriendActionCount, Window: cfg.RateLimitFriendActionWindow},
		RuleP2PSignal:    {Count: cfg.RateLimitP2PSignalCount, Window: cfg.RateLimitP2PSignalWindow},
		RuleVoiceInvite:  {Count: cfg.RateLimitVoiceInviteCount, Window: cfg.RateLimitVoiceInviteWindow},
	}
}

// Allow records an event for (rule, userID) and reports ErrRateLimited if more events than the rule's configured
// count fall within the window ending now. Rejected attempts are recorded too. An unrecognized rule is always allowed — callers only invoke Allow with rules
// they've configured a Limit for.
func (l *EventLimiter) Allow(ctx context.Context, rule Rule, userID uuid.UUID) error {
	limit, ok := l.rules[rule]
	if !ok {
		return nil
	}

	key := fmt.Sprintf("ratelimit:%s:%s", rule, userID)
	now := time.Now()
	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprint(now.Add(-limit.Window).UnixMicro()))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMicro()), Member: uuid.NewString()})
	count := pipe.ZCard(ctx, key)
	pipe.PExpire(ctx, key, limit.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update rate limit window: %w", err)
	}
	if int(count.Val()) > limit.Count {
		return ErrRateLimited
	}
	return nil
}
