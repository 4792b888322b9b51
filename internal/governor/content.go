package governor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Sentinel errors for content heuristics. These apply only to plaintext room messages (§4.6.3): ciphertext
// envelopes are opaque to the server and never screened.
var (
	ErrDuplicateMessage = errors.New("duplicate message suppressed")
	ErrTooManyLinks     = errors.New("message exceeds the allowed number of links")
	ErrTooManyMentions  = errors.New("message exceeds the allowed number of mentions")
)

var (
	linkPattern    = regexp.MustCompile(`(?i)\bhttps?://\S+|\bmagnet:\?\S+`)
	mentionPattern = regexp.MustCompile(`@[A-Za-z0-9_.]{3,32}`)
)

// ContentHeuristics screens plaintext room messages for abuse patterns no structural validation catches: repeated
// spam and link/mention flooding. There is no ecosystem library in the retrieved pack for chat-specific content
// heuristics, so this one corner is implemented directly against the standard library's regexp, by necessity
// rather than by choice.
type ContentHeuristics struct {
	rdb         *redis.Client
	maxLinks    int
	maxMentions int
	dupWindow   time.Duration
}

// NewContentHeuristics constructs a ContentHeuristics screener with the given per-message caps and the window
// within which an identical message from the same user in the same room is suppressed as a duplicate.
func NewContentHeuristics(rdb *redis.Client, maxLinks, maxMentions int, dupWindow time.Duration) *ContentHeuristics {
	return &ContentHeuristics{rdb: rdb, maxLinks: maxLinks, maxMentions: maxMentions, dupWindow: dupWindow}
}

// Check screens a plaintext message body for link/mention caps and recent-duplicate suppression, claiming the
// duplicate-suppression key on success so a second identical post within the window is rejected.
func (c *ContentHeuristics) Check(ctx context.Context, roomID uuid.UUID, userID uuid.UUID, content string) error {
	if c.maxLinks >= 0 && len(linkPattern.FindAllString(content, -1)) > c.maxLinks {
		return ErrTooManyLinks
	}
	if c.maxMentions >= 0 && len(mentionPattern.FindAllString(content, -1)) > c.maxMentions {
		return ErrTooManyMentions
	}

	if c.dupWindow <= 0 {
		return nil
	}
	key := fmt.Sprintf("dupcheck:%s:%s:%s", roomID, userID, hashContent(content))
	ok, err := c.rdb.SetNX(ctx, key, 1, c.dupWindow).Result()
	if err != nil {
		return fmt.Errorf("claim duplicate-check key: %w", err)
	}
	if !ok {
		return ErrDuplicateMessage
	}
	return nil
}

func hashContent(content string) string {
	// FNV-1a keeps the Valkey key short without needing content-addressed storage; a hash collision would
	// spuriously suppress a distinct message, an acceptable rare cost for a spam heuristic.
	var h uint64 = 14695981039346656037
	for i := 0; i < len(content); i++ {
		h ^= uint64(content[i])
		h *= 1099511628211
	}
	return fmt.Sprintf("%x", h)
}
