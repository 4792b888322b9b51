package api

import (
	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/auth"
	"github.com/echochat/echochat-server/internal/friend"
	"github.com/echochat/echochat-server/internal/httputil"
)

// FriendHandler serves the friend graph's read-only HTTP surface. Requests, accepts, rejects, blocks, and
// unblocks all happen over the gateway (internal/api Router) since they need to fan out a realtime notification;
// this handler exists for clients that want a REST snapshot without a live connection.
type FriendHandler struct {
	friends friend.Repository
	log     zerolog.Logger
}

// NewFriendHandler constructs a FriendHandler.
func NewFriendHandler(friends friend.Repository, logger zerolog.Logger) *FriendHandler {
	return &FriendHandler{friends: friends, log: logger.With().Str("handler", "friend").Logger()}
}

type friendEntry struct {
	Username string `json:"username"`
	Since    int64  `json:"since"`
}

// List handles GET /api/v1/friends.
func (h *FriendHandler) List(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}

	friends, err := h.friends.ListFriends(c.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list friends")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	entries := make([]friendEntry, len(friends))
	for i, f := range friends {
		entries[i] = friendEntry{Username: f.Username, Since: f.Since.Unix()}
	}
	return httputil.Success(c, entries)
}

type incomingRequestEntry struct {
	RequestID string `json:"request_id"`
	CreatedAt int64  `json:"created_at"`
}

// IncomingRequests handles GET /api/v1/friends/requests.
func (h *FriendHandler) IncomingRequests(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}

	reqs, err := h.friends.ListIncomingRequests(c.Context(), userID)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to list incoming friend requests")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
	entries := make([]incomingRequestEntry, len(reqs))
	for i, r := range reqs {
		entries[i] = incomingRequestEntry{RequestID: r.ID.String(), CreatedAt: r.CreatedAt.Unix()}
	}
	return httputil.Success(c, entries)
}
