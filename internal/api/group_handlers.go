package api

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/auth"
	"github.com/echochat/echochat-server/internal/group"
	"github.com/echochat/echochat-server/internal/httputil"
	"github.com/echochat/echochat-server/internal/user"
)

// GroupHandler serves the Group chat supplement's HTTP surface: creation, listing, and invite issuance. Sending
// messages and fetching history/roster happen over the gateway (internal/api Router), same split as rooms.
type GroupHandler struct {
	groups group.Repository
	users  user.Repository
	log    zerolog.Logger
}

// NewGroupHandler constructs a GroupHandler.
func NewGroupHandler(groups group.Repository, users user.Repository, logger zerolog.Logger) *GroupHandler {
	return &GroupHandler{groups: groups, users: users, log: logger.With().Str("handler", "group").Logger()}
}

type createGroupBody struct {
	DisplayName string `json:"display_name"`
}

type groupEntry struct {
	ID          int64  `json:"id"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Create handles POST /api/v1/groups.
func (h *GroupHandler) Create(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}

	var body createGroupBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "invalid request body")
	}
	name, err := group.ValidateDisplayName(body.DisplayName)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, err.Error())
	}

	g, err := h.groups.Create(c.Context(), name, userID)
	if err != nil {
		return h.mapError(c, err)
	}
	if err := h.groups.AddMember(c.Context(), g.ID, userID, group.RoleOwner); err != nil {
		h.log.Error().Err(err).Msg("failed to add group creator as owner")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, groupEntry{ID: g.ID, DisplayName: g.DisplayName, Role: string(group.RoleOwner)})
}

// List handles GET /api/v1/groups, returning every group the caller belongs to.
func (h *GroupHandler) List(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}

	groups, err := h.groups.ListForUser(c.Context(), userID)
	if err != nil {
		return h.mapError(c, err)
	}
	entries := make([]groupEntry, len(groups))
	for i, g := range groups {
		role := string(group.RoleMember)
		if mem, err := h.groups.GetMembership(c.Context(), g.ID, userID); err == nil {
			role = string(mem.Role)
		}
		entries[i] = groupEntry{ID: g.ID, DisplayName: g.DisplayName, Role: role}
	}
	return httputil.Success(c, entries)
}

type createGroupInviteBody struct {
	InviteeUsername string `json:"invitee_username"`
}

// CreateInvite handles POST /api/v1/groups/:id/invites. An empty invitee_username issues an open (untargeted)
// invite; otherwise the invite is bound to that user and only they can consume it.
func (h *GroupHandler) CreateInvite(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}
	groupID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "invalid group id")
	}
	if _, err := h.groups.GetMembership(c.Context(), groupID, userID); err != nil {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "not a member of this group")
	}

	var body createGroupInviteBody
	_ = c.Bind().Body(&body)

	var inviteeID *uuid.UUID
	if body.InviteeUsername != "" {
		invitee, err := h.users.GetByUsername(c.Context(), body.InviteeUsername)
		if err != nil {
			return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "invitee not found")
		}
		inviteeID = &invitee.ID
	}

	inv, err := h.groups.CreateInvite(c.Context(), groupID, userID, inviteeID)
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{"code": inv.Code})
}

func (h *GroupHandler) mapError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, group.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "group not found")
	case errors.Is(err, group.ErrNameLength):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, err.Error())
	case errors.Is(err, group.ErrNotMember):
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, err.Error())
	default:
		h.log.Error().Err(err).Msg("unhandled group service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
}
