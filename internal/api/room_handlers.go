package api

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/auth"
	"github.com/echochat/echochat-server/internal/gateway"
	"github.com/echochat/echochat-server/internal/httputil"
	"github.com/echochat/echochat-server/internal/room"
	"github.com/echochat/echochat-server/internal/wire"
)

// RoomHandler serves the Room Policy Engine's HTTP surface (spec §4.5): creation, listing, policy mutation, and
// invites. Realtime membership/send/leave flows are served over the gateway instead (internal/api Router).
type RoomHandler struct {
	rooms     room.Repository
	publisher *gateway.Publisher
	log       zerolog.Logger
}

// NewRoomHandler constructs a RoomHandler.
func NewRoomHandler(rooms room.Repository, publisher *gateway.Publisher, logger zerolog.Logger) *RoomHandler {
	return &RoomHandler{rooms: rooms, publisher: publisher, log: logger.With().Str("handler", "room").Logger()}
}

type createRoomBody struct {
	Name        string `json:"name"`
	Category    string `json:"category"`
	Subcategory string `json:"subcategory"`
	Visibility  string `json:"visibility"`
	Flag18Plus  bool   `json:"flag_18_plus"`
	FlagNSFW    bool   `json:"flag_nsfw"`
}

// Create handles POST /api/v1/rooms.
func (h *RoomHandler) Create(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}

	var body createRoomBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "invalid request body")
	}
	name, err := room.ValidateName(body.Name)
	if err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, err.Error())
	}

	visibility := room.VisibilityPublic
	if body.Visibility == string(room.VisibilityPrivate) {
		visibility = room.VisibilityPrivate
	}

	rm, err := h.rooms.Create(c.Context(), room.CreateParams{
		Name:        name,
		Category:    body.Category,
		Subcategory: body.Subcategory,
		Visibility:  visibility,
		Flag18Plus:  body.Flag18Plus,
		FlagNSFW:    body.FlagNSFW,
		CreatorID:   userID,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	if err := h.rooms.AddMember(c.Context(), rm.ID, userID, room.RoleOwner); err != nil {
		h.log.Error().Err(err).Msg("failed to add room creator as owner")
	}

	return httputil.SuccessStatus(c, fiber.StatusCreated, roomToEntry(rm, 1))
}

func roomToEntry(rm *room.Room, userCount int) wire.RoomListEntry {
	return wire.RoomListEntry{
		Name:            rm.Name,
		Category:        rm.Category,
		Subcategory:     rm.Subcategory,
		Visibility:      string(rm.Visibility),
		Flag18Plus:      rm.Flag18Plus,
		FlagNSFW:        rm.FlagNSFW,
		Locked:          rm.Locked,
		Readonly:        rm.Readonly,
		SlowmodeSeconds: rm.SlowmodeSeconds,
		UserCount:       userCount,
	}
}

// List handles GET /api/v1/rooms.
func (h *RoomHandler) List(c fiber.Ctx) error {
	rooms, err := h.rooms.List(c.Context())
	if err != nil {
		return h.mapError(c, err)
	}
	entries := make([]wire.RoomListEntry, 0, len(rooms))
	for i := range rooms {
		rm := &rooms[i]
		if rm.Visibility != room.VisibilityPublic {
			continue
		}
		count, _ := h.rooms.MemberCount(c.Context(), rm.ID)
		entries = append(entries, roomToEntry(rm, count))
	}
	return httputil.Success(c, entries)
}

type updatePolicyBody struct {
	Locked          *bool `json:"locked"`
	Readonly        *bool `json:"readonly"`
	SlowmodeSeconds *int  `json:"slowmode_seconds"`
}

// UpdatePolicy handles PATCH /api/v1/rooms/:name/policy. Only an owner or moderator may mutate room policy.
func (h *RoomHandler) UpdatePolicy(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}

	rm, err := h.rooms.GetByName(c.Context(), c.Params("name"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "room not found")
	}
	mem, err := h.rooms.GetMembership(c.Context(), rm.ID, userID)
	if err != nil || (mem.Role != room.RoleOwner && mem.Role != room.RoleModerator) {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "only an owner or moderator may change room policy")
	}

	var body updatePolicyBody
	if err := c.Bind().Body(&body); err != nil {
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, "invalid request body")
	}
	if body.SlowmodeSeconds != nil {
		if err := room.ValidateSlowmode(*body.SlowmodeSeconds); err != nil {
			return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, err.Error())
		}
	}

	updated, err := h.rooms.UpdatePolicy(c.Context(), rm.ID, room.PolicyUpdate{
		Locked:          body.Locked,
		Readonly:        body.Readonly,
		SlowmodeSeconds: body.SlowmodeSeconds,
	})
	if err != nil {
		return h.mapError(c, err)
	}

	members, err := h.rooms.ListMembers(c.Context(), rm.ID)
	if err == nil {
		recipients := make([]uuid.UUID, len(members))
		for i, m := range members {
			recipients[i] = m.UserID
		}
		_ = h.publisher.PublishTo(c.Context(), recipients, wire.EventRoomPolicyState, wire.RoomPolicyStateData{
			Room:            updated.Name,
			Locked:          updated.Locked,
			Readonly:        updated.Readonly,
			SlowmodeSeconds: updated.SlowmodeSeconds,
		})
	}

	return httputil.Success(c, roomToEntry(updated, len(members)))
}

type createInviteBody struct {
	MaxUses int `json:"max_uses"`
}

// CreateInvite handles POST /api/v1/rooms/:name/invites.
func (h *RoomHandler) CreateInvite(c fiber.Ctx) error {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		return httputil.Fail(c, fiber.StatusUnauthorized, apierrors.Unauthorized, "missing identity")
	}
	rm, err := h.rooms.GetByName(c.Context(), c.Params("name"))
	if err != nil {
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "room not found")
	}
	if _, err := h.rooms.GetMembership(c.Context(), rm.ID, userID); err != nil {
		return httputil.Fail(c, fiber.StatusForbidden, apierrors.Forbidden, "not a member of this room")
	}

	var body createInviteBody
	_ = c.Bind().Body(&body)

	inv, err := h.rooms.CreateInvite(c.Context(), rm.ID, userID, body.MaxUses, nil)
	if err != nil {
		return h.mapError(c, err)
	}
	return httputil.SuccessStatus(c, fiber.StatusCreated, fiber.Map{
		"code":     inv.Code,
		"max_uses": inv.MaxUses,
	})
}

func (h *RoomHandler) mapError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, room.ErrNotFound):
		return httputil.Fail(c, fiber.StatusNotFound, apierrors.NotFound, "room not found")
	case errors.Is(err, room.ErrAlreadyExists):
		return httputil.Fail(c, fiber.StatusConflict, apierrors.Conflict, "room name already taken")
	case errors.Is(err, room.ErrNameLength), errors.Is(err, room.ErrInvalidSlowmode):
		return httputil.Fail(c, fiber.StatusBadRequest, apierrors.BadInput, err.Error())
	default:
		h.log.Error().Err(err).Msg("unhandled room service error")
		return httputil.Fail(c, fiber.StatusInternalServerError, apierrors.Internal, "an internal error occurred")
	}
}
