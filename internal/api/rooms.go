package api

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/governor"
	"github.com/echochat/echochat-server/internal/presence"
	"github.com/echochat/echochat-server/internal/relay"
	"github.com/echochat/echochat-server/internal/room"
	"github.com/echochat/echochat-server/internal/wire"
)

// roomMembership resolves a room by name and the caller's membership, mapping both "no such room" and "not a
// member" to apierrors so every room-scoped handler can share the same preamble.
func (r *Router) roomMembership(ctx context.Context, name string, userID uuid.UUID) (*room.Room, *room.Membership, error) {
	rm, err := r.rooms.GetByName(ctx, name)
	if err != nil {
		return nil, nil, apierrors.New(apierrors.NotFound, "room not found")
	}
	mem, err := r.rooms.GetMembership(ctx, rm.ID, userID)
	if err != nil {
		return nil, nil, apierrors.New(apierrors.NotInRoom, "not a member of this room")
	}
	return rm, mem, nil
}

func (r *Router) handleJoin(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.JoinData](data)
	if err != nil {
		return "", nil, err
	}
	if err := r.events.Allow(ctx, governor.RuleRoomJoin, userID); err != nil {
		return "", nil, apierrors.New(apierrors.RateLimited, "too many room joins")
	}

	rm, err := r.rooms.GetByName(ctx, req.Room)
	if err != nil {
		return "", nil, apierrors.New(apierrors.NotFound, "room not found")
	}

	target, err := r.autoscaler.Resolve(ctx, rm)
	if err != nil {
		return "", nil, apierrors.New(apierrors.CapReached, "room is at capacity")
	}

	if _, err := r.rooms.GetMembership(ctx, target.ID, userID); err == nil {
		return "", nil, apierrors.New(apierrors.Conflict, "already a member of this room")
	}
	if err := r.rooms.AddMember(ctx, target.ID, userID, room.RoleMember); err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to join room")
	}

	uname, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	members, err := r.rooms.ListMembers(ctx, target.ID)
	if err == nil {
		recipients := make([]uuid.UUID, 0, len(members))
		for _, m := range members {
			if m.UserID != userID {
				recipients = append(recipients, m.UserID)
			}
		}
		r.publishTo(ctx, recipients, wire.EventRoomUsers, wire.RoomUsersData{
			Room:  target.Name,
			Users: usernamesOf(members),
		})
	}

	r.log.Info().Str("room", target.Name).Str("user", uname).Msg("user joined room")

	return wire.EventRoomUsers, wire.RoomUsersData{Room: target.Name, Users: usernamesOf(members)}, nil
}

func usernamesOf(members []room.Membership) []string {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Username
	}
	return names
}

func (r *Router) handleLeave(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.JoinData](data)
	if err != nil {
		return "", nil, err
	}
	rm, _, err := r.roomMembership(ctx, req.Room, userID)
	if err != nil {
		return "", nil, err
	}
	if err := r.rooms.RemoveMember(ctx, rm.ID, userID); err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to leave room")
	}

	uname, _ := r.username(ctx, userID)
	members, err := r.rooms.ListMembers(ctx, rm.ID)
	if err == nil {
		recipients := make([]uuid.UUID, len(members))
		for i, m := range members {
			recipients[i] = m.UserID
		}
		r.publishTo(ctx, recipients, wire.EventRoomUsers, wire.RoomUsersData{Room: rm.Name, Users: usernamesOf(members)})
	}
	r.log.Info().Str("room", rm.Name).Str("user", uname).Msg("user left room")
	return "", nil, nil
}

func (r *Router) handleSendMessage(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.SendMessageData](data)
	if err != nil {
		return "", nil, err
	}
	rm, mem, err := r.roomMembership(ctx, req.Room, userID)
	if err != nil {
		return "", nil, err
	}

	if ok, reason := room.CanSend(rm, mem.Role); !ok {
		if reason == "read_only" {
			return "", nil, apierrors.New(apierrors.ReadOnly, "room is read-only")
		}
		return "", nil, apierrors.New(apierrors.Locked, "room is locked")
	}

	if err := r.events.Allow(ctx, governor.RuleRoomSend, userID); err != nil {
		return "", nil, apierrors.New(apierrors.RateLimited, "too many messages")
	}
	if err := r.slowmode.Check(ctx, rm.ID, userID, rm.SlowmodeSeconds); err != nil {
		return "", nil, apierrors.New(apierrors.SlowMode, "slowmode in effect")
	}

	params := relay.CreateParams{Scope: relay.ScopeRoom, ScopeID: rm.ID.String(), AuthorID: userID}
	if req.Message != nil {
		content, err := relay.ValidateContent(*req.Message, r.cfg.MessageMaxLength)
		if err != nil {
			return "", nil, apierrors.New(apierrors.BadInput, err.Error())
		}
		if err := r.content.Check(ctx, rm.ID, userID, content); err != nil {
			return "", nil, classifyContentError(err)
		}
		params.Content = &content
	} else if req.Cipher != nil {
		params.Cipher = req.Cipher
	} else {
		return "", nil, apierrors.New(apierrors.BadInput, "message or cipher is required")
	}

	msg, err := r.relay.Create(ctx, params)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to store message")
	}

	payload := wire.ChatMessageData{
		Room:      rm.Name,
		Username:  msg.AuthorUsername,
		MessageID: msg.ID.String(),
		Timestamp: msg.CreatedAt.Unix(),
	}
	if msg.Content != nil {
		payload.Message = *msg.Content
	} else {
		payload.Message = wire.ChatMessagePlaceholder
		payload.Cipher = *msg.Cipher
	}

	members, err := r.rooms.ListMembers(ctx, rm.ID)
	if err == nil {
		recipients := make([]uuid.UUID, 0, len(members))
		for _, m := range members {
			if m.UserID != userID {
				recipients = append(recipients, m.UserID)
			}
		}
		r.publishTo(ctx, recipients, wire.EventChatMessage, payload)
	}

	return wire.EventChatMessage, payload, nil
}

func classifyContentError(err error) error {
	switch err {
	case governor.ErrTooManyLinks, governor.ErrTooManyMentions, governor.ErrDuplicateMessage:
		return apierrors.New(apierrors.BadInput, err.Error())
	default:
		return apierrors.New(apierrors.Internal, "content check failed")
	}
}

func (r *Router) handleReactToMessage(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.ReactToMessageData](data)
	if err != nil {
		return "", nil, err
	}
	rm, _, err := r.roomMembership(ctx, req.Room, userID)
	if err != nil {
		return "", nil, err
	}
	if err := relay.ValidateEmoji(req.Emoji); err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, err.Error())
	}
	msgID, err := uuid.Parse(req.MessageID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, "invalid message id")
	}

	accepted, err := r.relay.React(ctx, msgID, userID, req.Emoji)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to record reaction")
	}
	if !accepted {
		return "", nil, apierrors.New(apierrors.ReactionFinal, "reaction already recorded for this message")
	}

	counts, err := r.relay.ReactionCounts(ctx, msgID)
	if err != nil {
		counts = map[string]int{}
	}
	payload := wire.MessageReactionsData{Room: rm.Name, MessageID: req.MessageID, Counts: counts}

	members, err := r.rooms.ListMembers(ctx, rm.ID)
	if err == nil {
		recipients := make([]uuid.UUID, len(members))
		for i, m := range members {
			recipients[i] = m.UserID
		}
		r.publishTo(ctx, recipients, wire.EventMessageReactions, payload)
	}
	return wire.EventMessageReactions, payload, nil
}

func (r *Router) handleGetRooms(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	rooms, err := r.rooms.List(ctx)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to list rooms")
	}
	entries := make([]wire.RoomListEntry, 0, len(rooms))
	for _, rm := range rooms {
		if rm.Visibility != room.VisibilityPublic {
			continue
		}
		count, _ := r.rooms.MemberCount(ctx, rm.ID)
		entries = append(entries, wire.RoomListEntry{
			Name:            rm.Name,
			Category:        rm.Category,
			Subcategory:     rm.Subcategory,
			Visibility:      string(rm.Visibility),
			Flag18Plus:      rm.Flag18Plus,
			FlagNSFW:        rm.FlagNSFW,
			Locked:          rm.Locked,
			Readonly:        rm.Readonly,
			SlowmodeSeconds: rm.SlowmodeSeconds,
			UserCount:       count,
		})
	}
	return wire.EventRoomList, entries, nil
}

func (r *Router) handleGetUsersInRoom(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.JoinData](data)
	if err != nil {
		return "", nil, err
	}
	rm, _, err := r.roomMembership(ctx, req.Room, userID)
	if err != nil {
		return "", nil, err
	}
	members, err := r.rooms.ListMembers(ctx, rm.ID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to list room members")
	}
	return wire.EventRoomUsers, wire.RoomUsersData{Room: rm.Name, Users: usernamesOf(members)}, nil
}

func (r *Router) handleGetRoomCounts(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	rooms, err := r.rooms.List(ctx)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to list rooms")
	}
	entries := make([]wire.RoomCountsEntry, 0, len(rooms))
	for _, rm := range rooms {
		count, err := r.rooms.MemberCount(ctx, rm.ID)
		if err != nil {
			continue
		}
		entries = append(entries, wire.RoomCountsEntry{Room: rm.Name, Count: count})
	}
	return wire.EventRoomCounts, entries, nil
}

func (r *Router) handleFetchOfflinePMs(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.FetchOfflinePMsData](data)
	if err != nil {
		return "", nil, err
	}
	from, err := r.resolveUsername(ctx, req.FromUser)
	if err != nil {
		return "", nil, err
	}

	msgs, err := r.relay.DrainOffline(ctx, userID, from.ID, req.Peek)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to drain offline messages")
	}
	items := make([]wire.OfflinePMItem, len(msgs))
	for i, m := range msgs {
		items[i] = wire.OfflinePMItem{ID: m.ID.String(), Cipher: m.Cipher, Ts: m.CreatedAt.Unix()}
	}
	return wire.EventPrivateMessage, items, nil
}

func (r *Router) handleGetMissedPMSummary(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	counts, err := r.relay.MissedSummary(ctx, userID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to summarize missed messages")
	}
	entries := make([]wire.MissedPMSummaryEntry, 0, len(counts))
	for _, c := range counts {
		uname, err := r.username(ctx, c.SenderID)
		if err != nil {
			continue
		}
		entries = append(entries, wire.MissedPMSummaryEntry{Sender: uname, Count: c.Count})
	}
	return wire.EventMissedPMSummary, entries, nil
}

func (r *Router) handleSendDirectMessage(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.SendDirectMessageData](data)
	if err != nil {
		return "", nil, err
	}
	if req.Cipher == "" {
		return "", nil, apierrors.New(apierrors.BadInput, "cipher is required")
	}
	to, err := r.resolveUsername(ctx, req.To)
	if err != nil {
		return "", nil, err
	}
	if err := r.events.Allow(ctx, governor.RuleDMSend, userID); err != nil {
		return "", nil, apierrors.New(apierrors.RateLimited, "too many direct messages")
	}

	blocked, err := r.friends.IsBlocked(ctx, to.ID, userID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to check block state")
	}
	if blocked {
		return "", nil, apierrors.New(apierrors.Forbidden, "recipient has blocked you")
	}

	senderName, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	presenceState, err := r.presence.Get(ctx, to.ID)
	online := err == nil && presenceState.Status != presence.StatusOffline
	if online {
		payload := wire.PrivateMessageData{
			ID:     uuid.New().String(),
			Sender: senderName,
			Cipher: req.Cipher,
			Ts:     time.Now().Unix(),
		}
		r.publishTo(ctx, []uuid.UUID{to.ID}, wire.EventPrivateMessage, payload)
		return "", nil, nil
	}

	if err := r.relay.EnqueueOffline(ctx, to.ID, userID, req.Cipher); err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to spool offline message")
	}
	return "", nil, nil
}
