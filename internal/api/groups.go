package api

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/google/uuid"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/group"
	"github.com/echochat/echochat-server/internal/governor"
	"github.com/echochat/echochat-server/internal/relay"
	"github.com/echochat/echochat-server/internal/wire"
)

// groupScopeID projects a group's bigint ID into the relay's string ScopeID, matching this segment's
// room-scope/group-scope addressing convention: room messages key off room.ID.String(), group messages off the
// base-10 rendering of their bigserial ID.
func groupScopeID(groupID int64) string {
	return strconv.FormatInt(groupID, 10)
}

func (r *Router) groupMembership(ctx context.Context, groupID int64, userID uuid.UUID) (*group.Group, *group.Membership, error) {
	g, err := r.groups.GetByID(ctx, groupID)
	if err != nil {
		return nil, nil, apierrors.New(apierrors.NotFound, "group not found")
	}
	mem, err := r.groups.GetMembership(ctx, groupID, userID)
	if err != nil {
		return nil, nil, apierrors.New(apierrors.NotInRoom, "not a member of this group")
	}
	return g, mem, nil
}

func (r *Router) handleGroupMessage(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.GroupMessageData](data)
	if err != nil {
		return "", nil, err
	}
	_, _, err = r.groupMembership(ctx, req.GroupID, userID)
	if err != nil {
		return "", nil, err
	}

	if err := r.events.Allow(ctx, governor.RuleRoomSend, userID); err != nil {
		return "", nil, apierrors.New(apierrors.RateLimited, "too many messages")
	}

	params := relay.CreateParams{Scope: relay.ScopeGroup, ScopeID: groupScopeID(req.GroupID), AuthorID: userID}
	if req.Message != nil {
		content, err := relay.ValidateContent(*req.Message, r.cfg.MessageMaxLength)
		if err != nil {
			return "", nil, apierrors.New(apierrors.BadInput, err.Error())
		}
		params.Content = &content
	} else if req.Cipher != nil {
		params.Cipher = req.Cipher
	} else {
		return "", nil, apierrors.New(apierrors.BadInput, "message or cipher is required")
	}

	msg, err := r.relay.Create(ctx, params)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to store group message")
	}

	payload := wire.GroupMessageData{
		GroupID:   req.GroupID,
		Username:  msg.AuthorUsername,
		MessageID: msg.ID.String(),
		Timestamp: msg.CreatedAt.Unix(),
	}
	if msg.Content != nil {
		payload.Message = msg.Content
	} else {
		placeholder := wire.ChatMessagePlaceholder
		payload.Message = &placeholder
		payload.Cipher = msg.Cipher
	}

	members, err := r.groups.ListMembers(ctx, req.GroupID)
	if err == nil {
		recipients := make([]uuid.UUID, 0, len(members))
		for _, m := range members {
			if m.UserID != userID {
				recipients = append(recipients, m.UserID)
			}
		}
		r.publishTo(ctx, recipients, wire.EventGroupMessage, payload)
	}
	return wire.EventGroupMessage, payload, nil
}

func (r *Router) handleJoinGroupChat(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.FriendRequestData](data) // reused shape: Username carries the invite code here
	if err != nil {
		return "", nil, err
	}

	inv, err := r.groups.ConsumeInvite(ctx, req.Username, userID)
	if err != nil {
		return "", nil, classifyGroupInviteError(err)
	}

	if _, err := r.groups.GetMembership(ctx, inv.GroupID, userID); err == nil {
		return "", nil, apierrors.New(apierrors.Conflict, "already a member of this group")
	}
	if err := r.groups.AddMember(ctx, inv.GroupID, userID, group.RoleMember); err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to join group")
	}

	members, err := r.groups.ListMembers(ctx, inv.GroupID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to list group members")
	}
	roster := wire.GroupRosterData{GroupID: inv.GroupID, Members: groupUsernamesOf(members)}

	recipients := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if m.UserID != userID {
			recipients = append(recipients, m.UserID)
		}
	}
	r.publishTo(ctx, recipients, wire.EventGroupRoster, roster)

	return wire.EventGroupRoster, roster, nil
}

func classifyGroupInviteError(err error) error {
	switch err {
	case group.ErrInviteNotFound:
		return apierrors.New(apierrors.NotFound, "invite not found")
	case group.ErrInviteNotForYou:
		return apierrors.New(apierrors.Forbidden, "invite is addressed to a different user")
	default:
		return apierrors.New(apierrors.Internal, "failed to consume invite")
	}
}

func groupUsernamesOf(members []group.Membership) []string {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.Username
	}
	return names
}

func (r *Router) handleGetGroupHistory(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.GroupMessageData](data)
	if err != nil {
		return "", nil, err
	}
	if _, _, err := r.groupMembership(ctx, req.GroupID, userID); err != nil {
		return "", nil, err
	}

	msgs, err := r.relay.List(ctx, relay.ScopeGroup, groupScopeID(req.GroupID), nil, r.cfg.RoomHistoryDefaultLimit)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to fetch group history")
	}

	entries := make([]wire.GroupMessageData, len(msgs))
	for i, m := range msgs {
		entries[i] = wire.GroupMessageData{
			GroupID:   req.GroupID,
			Username:  m.AuthorUsername,
			MessageID: m.ID.String(),
			Message:   m.Content,
			Cipher:    m.Cipher,
			Timestamp: m.CreatedAt.Unix(),
		}
	}
	return wire.EventGroupHistory, wire.GroupHistoryData{GroupID: req.GroupID, Messages: entries}, nil
}

func (r *Router) handleGetGroupMembers(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.GroupMessageData](data)
	if err != nil {
		return "", nil, err
	}
	if _, _, err := r.groupMembership(ctx, req.GroupID, userID); err != nil {
		return "", nil, err
	}
	members, err := r.groups.ListMembers(ctx, req.GroupID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to list group members")
	}
	return wire.EventGroupRoster, wire.GroupRosterData{GroupID: req.GroupID, Members: groupUsernamesOf(members)}, nil
}
