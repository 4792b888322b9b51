package api

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/friend"
	"github.com/echochat/echochat-server/internal/governor"
	"github.com/echochat/echochat-server/internal/presence"
	"github.com/echochat/echochat-server/internal/wire"
)

func (r *Router) handleGetFriends(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	friends, err := r.friends.ListFriends(ctx, userID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to list friends")
	}
	entries := make([]wire.FriendRecord, len(friends))
	for i, f := range friends {
		entries[i] = wire.FriendRecord{Username: f.Username, Since: f.Since.Unix()}
	}
	return wire.EventFriendsList, entries, nil
}

func (r *Router) handleSendFriendRequest(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.FriendRequestData](data)
	if err != nil {
		return "", nil, err
	}
	target, err := r.resolveUsername(ctx, req.Username)
	if err != nil {
		return "", nil, err
	}
	if target.ID == userID {
		return "", nil, apierrors.New(apierrors.BadInput, "cannot send a friend request to yourself")
	}
	if err := r.events.Allow(ctx, governor.RuleFriendReq, userID); err != nil {
		return "", nil, apierrors.New(apierrors.RateLimited, "too many friend requests")
	}

	if _, err := r.friends.CreateRequest(ctx, userID, target.ID); err != nil {
		return "", nil, classifyFriendError(err)
	}

	senderName, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	r.publishTo(ctx, []uuid.UUID{target.ID}, wire.EventFriendRequest, wire.FriendRequestData{Username: senderName})
	return "", nil, nil
}

func classifyFriendError(err error) error {
	switch err {
	case friend.ErrAlreadyPending:
		return apierrors.New(apierrors.Conflict, "a pending friend request already exists")
	case friend.ErrAlreadyFriends:
		return apierrors.New(apierrors.Conflict, "already friends")
	case friend.ErrSelfRequest:
		return apierrors.New(apierrors.BadInput, "cannot send a friend request to yourself")
	case friend.ErrBlocked:
		return apierrors.New(apierrors.Forbidden, "one of these users has blocked the other")
	case friend.ErrNotPending, friend.ErrRequestNotFound:
		return apierrors.New(apierrors.NotFound, "friend request not found")
	case friend.ErrNotFriends:
		return apierrors.New(apierrors.NotFound, "not friends")
	default:
		return apierrors.New(apierrors.Internal, "friend graph operation failed")
	}
}

func (r *Router) respondToRequest(ctx context.Context, userID uuid.UUID, data json.RawMessage, accept bool) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.FriendRequestData](data)
	if err != nil {
		return "", nil, err
	}
	requester, err := r.resolveUsername(ctx, req.Username)
	if err != nil {
		return "", nil, err
	}
	if err := r.events.Allow(ctx, governor.RuleFriendAction, userID); err != nil {
		return "", nil, apierrors.New(apierrors.RateLimited, "too many friend actions")
	}

	pending, err := r.friends.GetPendingRequest(ctx, requester.ID, userID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.NotFound, "friend request not found")
	}
	if _, err := r.friends.Respond(ctx, pending.ID, accept); err != nil {
		return "", nil, classifyFriendError(err)
	}

	if accept {
		recipientName, err := r.username(ctx, userID)
		if err != nil {
			return "", nil, err
		}
		r.publishTo(ctx, []uuid.UUID{requester.ID}, wire.EventFriendRequestAccept, wire.FriendRequestData{Username: recipientName})
	}
	return "", nil, nil
}

func (r *Router) handleAcceptFriendRequest(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	return r.respondToRequest(ctx, userID, data, true)
}

func (r *Router) handleRejectFriendRequest(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	return r.respondToRequest(ctx, userID, data, false)
}

func (r *Router) handleBlockUser(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.FriendRequestData](data)
	if err != nil {
		return "", nil, err
	}
	target, err := r.resolveUsername(ctx, req.Username)
	if err != nil {
		return "", nil, err
	}
	if target.ID == userID {
		return "", nil, apierrors.New(apierrors.BadInput, "cannot block yourself")
	}
	if err := r.friends.Block(ctx, userID, target.ID); err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to block user")
	}
	_ = r.friends.RemoveFriend(ctx, userID, target.ID)
	return "", nil, nil
}

func (r *Router) handleUnblockUser(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.FriendRequestData](data)
	if err != nil {
		return "", nil, err
	}
	target, err := r.resolveUsername(ctx, req.Username)
	if err != nil {
		return "", nil, err
	}
	if err := r.friends.Unblock(ctx, userID, target.ID); err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to unblock user")
	}
	return "", nil, nil
}

func (r *Router) handleSetMyPresence(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.SetMyPresenceData](data)
	if err != nil {
		return "", nil, err
	}
	if !presence.ValidStatus(req.Presence) {
		return "", nil, apierrors.New(apierrors.BadInput, "invalid presence status")
	}
	if err := presence.ValidateCustomStatus(req.CustomStatus); err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, err.Error())
	}
	if err := r.presence.Set(ctx, userID, req.Presence, req.CustomStatus); err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to set presence")
	}

	uname, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	friends, err := r.friends.ListFriends(ctx, userID)
	if err == nil {
		state, getErr := r.presence.GetForFriend(ctx, userID)
		if getErr == nil {
			recipients := make([]uuid.UUID, len(friends))
			for i, f := range friends {
				recipients[i] = f.UserID
			}
			r.publishTo(ctx, recipients, wire.EventFriendPresenceUpdate, wire.PresenceData{
				Username:     uname,
				Presence:     state.Status,
				CustomStatus: state.CustomStatus,
				LastSeen:     state.LastSeen,
			})
		}
	}
	return "", nil, nil
}

func (r *Router) handleGetMyPresence(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	state, err := r.presence.Get(ctx, userID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to get presence")
	}
	uname, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	return wire.EventMyPresence, wire.PresenceData{
		Username:     uname,
		Presence:     state.Status,
		CustomStatus: state.CustomStatus,
		LastSeen:     state.LastSeen,
	}, nil
}

func (r *Router) handleGetFriendPresence(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	friends, err := r.friends.ListFriends(ctx, userID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to list friends")
	}
	ids := make([]uuid.UUID, len(friends))
	byID := make(map[uuid.UUID]string, len(friends))
	for i, f := range friends {
		ids[i] = f.UserID
		byID[f.UserID] = f.Username
	}
	states, err := r.presence.GetManyForFriends(ctx, ids)
	if err != nil {
		return "", nil, apierrors.New(apierrors.Internal, "failed to fetch friend presence")
	}
	entries := make([]wire.PresenceData, len(states))
	for i, st := range states {
		entries[i] = wire.PresenceData{
			Username:     byID[st.UserID],
			Presence:     st.Status,
			CustomStatus: st.CustomStatus,
			LastSeen:     st.LastSeen,
		}
	}
	return wire.EventFriendsPresence, entries, nil
}

func (r *Router) handleGetUserProfile(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.FriendRequestData](data)
	if err != nil {
		return "", nil, err
	}
	target, err := r.resolveUsername(ctx, req.Username)
	if err != nil {
		return "", nil, err
	}
	isFriend, err := r.friends.AreFriends(ctx, userID, target.ID)
	if err != nil {
		isFriend = false
	}
	return wire.EventUserProfile, wire.UserProfileData{
		Username:  target.Username,
		CreatedAt: target.CreatedAt.Unix(),
		IsFriend:  isFriend,
	}, nil
}
