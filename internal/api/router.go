// Package api wires the Entry Surfaces layer (spec §4 Entry Surfaces): the concrete gateway.Router implementation
// that dispatches realtime events to the Room Policy Engine, Ciphertext Relay, WebRTC Signaling Relay, friend
// graph, and presence, plus the HTTP handlers exposing the same domain operations over REST.
package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/config"
	"github.com/echochat/echochat-server/internal/friend"
	"github.com/echochat/echochat-server/internal/gateway"
	"github.com/echochat/echochat-server/internal/governor"
	"github.com/echochat/echochat-server/internal/group"
	"github.com/echochat/echochat-server/internal/presence"
	"github.com/echochat/echochat-server/internal/relay"
	"github.com/echochat/echochat-server/internal/room"
	"github.com/echochat/echochat-server/internal/signaling"
	"github.com/echochat/echochat-server/internal/user"
	"github.com/echochat/echochat-server/internal/wire"
)

// Router implements gateway.Router, the realtime dispatch table that backs every client→server event in §6.
type Router struct {
	cfg *config.Config
	log zerolog.Logger

	users   user.Repository
	rooms   room.Repository
	groups  group.Repository
	relay   relay.Repository
	friends friend.Repository

	presence *presence.Store

	autoscaler  *room.Autoscaler
	dmCalls     *signaling.DmCallRegistry
	voiceRoster *signaling.VoiceRosterRegistry
	p2pTransfer *signaling.P2PTransferRegistry

	events   *governor.EventLimiter
	slowmode *governor.Slowmode
	content  *governor.ContentHeuristics

	publisher *gateway.Publisher
}

// Deps groups the Router's constructor dependencies.
type Deps struct {
	Cfg *config.Config
	Log zerolog.Logger

	Users   user.Repository
	Rooms   room.Repository
	Groups  group.Repository
	Relay   relay.Repository
	Friends friend.Repository

	Presence *presence.Store

	Events   *governor.EventLimiter
	Slowmode *governor.Slowmode
	Content  *governor.ContentHeuristics

	Publisher *gateway.Publisher
}

// NewRouter wires every domain package into a single gateway.Router implementation.
func NewRouter(deps Deps) *Router {
	return &Router{
		cfg:         deps.Cfg,
		log:         deps.Log.With().Str("component", "router").Logger(),
		users:       deps.Users,
		rooms:       deps.Rooms,
		groups:      deps.Groups,
		relay:       deps.Relay,
		friends:     deps.Friends,
		presence:    deps.Presence,
		autoscaler:  room.NewAutoscaler(deps.Rooms, deps.Cfg.RoomCapacity, deps.Cfg.MaxSubrooms),
		dmCalls:     signaling.NewDmCallRegistry(nil),
		voiceRoster: signaling.NewVoiceRosterRegistry(),
		p2pTransfer: signaling.NewP2PTransferRegistry(deps.Cfg.P2PHandshakeTimeout, deps.Cfg.P2PTransferTimeout, nil),
		events:      deps.Events,
		slowmode:    deps.Slowmode,
		content:     deps.Content,
		publisher:   deps.Publisher,
	}
}

var _ gateway.Router = (*Router)(nil)

// Route implements gateway.Router, dispatching to the handler registered for event.
func (r *Router) Route(ctx context.Context, userID uuid.UUID, event wire.DispatchEvent, data json.RawMessage) (wire.DispatchEvent, any, error) {
	handler, ok := dispatchTable[event]
	if !ok {
		return "", nil, apierrors.New(apierrors.BadInput, fmt.Sprintf("unknown event %q", event))
	}
	return handler(r, ctx, userID, data)
}

type handlerFunc func(r *Router, ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error)

var dispatchTable = map[wire.DispatchEvent]handlerFunc{
	wire.EventJoin:                (*Router).handleJoin,
	wire.EventLeave:               (*Router).handleLeave,
	wire.EventSendMessage:         (*Router).handleSendMessage,
	wire.EventSendDirectMessage:   (*Router).handleSendDirectMessage,
	wire.EventReactToMessage:      (*Router).handleReactToMessage,
	wire.EventFetchOfflinePMs:     (*Router).handleFetchOfflinePMs,
	wire.EventGetMissedPMSummary:  (*Router).handleGetMissedPMSummary,
	wire.EventGetRooms:            (*Router).handleGetRooms,
	wire.EventGetUsersInRoom:      (*Router).handleGetUsersInRoom,
	wire.EventGetRoomCounts:       (*Router).handleGetRoomCounts,
	wire.EventGetFriends:          (*Router).handleGetFriends,
	wire.EventSendFriendRequest:   (*Router).handleSendFriendRequest,
	wire.EventAcceptFriendRequest: (*Router).handleAcceptFriendRequest,
	wire.EventRejectFriendRequest: (*Router).handleRejectFriendRequest,
	wire.EventBlockUser:           (*Router).handleBlockUser,
	wire.EventUnblockUser:         (*Router).handleUnblockUser,
	wire.EventSetMyPresence:       (*Router).handleSetMyPresence,
	wire.EventGetMyPresence:       (*Router).handleGetMyPresence,
	wire.EventGetFriendPresence:   (*Router).handleGetFriendPresence,
	wire.EventGetUserProfile:      (*Router).handleGetUserProfile,
	wire.EventGroupMessage:        (*Router).handleGroupMessage,
	wire.EventJoinGroupChat:       (*Router).handleJoinGroupChat,
	wire.EventGetGroupHistory:     (*Router).handleGetGroupHistory,
	wire.EventGetGroupMembers:     (*Router).handleGetGroupMembers,
	wire.EventVoiceDMInvite:       (*Router).handleVoiceDMInvite,
	wire.EventVoiceDMAccept:       (*Router).handleVoiceDMAccept,
	wire.EventVoiceDMDecline:      (*Router).handleVoiceDMDecline,
	wire.EventVoiceDMOffer:        (*Router).handleVoiceDMOffer,
	wire.EventVoiceDMAnswer:       (*Router).handleVoiceDMAnswer,
	wire.EventVoiceDMIce:          (*Router).handleVoiceDMIce,
	wire.EventVoiceDMEnd:          (*Router).handleVoiceDMEnd,
	wire.EventVoiceRoomJoin:       (*Router).handleVoiceRoomJoin,
	wire.EventVoiceRoomLeave:      (*Router).handleVoiceRoomLeave,
	wire.EventVoiceRoomOffer:      (*Router).handleVoiceRoomOffer,
	wire.EventVoiceRoomAnswer:     (*Router).handleVoiceRoomAnswer,
	wire.EventVoiceRoomIce:        (*Router).handleVoiceRoomIce,
	wire.EventP2PFileOffer:        (*Router).handleP2PFileOffer,
	wire.EventP2PFileAnswer:       (*Router).handleP2PFileAnswer,
	wire.EventP2PFileDecline:      (*Router).handleP2PFileDecline,
	wire.EventP2PFileIce:          (*Router).handleP2PFileIce,
}

// decode unmarshals data into a fresh T, wrapping JSON errors as BadInput.
func decode[T any](data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, apierrors.New(apierrors.BadInput, "malformed event payload")
	}
	return v, nil
}

// username looks up a user's current username by ID.
func (r *Router) username(ctx context.Context, id uuid.UUID) (string, error) {
	u, err := r.users.GetByID(ctx, id)
	if err != nil {
		return "", apierrors.New(apierrors.NotFound, "user not found")
	}
	return u.Username, nil
}

// resolveUsername looks up a user by username, mapping user.ErrNotFound to apierrors.NotFound.
func (r *Router) resolveUsername(ctx context.Context, username string) (*user.User, error) {
	creds, err := r.users.GetByUsername(ctx, username)
	if err != nil {
		return nil, apierrors.New(apierrors.NotFound, "user not found")
	}
	return &creds.User, nil
}

func (r *Router) publishTo(ctx context.Context, recipients []uuid.UUID, event wire.DispatchEvent, payload any) {
	if err := r.publisher.PublishTo(ctx, recipients, event, payload); err != nil {
		r.log.Error().Err(err).Str("event", string(event)).Msg("failed to publish gateway event")
	}
}
