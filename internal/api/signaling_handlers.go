package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"

	"github.com/echochat/echochat-server/internal/apierrors"
	"github.com/echochat/echochat-server/internal/governor"
	"github.com/echochat/echochat-server/internal/signaling"
	"github.com/echochat/echochat-server/internal/wire"
)

func classifyCallError(err error) error {
	switch {
	case errors.Is(err, signaling.ErrCallNotFound):
		return apierrors.New(apierrors.NotFound, "call not found")
	case errors.Is(err, signaling.ErrInvalidTransition):
		return apierrors.New(apierrors.CallStateError, "call is not in a state that allows this action")
	default:
		return apierrors.New(apierrors.Internal, "call signaling failed")
	}
}

func (r *Router) handleVoiceDMInvite(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.VoiceDMInviteData](data)
	if err != nil {
		return "", nil, err
	}
	peer, err := r.resolveUsername(ctx, req.Peer)
	if err != nil {
		return "", nil, err
	}
	if err := r.events.Allow(ctx, governor.RuleVoiceInvite, userID); err != nil {
		return "", nil, apierrors.New(apierrors.RateLimited, "too many voice invites")
	}

	call := r.dmCalls.Invite(userID, peer.ID)
	callerName, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	r.publishTo(ctx, []uuid.UUID{peer.ID}, wire.EventVoiceDMInvite, wire.VoiceDMInviteData{
		CallID: call.ID.String(),
		Peer:   callerName,
	})
	return wire.EventVoiceDMInvite, wire.VoiceDMInviteData{CallID: call.ID.String(), Peer: peer.Username}, nil
}

func (r *Router) parseCallID(data json.RawMessage) (uuid.UUID, string, error) {
	req, err := decode[wire.VoiceDMInviteData](data)
	if err != nil {
		return uuid.Nil, "", err
	}
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return uuid.Nil, "", apierrors.New(apierrors.BadInput, "invalid call id")
	}
	return callID, req.CallID, nil
}

func (r *Router) otherDMParty(call *signaling.DmCall, userID uuid.UUID) uuid.UUID {
	if call.CallerID == userID {
		return call.CalleeID
	}
	return call.CallerID
}

func (r *Router) handleVoiceDMAccept(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	callID, raw, err := r.parseCallID(data)
	if err != nil {
		return "", nil, err
	}
	call, err := r.dmCalls.Accept(callID, userID)
	if err != nil {
		return "", nil, classifyCallError(err)
	}
	r.publishTo(ctx, []uuid.UUID{r.otherDMParty(call, userID)}, wire.EventVoiceDMAccept, wire.VoiceDMInviteData{CallID: raw})
	return "", nil, nil
}

func (r *Router) handleVoiceDMDecline(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.VoiceDMEndData](data)
	if err != nil {
		return "", nil, err
	}
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, "invalid call id")
	}
	call, err := r.dmCalls.Decline(callID, userID)
	if err != nil {
		return "", nil, classifyCallError(err)
	}
	r.publishTo(ctx, []uuid.UUID{r.otherDMParty(call, userID)}, wire.EventVoiceDMDecline, wire.VoiceDMEndData{
		CallID: req.CallID,
		Reason: req.Reason,
	})
	return "", nil, nil
}

func (r *Router) handleVoiceDMOffer(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.VoiceDMSDPData](data)
	if err != nil {
		return "", nil, err
	}
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, "invalid call id")
	}
	call, err := r.dmCalls.Offer(callID, userID)
	if err != nil {
		return "", nil, classifyCallError(err)
	}
	r.publishTo(ctx, []uuid.UUID{r.otherDMParty(call, userID)}, wire.EventVoiceDMOffer, req)
	return "", nil, nil
}

func (r *Router) handleVoiceDMAnswer(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.VoiceDMSDPData](data)
	if err != nil {
		return "", nil, err
	}
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, "invalid call id")
	}
	call, err := r.dmCalls.Answer(callID, userID)
	if err != nil {
		return "", nil, classifyCallError(err)
	}
	r.publishTo(ctx, []uuid.UUID{r.otherDMParty(call, userID)}, wire.EventVoiceDMAnswer, req)
	return "", nil, nil
}

func (r *Router) handleVoiceDMIce(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.VoiceDMIceData](data)
	if err != nil {
		return "", nil, err
	}
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, "invalid call id")
	}
	call, err := r.dmCalls.ICE(callID, userID)
	if err != nil {
		return "", nil, classifyCallError(err)
	}
	r.publishTo(ctx, []uuid.UUID{r.otherDMParty(call, userID)}, wire.EventVoiceDMIce, req)
	return "", nil, nil
}

func (r *Router) handleVoiceDMEnd(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.VoiceDMEndData](data)
	if err != nil {
		return "", nil, err
	}
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, "invalid call id")
	}
	call, err := r.dmCalls.End(callID, userID)
	if err != nil {
		return "", nil, classifyCallError(err)
	}
	r.publishTo(ctx, []uuid.UUID{r.otherDMParty(call, userID)}, wire.EventVoiceDMEnd, req)
	return "", nil, nil
}

// voiceCap resolves a room's configured voice capacity: rooms have no dedicated voice-cap column, so the
// fleet-wide VoiceRoomDefaultCap applies uniformly (0 = unbounded).
func (r *Router) voiceCap() int {
	return r.cfg.VoiceRoomDefaultCap
}

func (r *Router) handleVoiceRoomJoin(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.VoiceRoomJoinData](data)
	if err != nil {
		return "", nil, err
	}
	if _, _, err := r.roomMembership(ctx, req.Room, userID); err != nil {
		return "", nil, err
	}
	uname, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	members, limit, err := r.voiceRoster.Join(req.Room, r.voiceCap(), signaling.VoiceMember{UserID: uname})
	if err != nil {
		return "", nil, apierrors.New(apierrors.CapReached, "voice room is at capacity")
	}

	names := voiceUsernames(members)
	roster := wire.VoiceRoomRosterData{Room: req.Room, Users: names, Limit: limit}

	otherIDs, err := r.usernamesToIDs(ctx, namesExcluding(names, uname))
	if err == nil {
		r.publishTo(ctx, otherIDs, wire.EventVoiceRoomUserJoined, wire.VoiceRoomUserLeftData{Room: req.Room, User: uname})
	}
	return wire.EventVoiceRoomUserJoined, roster, nil
}

func voiceUsernames(members []signaling.VoiceMember) []string {
	names := make([]string, len(members))
	for i, m := range members {
		names[i] = m.UserID
	}
	return names
}

func namesExcluding(names []string, exclude string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n != exclude {
			out = append(out, n)
		}
	}
	return out
}

func (r *Router) usernamesToIDs(ctx context.Context, usernames []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(usernames))
	for _, n := range usernames {
		u, err := r.resolveUsername(ctx, n)
		if err != nil {
			continue
		}
		ids = append(ids, u.ID)
	}
	return ids, nil
}

func (r *Router) handleVoiceRoomLeave(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.VoiceRoomJoinData](data)
	if err != nil {
		return "", nil, err
	}
	uname, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	remaining := r.voiceRoster.Leave(req.Room, uname)
	names := voiceUsernames(remaining)
	otherIDs, _ := r.usernamesToIDs(ctx, names)
	r.publishTo(ctx, otherIDs, wire.EventVoiceRoomUserLeft, wire.VoiceRoomUserLeftData{Room: req.Room, User: uname})
	return "", nil, nil
}

func (r *Router) handleVoiceRoomOffer(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	return r.relayVoiceRoomSDP(ctx, userID, data, wire.EventVoiceRoomOffer)
}

func (r *Router) handleVoiceRoomAnswer(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	return r.relayVoiceRoomSDP(ctx, userID, data, wire.EventVoiceRoomAnswer)
}

func (r *Router) relayVoiceRoomSDP(ctx context.Context, userID uuid.UUID, data json.RawMessage, event wire.DispatchEvent) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.VoiceRoomSDPData](data)
	if err != nil {
		return "", nil, err
	}
	fromName, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if !r.voiceRoster.InRoster(req.Room, req.To) || !r.voiceRoster.InRoster(req.Room, fromName) {
		return "", nil, apierrors.New(apierrors.PeerGone, "peer is not in the voice room roster")
	}
	to, err := r.resolveUsername(ctx, req.To)
	if err != nil {
		return "", nil, err
	}
	req.From = fromName
	r.publishTo(ctx, []uuid.UUID{to.ID}, event, req)
	return "", nil, nil
}

func (r *Router) handleVoiceRoomIce(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.VoiceRoomIceData](data)
	if err != nil {
		return "", nil, err
	}
	if err := r.events.Allow(ctx, governor.RuleP2PSignal, userID); err != nil {
		return "", nil, apierrors.New(apierrors.RateLimited, "too many signaling messages")
	}
	fromName, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if !r.voiceRoster.InRoster(req.Room, req.To) {
		return "", nil, apierrors.New(apierrors.PeerGone, "peer is not in the voice room roster")
	}
	to, err := r.resolveUsername(ctx, req.To)
	if err != nil {
		return "", nil, err
	}
	req.From = fromName
	r.publishTo(ctx, []uuid.UUID{to.ID}, wire.EventVoiceRoomIce, req)
	return "", nil, nil
}

func classifyTransferError(err error) error {
	switch {
	case errors.Is(err, signaling.ErrTransferNotFound):
		return apierrors.New(apierrors.NotFound, "transfer not found")
	case errors.Is(err, signaling.ErrInvalidTransition):
		return apierrors.New(apierrors.CallStateError, "transfer is not in a state that allows this action")
	default:
		return apierrors.New(apierrors.Internal, "p2p transfer signaling failed")
	}
}

func (r *Router) handleP2PFileOffer(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.P2PFileOfferData](data)
	if err != nil {
		return "", nil, err
	}
	to, err := r.resolveUsername(ctx, req.To)
	if err != nil {
		return "", nil, err
	}
	if err := r.events.Allow(ctx, governor.RuleP2PSignal, userID); err != nil {
		return "", nil, apierrors.New(apierrors.RateLimited, "too many signaling messages")
	}
	fromName, err := r.username(ctx, userID)
	if err != nil {
		return "", nil, err
	}

	t := r.p2pTransfer.Offer(userID, to.ID)
	req.TransferID = t.ID.String()
	req.From = fromName
	r.publishTo(ctx, []uuid.UUID{to.ID}, wire.EventP2PFileOffer, req)
	return wire.EventP2PFileOffer, req, nil
}

func (r *Router) otherTransferParty(t *signaling.P2PTransfer, userID uuid.UUID) uuid.UUID {
	if t.SenderID == userID {
		return t.ReceiverID
	}
	return t.SenderID
}

func (r *Router) handleP2PFileAnswer(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.P2PFileAnswerData](data)
	if err != nil {
		return "", nil, err
	}
	transferID, err := uuid.Parse(req.TransferID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, "invalid transfer id")
	}
	t, err := r.p2pTransfer.Answer(transferID, userID)
	if err != nil {
		return "", nil, classifyTransferError(err)
	}
	r.publishTo(ctx, []uuid.UUID{r.otherTransferParty(t, userID)}, wire.EventP2PFileAnswer, req)
	return "", nil, nil
}

func (r *Router) handleP2PFileDecline(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.P2PFileDeclineData](data)
	if err != nil {
		return "", nil, err
	}
	transferID, err := uuid.Parse(req.TransferID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, "invalid transfer id")
	}
	t, err := r.p2pTransfer.Decline(transferID, userID)
	if err != nil {
		return "", nil, classifyTransferError(err)
	}
	r.publishTo(ctx, []uuid.UUID{r.otherTransferParty(t, userID)}, wire.EventP2PFileDecline, req)
	return "", nil, nil
}

func (r *Router) handleP2PFileIce(ctx context.Context, userID uuid.UUID, data json.RawMessage) (wire.DispatchEvent, any, error) {
	req, err := decode[wire.P2PFileIceData](data)
	if err != nil {
		return "", nil, err
	}
	transferID, err := uuid.Parse(req.TransferID)
	if err != nil {
		return "", nil, apierrors.New(apierrors.BadInput, "invalid transfer id")
	}
	if err := r.events.Allow(ctx, governor.RuleP2PSignal, userID); err != nil {
		return "", nil, apierrors.New(apierrors.RateLimited, "too many signaling messages")
	}
	t, err := r.p2pTransfer.ICE(transferID, userID)
	if err != nil {
		return "", nil, classifyTransferError(err)
	}
	r.publishTo(ctx, []uuid.UUID{r.otherTransferParty(t, userID)}, wire.EventP2PFileIce, req)
	return "", nil, nil
}

// SweepExpiredTransfers fails every P2P file transfer past its handshake or overall timeout and notifies both
// endpoints with a synthetic decline so neither side is left waiting on a handshake that will never complete.
// Intended to run on a periodic background ticker.
func (r *Router) SweepExpiredTransfers() {
	ctx := context.Background()
	for _, t := range r.p2pTransfer.SweepExpired() {
		payload := wire.P2PFileDeclineData{TransferID: t.ID.String(), Reason: "timed_out"}
		r.publishTo(ctx, []uuid.UUID{t.SenderID, t.ReceiverID}, wire.EventP2PFileDecline, payload)
	}
}
