// Package signaling implements the WebRTC Signaling Relay (spec §4.4): the DM call state machine, room voice
// roster with capacity enforcement and random eviction, and the P2P file-transfer handshake relay. All state here
// is in-memory and ephemeral — no SDP or ICE payload is ever inspected, only routed between exactly the named
// endpoints, and every state machine lives for the duration of a single call/session.
package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CallState is a DM call's position in the Idle→Ringing→Accepted→Active→Ended machine (spec §4.4).
type CallState string

const (
	CallRinging  CallState = "ringing"
	CallAccepted CallState = "accepted"
	CallActive   CallState = "active"
	CallEnded    CallState = "ended"
)

// ErrInvalidTransition is returned for any DM call event that doesn't apply to the call's current state. Callers
// surface this as apierrors.CallStateError with no side effects.
var ErrInvalidTransition = errors.New("invalid call state transition")

// ErrCallNotFound is returned when an event names a call id the registry has no record of.
var ErrCallNotFound = errors.New("call not found")

// DmCall tracks one in-progress direct voice call between two users.
type DmCall struct {
	ID        uuid.UUID
	CallerID  uuid.UUID
	CalleeID  uuid.UUID
	State     CallState
	CreatedAt time.Time
}

// DmCallRegistry is an in-memory, concurrency-safe table of in-flight DM calls, keyed by call ID and indexed by
// participant for disconnect cleanup. A production deployment behind the Pub/Sub Bridge (§4.2) would additionally
// replicate call state per-worker; a single process is assumed to own a given call's two connections since call
// setup happens over WS events already routed through the Connection Registry.
type DmCallRegistry struct {
	mu       sync.Mutex
	calls    map[uuid.UUID]*DmCall
	byUser   map[uuid.UUID]uuid.UUID // userID -> callID, for disconnect lookups
	now      func() time.Time
}

// NewDmCallRegistry constructs an empty registry. nowFn defaults to time.Now when nil, overridable in tests.
func NewDmCallRegistry(nowFn func() time.Time) *DmCallRegistry {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &DmCallRegistry{
		calls:  make(map[uuid.UUID]*DmCall),
		byUser: make(map[uuid.UUID]uuid.UUID),
		now:    nowFn,
	}
}

// Invite starts a new call in Ringing state from caller to callee.
func (reg *DmCallRegistry) Invite(callerID, calleeID uuid.UUID) *DmCall {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	call := &DmCall{
		ID:        uuid.New(),
		CallerID:  callerID,
		CalleeID:  calleeID,
		State:     CallRinging,
		CreatedAt: reg.now(),
	}
	reg.calls[call.ID] = call
	reg.byUser[callerID] = call.ID
	reg.byUser[calleeID] = call.ID
	return call
}

// Accept transitions Ringing -> Accepted. Only the callee may accept.
func (reg *DmCallRegistry) Accept(callID uuid.UUID, by uuid.UUID) (*DmCall, error) {
	return reg.transition(callID, func(c *DmCall) error {
		if c.State != CallRinging || by != c.CalleeID {
			return ErrInvalidTransition
		}
		c.State = CallAccepted
		return nil
	})
}

// Decline transitions Ringing -> Ended. Only the callee may decline.
func (reg *DmCallRegistry) Decline(callID uuid.UUID, by uuid.UUID) (*DmCall, error) {
	return reg.terminalTransition(callID, func(c *DmCall) error {
		if c.State != CallRinging || by != c.CalleeID {
			return ErrInvalidTransition
		}
		return nil
	})
}

// Offer is a no-op state transition (Accepted -> Accepted) gating the caller's SDP offer relay.
func (reg *DmCallRegistry) Offer(callID uuid.UUID, by uuid.UUID) (*DmCall, error) {
	return reg.transition(callID, func(c *DmCall) error {
		if c.State != CallAccepted || by != c.CallerID {
			return ErrInvalidTransition
		}
		return nil
	})
}

// Answer transitions Accepted -> Active, gating the callee's SDP answer relay.
func (reg *DmCallRegistry) Answer(callID uuid.UUID, by uuid.UUID) (*DmCall, error) {
	return reg.transition(callID, func(c *DmCall) error {
		if c.State != CallAccepted || by != c.CalleeID {
			return ErrInvalidTransition
		}
		c.State = CallActive
		return nil
	})
}

// ICE gates an ICE candidate relay: valid only while the call is Accepted or Active, from either party.
func (reg *DmCallRegistry) ICE(callID uuid.UUID, by uuid.UUID) (*DmCall, error) {
	return reg.transition(callID, func(c *DmCall) error {
		if c.State != CallAccepted && c.State != CallActive {
			return ErrInvalidTransition
		}
		if by != c.CallerID && by != c.CalleeID {
			return ErrInvalidTransition
		}
		return nil
	})
}

// End transitions any non-terminal call to Ended, from either party, and removes it from the registry.
func (reg *DmCallRegistry) End(callID uuid.UUID, by uuid.UUID) (*DmCall, error) {
	return reg.terminalTransition(callID, func(c *DmCall) error {
		if c.State == CallEnded {
			return ErrInvalidTransition
		}
		if by != c.CallerID && by != c.CalleeID {
			return ErrInvalidTransition
		}
		return nil
	})
}

// EndByDisconnect force-ends whatever call the given user is party to, if any, reporting the counterpart so the
// caller can notify them with reason PeerGone. Returns nil, nil if the user has no in-flight call.
func (reg *DmCallRegistry) EndByDisconnect(userID uuid.UUID) (*DmCall, uuid.UUID, error) {
	reg.mu.Lock()
	callID, ok := reg.byUser[userID]
	reg.mu.Unlock()
	if !ok {
		return nil, uuid.Nil, nil
	}

	call, err := reg.terminalTransition(callID, func(c *DmCall) error {
		if c.State == CallEnded {
			return ErrInvalidTransition
		}
		return nil
	})
	if err != nil {
		return nil, uuid.Nil, nil
	}
	counterpart := call.CalleeID
	if userID == call.CalleeID {
		counterpart = call.CallerID
	}
	return call, counterpart, nil
}

func (reg *DmCallRegistry) transition(callID uuid.UUID, fn func(*DmCall) error) (*DmCall, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	call, ok := reg.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	if err := fn(call); err != nil {
		return nil, err
	}
	cp := *call
	return &cp, nil
}

func (reg *DmCallRegistry) terminalTransition(callID uuid.UUID, fn func(*DmCall) error) (*DmCall, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	call, ok := reg.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	if err := fn(call); err != nil {
		return nil, err
	}
	call.State = CallEnded
	cp := *call
	delete(reg.calls, callID)
	delete(reg.byUser, call.CallerID)
	delete(reg.byUser, call.CalleeID)
	return &cp, nil
}
