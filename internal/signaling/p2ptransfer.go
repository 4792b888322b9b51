package signaling

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TransferState is a P2P file transfer's position in the Offered→Answered→Active→Done|Declined|Failed machine.
type TransferState string

const (
	TransferOffered  TransferState = "offered"
	TransferAnswered TransferState = "answered"
	TransferActive   TransferState = "active"
	TransferDone     TransferState = "done"
	TransferDeclined TransferState = "declined"
	TransferFailed   TransferState = "failed"
)

// ErrTransferNotFound is returned when a transfer event names an unknown transfer id.
var ErrTransferNotFound = errors.New("transfer not found")

// P2PTransfer tracks one in-progress peer-to-peer file handshake. Payload bytes never traverse the server; only
// the offer/answer/ice/decline signaling messages do.
type P2PTransfer struct {
	ID         uuid.UUID
	SenderID   uuid.UUID
	ReceiverID uuid.UUID
	State      TransferState
	OfferedAt  time.Time
	AnsweredAt *time.Time
}

func (t TransferState) terminal() bool {
	switch t {
	case TransferDone, TransferDeclined, TransferFailed:
		return true
	default:
		return false
	}
}

// P2PTransferRegistry is an in-memory table of in-flight P2P transfers with handshake and overall timeouts.
type P2PTransferRegistry struct {
	mu               sync.Mutex
	transfers        map[uuid.UUID]*P2PTransfer
	handshakeTimeout time.Duration
	transferTimeout  time.Duration
	now              func() time.Time
}

// NewP2PTransferRegistry constructs a registry with the given handshake and overall transfer timeouts.
func NewP2PTransferRegistry(handshakeTimeout, transferTimeout time.Duration, nowFn func() time.Time) *P2PTransferRegistry {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &P2PTransferRegistry{
		transfers:        make(map[uuid.UUID]*P2PTransfer),
		handshakeTimeout: handshakeTimeout,
		transferTimeout:  transferTimeout,
		now:              nowFn,
	}
}

// Offer registers a new transfer in Offered state.
func (reg *P2PTransferRegistry) Offer(senderID, receiverID uuid.UUID) *P2PTransfer {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	t := &P2PTransfer{
		ID:         uuid.New(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		State:      TransferOffered,
		OfferedAt:  reg.now(),
	}
	reg.transfers[t.ID] = t
	return t
}

// Answer transitions Offered -> Answered. Only the receiver may answer.
func (reg *P2PTransferRegistry) Answer(id uuid.UUID, by uuid.UUID) (*P2PTransfer, error) {
	return reg.transition(id, func(t *P2PTransfer) error {
		if t.State != TransferOffered || by != t.ReceiverID {
			return ErrInvalidTransition
		}
		now := reg.now()
		t.State = TransferAnswered
		t.AnsweredAt = &now
		return nil
	})
}

// Decline transitions Offered -> Declined. Only the receiver may decline.
func (reg *P2PTransferRegistry) Decline(id uuid.UUID, by uuid.UUID) (*P2PTransfer, error) {
	return reg.terminalTransition(id, func(t *P2PTransfer) error {
		if t.State != TransferOffered || by != t.ReceiverID {
			return ErrInvalidTransition
		}
		t.State = TransferDeclined
		return nil
	})
}

// ICE gates an ICE candidate relay: valid for any non-terminal state, from either party.
func (reg *P2PTransferRegistry) ICE(id uuid.UUID, by uuid.UUID) (*P2PTransfer, error) {
	return reg.transition(id, func(t *P2PTransfer) error {
		if t.State.terminal() {
			return ErrInvalidTransition
		}
		if by != t.SenderID && by != t.ReceiverID {
			return ErrInvalidTransition
		}
		if t.State == TransferAnswered {
			t.State = TransferActive
		}
		return nil
	})
}

// Complete transitions Active -> Done.
func (reg *P2PTransferRegistry) Complete(id uuid.UUID, by uuid.UUID) (*P2PTransfer, error) {
	return reg.terminalTransition(id, func(t *P2PTransfer) error {
		if t.State != TransferActive {
			return ErrInvalidTransition
		}
		if by != t.SenderID && by != t.ReceiverID {
			return ErrInvalidTransition
		}
		t.State = TransferDone
		return nil
	})
}

// SweepExpired scans for transfers past their handshake or overall timeout, fails them, and returns the failed
// transfers so the caller can notify both endpoints. Intended to run on a periodic ticker alongside the idle sweep.
func (reg *P2PTransferRegistry) SweepExpired() []P2PTransfer {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	now := reg.now()
	var expired []P2PTransfer
	for id, t := range reg.transfers {
		if t.State.terminal() {
			continue
		}
		handshakeDeadline := t.OfferedAt.Add(reg.handshakeTimeout)
		overallDeadline := t.OfferedAt.Add(reg.transferTimeout)
		timedOut := (t.State == TransferOffered && now.After(handshakeDeadline)) || now.After(overallDeadline)
		if timedOut {
			t.State = TransferFailed
			expired = append(expired, *t)
			delete(reg.transfers, id)
		}
	}
	return expired
}

func (reg *P2PTransferRegistry) transition(id uuid.UUID, fn func(*P2PTransfer) error) (*P2PTransfer, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	t, ok := reg.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	cp := *t
	return &cp, nil
}

func (reg *P2PTransferRegistry) terminalTransition(id uuid.UUID, fn func(*P2PTransfer) error) (*P2PTransfer, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	t, ok := reg.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	if err := fn(t); err != nil {
		return nil, err
	}
	cp := *t
	delete(reg.transfers, id)
	return &cp, nil
}
