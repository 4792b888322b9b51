package signaling

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestDmCallHappyPath(t *testing.T) {
	t.Parallel()

	reg := NewDmCallRegistry(nil)
	caller, callee := uuid.New(), uuid.New()

	call := reg.Invite(caller, callee)
	if call.State != CallRinging {
		t.Fatalf("Invite() state = %v, want Ringing", call.State)
	}

	call, err := reg.Accept(call.ID, callee)
	if err != nil || call.State != CallAccepted {
		t.Fatalf("Accept() = (%v, %v), want Accepted, nil", call, err)
	}

	call, err = reg.Offer(call.ID, caller)
	if err != nil || call.State != CallAccepted {
		t.Fatalf("Offer() = (%v, %v), want Accepted, nil", call, err)
	}

	call, err = reg.Answer(call.ID, callee)
	if err != nil || call.State != CallActive {
		t.Fatalf("Answer() = (%v, %v), want Active, nil", call, err)
	}

	call, err = reg.ICE(call.ID, caller)
	if err != nil || call.State != CallActive {
		t.Fatalf("ICE() = (%v, %v), want Active, nil", call, err)
	}

	call, err = reg.End(call.ID, callee)
	if err != nil || call.State != CallEnded {
		t.Fatalf("End() = (%v, %v), want Ended, nil", call, err)
	}
}

func TestDmCallInvalidTransitions(t *testing.T) {
	t.Parallel()

	reg := NewDmCallRegistry(nil)
	caller, callee := uuid.New(), uuid.New()
	call := reg.Invite(caller, callee)

	if _, err := reg.Accept(call.ID, caller); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("caller accepting own call: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := reg.Answer(call.ID, callee); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("answer before accept: err = %v, want ErrInvalidTransition", err)
	}
}

func TestDmCallDeclineEndsWithoutSideEffects(t *testing.T) {
	t.Parallel()

	reg := NewDmCallRegistry(nil)
	caller, callee := uuid.New(), uuid.New()
	call := reg.Invite(caller, callee)

	call, err := reg.Decline(call.ID, callee)
	if err != nil || call.State != CallEnded {
		t.Fatalf("Decline() = (%v, %v), want Ended, nil", call, err)
	}
	if _, err := reg.End(call.ID, caller); !errors.Is(err, ErrCallNotFound) {
		t.Errorf("End() after decline: err = %v, want ErrCallNotFound (already removed)", err)
	}
}

func TestDmCallEndByDisconnectNotifiesCounterpart(t *testing.T) {
	t.Parallel()

	reg := NewDmCallRegistry(nil)
	caller, callee := uuid.New(), uuid.New()
	reg.Invite(caller, callee)

	_, counterpart, err := reg.EndByDisconnect(caller)
	if err != nil {
		t.Fatalf("EndByDisconnect() error = %v", err)
	}
	if counterpart != callee {
		t.Errorf("EndByDisconnect() counterpart = %v, want callee", counterpart)
	}
}

func TestVoiceRosterJoinRejectsAtCapacity(t *testing.T) {
	t.Parallel()

	reg := NewVoiceRosterRegistry()
	_, _, err := reg.Join("lobby", 1, VoiceMember{UserID: "alice"})
	if err != nil {
		t.Fatalf("first join error = %v", err)
	}
	_, limit, err := reg.Join("lobby", 1, VoiceMember{UserID: "bob"})
	if !errors.Is(err, ErrCapReached) {
		t.Fatalf("second join error = %v, want ErrCapReached", err)
	}
	if limit != 1 {
		t.Errorf("limit = %d, want 1", limit)
	}
}

func TestVoiceRosterUnboundedWhenCapZero(t *testing.T) {
	t.Parallel()

	reg := NewVoiceRosterRegistry()
	for i := 0; i < 50; i++ {
		if _, _, err := reg.Join("lobby", 0, VoiceMember{UserID: uuid.NewString()}); err != nil {
			t.Fatalf("join %d error = %v", i, err)
		}
	}
}

func TestVoiceRosterLeaveRemovesMember(t *testing.T) {
	t.Parallel()

	reg := NewVoiceRosterRegistry()
	reg.Join("lobby", 0, VoiceMember{UserID: "alice"})
	reg.Join("lobby", 0, VoiceMember{UserID: "bob"})

	reg.Leave("lobby", "alice")
	if reg.InRoster("lobby", "alice") {
		t.Error("alice still in roster after Leave")
	}
	if !reg.InRoster("lobby", "bob") {
		t.Error("bob missing from roster after unrelated Leave")
	}
}

func TestShouldInitiateLexicographicTiebreaker(t *testing.T) {
	t.Parallel()

	if !ShouldInitiate("alice", "bob") {
		t.Error("ShouldInitiate(alice, bob) = false, want true")
	}
	if ShouldInitiate("bob", "alice") {
		t.Error("ShouldInitiate(bob, alice) = true, want false")
	}
}

func TestReduceCapacityEvictsToNewCap(t *testing.T) {
	t.Parallel()

	reg := NewVoiceRosterRegistry()
	for _, u := range []string{"a", "b", "c", "d", "e"} {
		reg.Join("lobby", 0, VoiceMember{UserID: u})
	}

	evicted, err := reg.ReduceCapacity("lobby", 2)
	if err != nil {
		t.Fatalf("ReduceCapacity() error = %v", err)
	}
	if len(evicted) != 3 {
		t.Fatalf("evicted %d members, want 3", len(evicted))
	}
	if remaining := reg.Members("lobby"); len(remaining) != 2 {
		t.Errorf("remaining roster size = %d, want 2", len(remaining))
	}
}

func TestP2PTransferHappyPath(t *testing.T) {
	t.Parallel()

	reg := NewP2PTransferRegistry(time.Minute, time.Hour, nil)
	sender, receiver := uuid.New(), uuid.New()

	tr := reg.Offer(sender, receiver)
	if tr.State != TransferOffered {
		t.Fatalf("Offer() state = %v, want Offered", tr.State)
	}

	tr, err := reg.Answer(tr.ID, receiver)
	if err != nil || tr.State != TransferAnswered {
		t.Fatalf("Answer() = (%v, %v), want Answered, nil", tr, err)
	}

	tr, err = reg.ICE(tr.ID, sender)
	if err != nil || tr.State != TransferActive {
		t.Fatalf("ICE() = (%v, %v), want Active, nil", tr, err)
	}

	tr, err = reg.Complete(tr.ID, receiver)
	if err != nil || tr.State != TransferDone {
		t.Fatalf("Complete() = (%v, %v), want Done, nil", tr, err)
	}
}

func TestP2PTransferSweepExpiredFailsHandshakeTimeout(t *testing.T) {
	t.Parallel()

	now := time.Now()
	clock := &now
	reg := NewP2PTransferRegistry(time.Minute, time.Hour, func() time.Time { return *clock })

	reg.Offer(uuid.New(), uuid.New())
	*clock = clock.Add(2 * time.Minute)

	expired := reg.SweepExpired()
	if len(expired) != 1 {
		t.Fatalf("SweepExpired() returned %d, want 1", len(expired))
	}
	if expired[0].State != TransferFailed {
		t.Errorf("expired transfer state = %v, want Failed", expired[0].State)
	}
}
