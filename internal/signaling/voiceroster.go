package signaling

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sort"
	"sync"
)

// ErrCapReached is returned by Join when the room's voice roster is already at its configured cap.
var ErrCapReached = errors.New("voice room is at capacity")

// ErrNotInRoster is returned when an SDP/ICE relay names a peer not currently present in the room.
var ErrNotInRoster = errors.New("peer is not in the voice room roster")

// VoiceMember is one occupant of a room voice roster.
type VoiceMember struct {
	UserID       string // opaque identity key, username in practice
	ConnectionID string
}

// VoiceRoom tracks the occupants of one room's voice channel.
type VoiceRoom struct {
	mu      sync.Mutex
	members []VoiceMember
	cap     int // 0 means unbounded, per spec §3 RoomVoiceRoster invariant
}

// VoiceRosterRegistry holds one VoiceRoom per room name.
type VoiceRosterRegistry struct {
	mu    sync.Mutex
	rooms map[string]*VoiceRoom
}

// NewVoiceRosterRegistry constructs an empty registry.
func NewVoiceRosterRegistry() *VoiceRosterRegistry {
	return &VoiceRosterRegistry{rooms: make(map[string]*VoiceRoom)}
}

func (reg *VoiceRosterRegistry) room(name string, cap int) *VoiceRoom {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	r, ok := reg.rooms[name]
	if !ok {
		r = &VoiceRoom{cap: cap}
		reg.rooms[name] = r
	}
	return r
}

// Join adds a member to the named room's roster, rejecting with ErrCapReached if full. Returns the roster's
// current member list (post-join) and its cap, matching the {users, limit} response shape.
func (reg *VoiceRosterRegistry) Join(roomName string, cap int, member VoiceMember) ([]VoiceMember, int, error) {
	r := reg.room(roomName, cap)
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cap > 0 && len(r.members) >= r.cap {
		return snapshot(r.members), r.cap, ErrCapReached
	}
	r.members = append(r.members, member)
	return snapshot(r.members), r.cap, nil
}

// Leave removes a member from the named room's roster. A no-op if the member isn't present.
func (reg *VoiceRosterRegistry) Leave(roomName string, userID string) []VoiceMember {
	reg.mu.Lock()
	r, ok := reg.rooms[roomName]
	reg.mu.Unlock()
	if !ok {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, m := range r.members {
		if m.UserID == userID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}
	return snapshot(r.members)
}

// Members returns the current roster of a room.
func (reg *VoiceRosterRegistry) Members(roomName string) []VoiceMember {
	reg.mu.Lock()
	r, ok := reg.rooms[roomName]
	reg.mu.Unlock()
	if !ok {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshot(r.members)
}

// InRoster reports whether userID currently occupies the room's voice roster.
func (reg *VoiceRosterRegistry) InRoster(roomName, userID string) bool {
	for _, m := range reg.Members(roomName) {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// ShouldInitiate implements the lexicographic initiator tiebreaker: exactly one of two peers creates the SDP
// offer, avoiding glare in full-mesh negotiation (spec §4.4).
func ShouldInitiate(self, peer string) bool {
	return self < peer
}

// ReduceCapacity lowers a room's cap, and if the roster now exceeds it, evicts roster.size-cap members chosen
// uniformly at random, returning the evicted members for the caller to notify with voice_room_forced_leave.
func (reg *VoiceRosterRegistry) ReduceCapacity(roomName string, newCap int) ([]VoiceMember, error) {
	reg.mu.Lock()
	r, ok := reg.rooms[roomName]
	reg.mu.Unlock()
	if !ok {
		r = reg.room(roomName, newCap)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cap = newCap

	if newCap <= 0 || len(r.members) <= newCap {
		return nil, nil
	}

	evictCount := len(r.members) - newCap
	shuffled := append([]VoiceMember(nil), r.members...)
	for i := len(shuffled) - 1; i > 0; i-- {
		j, err := randIntn(i + 1)
		if err != nil {
			return nil, err
		}
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}

	evicted := shuffled[:evictCount]
	kept := shuffled[evictCount:]
	evictedSet := make(map[string]bool, len(evicted))
	for _, m := range evicted {
		evictedSet[m.UserID] = true
	}
	r.members = kept
	return evicted, nil
}

func randIntn(n int) (int, error) {
	max := big.NewInt(int64(n))
	v, err := rand.Int(rand.Reader, max)
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}

func snapshot(members []VoiceMember) []VoiceMember {
	if len(members) == 0 {
		return nil
	}
	out := append([]VoiceMember(nil), members...)
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
