package room

import "context"

// Autoscaler picks a landing room for a joiner among a parent room and its overflow sub-rooms, creating a new
// sub-room when every existing one is at capacity (spec §4.5 Autoscaling sub-rooms).
type Autoscaler struct {
	repo     Repository
	capacity int
	maxSubs  int
}

// NewAutoscaler constructs an Autoscaler bounded by per-room capacity and maxSubs, the highest index k a sub-room
// Name(k) may take; the parent counts as (1), so a parent spawns at most maxSubs-1 sub-rooms (ROOM_CAPACITY /
// MAX_SUBROOMS in config).
func NewAutoscaler(repo Repository, capacity, maxSubs int) *Autoscaler {
	return &Autoscaler{repo: repo, capacity: capacity, maxSubs: maxSubs}
}

// Resolve returns the room a joiner should land in for the given parent: the parent itself if it has room, else
// the first sub-room (in Name(2), Name(3), ... order) with free capacity, else a newly created sub-room. Callers
// must serialize calls per parent name (e.g. via a per-room advisory lock or single-flight) since this function
// does not itself guarantee atomicity against a concurrent caller creating the same next sub-room.
func (a *Autoscaler) Resolve(ctx context.Context, parent *Room) (*Room, error) {
	if count, err := a.repo.MemberCount(ctx, parent.ID); err != nil {
		return nil, err
	} else if count < a.capacity {
		return parent, nil
	}

	subs, err := a.repo.ListSubrooms(ctx, parent.ID)
	if err != nil {
		return nil, err
	}
	for _, sub := range subs {
		count, err := a.repo.MemberCount(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		if count < a.capacity {
			return &sub, nil
		}
	}

	if len(subs)+1 >= a.maxSubs {
		return nil, ErrNoCapacity
	}

	nextIndex := len(subs) + 2 // parent is (1), first sub-room is (2)
	created, err := a.repo.Create(ctx, CreateParams{
		Name:              SubroomName(parent.Name, nextIndex),
		Category:          parent.Category,
		Subcategory:       parent.Subcategory,
		Visibility:        parent.Visibility,
		Flag18Plus:        parent.Flag18Plus,
		FlagNSFW:          parent.FlagNSFW,
		CreatorID:         parent.CreatorID,
		AutoscaleParentID: &parent.ID,
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
