// Package room owns multiplayer lobbies: creation, joining, rosters and
// lifecycle. The room state is the single shared mutable resource of the
// protocol; everything here is serialized behind the room mutex and clients
// only ever see read-only snapshots.
package room

import (
	"sync"

	"github.com/nqdang/qbattle/internal/domain"
	"github.com/nqdang/qbattle/internal/errors"
)

// Room is one lobby. Exactly one host at a time; host privilege does not
// transfer when the host disconnects.
type Room struct {
	ID   string
	Code string
	Name string
	Mode domain.Mode

	mu           sync.RWMutex
	status       domain.RoomStatus
	hostID       string
	participants []*domain.Participant
	maxPlayers   int
}

// Status returns the current lifecycle state.
func (r *Room) Status() domain.RoomStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// SetStatus moves the room to s.
func (r *Room) SetStatus(s domain.RoomStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = s
}

// HostID returns the user id of the room's host.
func (r *Room) HostID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID
}

// IsHost reports whether userID holds the host privilege. Client-side gating
// is a UX convenience only; every host-only command goes through this.
func (r *Room) IsHost(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return userID == r.hostID
}

// Join adds p to the roster, or refreshes the connection state of an already
// joined participant (rejoin after a drop is idempotent).
func (r *Room) Join(p domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findLocked(p.UserID); existing != nil {
		existing.Disconnected = false
		existing.Username = p.Username
		if p.FullName != "" {
			existing.FullName = p.FullName
		}
		return nil
	}

	if r.status != domain.RoomWaiting {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("room %s already started or finished", r.Code))
	}

	if r.maxPlayers > 0 && len(r.participants) >= r.maxPlayers {
		return errors.New(errors.CodeResourceExhausted,
			errors.WithMessagef("room %s is full", r.Code))
	}

	p.IsHost = p.UserID == r.hostID
	r.participants = append(r.participants, &p)
	return nil
}

// MarkDisconnected flags the participant and reports whether everyone in the
// room is now disconnected.
func (r *Room) MarkDisconnected(userID string) (p domain.Participant, all bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.findLocked(userID)
	if target == nil {
		return domain.Participant{}, false, false
	}
	target.Disconnected = true

	all = true
	for _, q := range r.participants {
		if !q.Disconnected {
			all = false
			break
		}
	}

	return *target, all, true
}

// Remove drops the participant from the roster entirely (fast-mode behavior:
// a disconnect leaves no ghost entry).
func (r *Room) Remove(userID string) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, p := range r.participants {
		if p.UserID == userID {
			removed := *p
			r.participants = append(r.participants[:i], r.participants[i+1:]...)
			return removed, true
		}
	}

	return domain.Participant{}, false
}

// Get returns a copy of the participant.
func (r *Room) Get(userID string) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if p := r.findLocked(userID); p != nil {
		return *p, true
	}
	return domain.Participant{}, false
}

// Roster returns a full snapshot of the participant list. Receivers replace
// their local view wholesale rather than diffing.
func (r *Room) Roster() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out
}

// Size returns the number of participants, connected or not.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// Update applies fn to the named participant under the room lock.
func (r *Room) Update(userID string, fn func(*domain.Participant)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := r.findLocked(userID)
	if p == nil {
		return false
	}
	fn(p)
	return true
}

// ResetForBattle zeroes every battle-scoped counter. Required because a room
// can be replayed without its participants leaving; stale state must not
// leak into the new battle.
func (r *Room) ResetForBattle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range r.participants {
		p.Score = 0
		p.TimeSpent = 0
		p.CompletionTime = 0
		p.Answered = 0
		p.Finished = false
	}
}

// Each calls fn with a copy of every participant.
func (r *Room) Each(fn func(domain.Participant)) {
	for _, p := range r.Roster() {
		fn(p)
	}
}

func (r *Room) findLocked(userID string) *domain.Participant {
	for _, p := range r.participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}
