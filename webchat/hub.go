package webchat

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Hub is the room registry: it maps room ids to the set of connections
// currently joined to them and fans events out to those sets.
//
// The outer lock only guards the map of rooms. Each room carries its own lock
// which serializes every mutation of its member set with every enumeration of
// it, so traffic in one room never stalls another. A connection's room field
// is kept in lock-step with the member sets: both always change inside the
// same room-scoped critical section.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room
}

type room struct {
	mu sync.Mutex

	id      string
	members map[*Client]struct{}

	// set when the entry has been pruned from the registry; a joiner that
	// still holds a pointer to it must re-resolve the room
	dead bool
}

// NewHub returns an empty registry.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

func (h *Hub) get(roomID string, create bool) *room {
	h.mu.RLock()
	r := h.rooms[roomID]
	h.mu.RUnlock()
	if r != nil || !create {
		return r
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if r = h.rooms[roomID]; r == nil {
		r = &room{id: roomID, members: make(map[*Client]struct{})}
		h.rooms[roomID] = r
	}
	return r
}

// remove drops the registry entry for roomID if it still is r.
func (h *Hub) remove(roomID string, r *room) {
	h.mu.Lock()
	if h.rooms[roomID] == r {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()
}

// Join adds the connection to the room's member set, announces it to the
// existing members and replays the passed in history to the joiner. The caller
// is responsible for having verified the room exists and for leaving any prior
// room first.
func (h *Hub) Join(c *Client, roomID string, history []Message) {
	joined := RoomJoined(roomID, history)
	announce := UserJoined(c.Username)

	for {
		r := h.get(roomID, true)
		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			continue
		}

		for member := range r.members {
			if !member.deliver(announce) {
				r.drop(member)
			}
		}
		r.members[c] = struct{}{}
		c.setRoom(roomID)
		c.deliver(joined)

		r.mu.Unlock()
		logrus.WithField("comp", "hub").WithField("room", roomID).WithField("user", c.Username).Debug("joined room")
		return
	}
}

// Leave removes the connection from its current room, if any, and tells the
// remaining members. Calling it for an unjoined connection is a no-op, so it
// is safe to invoke twice.
func (h *Hub) Leave(c *Client) {
	roomID := c.Room()
	if roomID == "" {
		return
	}

	r := h.get(roomID, false)
	if r == nil {
		c.setRoom("")
		return
	}

	r.mu.Lock()
	if _, ok := r.members[c]; !ok {
		r.mu.Unlock()
		c.setRoom("")
		return
	}
	delete(r.members, c)
	c.setRoom("")

	announce := UserLeft(c.Username)
	for member := range r.members {
		if !member.deliver(announce) {
			r.drop(member)
		}
	}
	empty := len(r.members) == 0
	if empty {
		r.dead = true
	}
	r.mu.Unlock()

	if empty {
		h.remove(roomID, r)
	}
	logrus.WithField("comp", "hub").WithField("room", roomID).WithField("user", c.Username).Debug("left room")
}

// BroadcastToAll delivers the payload to every current member of the room,
// sender included.
func (h *Hub) BroadcastToAll(roomID string, payload []byte) {
	h.fanOut(roomID, payload, nil)
}

// BroadcastToOthers delivers the payload to every current member of the room
// except the originating connection.
func (h *Hub) BroadcastToOthers(sender *Client, roomID string, payload []byte) {
	h.fanOut(roomID, payload, sender)
}

func (h *Hub) fanOut(roomID string, payload []byte, skip *Client) {
	r := h.get(roomID, false)
	if r == nil {
		return
	}

	r.mu.Lock()
	for member := range r.members {
		if member == skip {
			continue
		}
		if !member.deliver(payload) {
			r.drop(member)
		}
	}
	empty := len(r.members) == 0
	if empty {
		r.dead = true
	}
	r.mu.Unlock()

	if empty {
		h.remove(roomID, r)
	}
}

// RemoveRoom tells every member that the room is gone, detaches them from it
// and drops the registry entry. Every member is back in the unjoined state
// afterwards.
func (h *Hub) RemoveRoom(roomID string) {
	r := h.get(roomID, false)
	if r == nil {
		return
	}

	notice := RoomDeleted(roomID)
	r.mu.Lock()
	for member := range r.members {
		if !member.deliver(notice) {
			member.closeSend()
		}
		delete(r.members, member)
		member.setRoom("")
	}
	r.dead = true
	r.mu.Unlock()

	h.remove(roomID, r)
	logrus.WithField("comp", "hub").WithField("room", roomID).Debug("removed room")
}

// MemberCount returns the number of connections currently joined to the room.
func (h *Hub) MemberCount(roomID string) int {
	r := h.get(roomID, false)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// drop removes a member whose delivery failed. Must be called with r.mu held.
func (r *room) drop(c *Client) {
	delete(r.members, c)
	c.setRoom("")
	c.closeSend()
	logrus.WithField("comp", "hub").WithField("room", r.id).WithField("user", c.Username).Info("dropped unresponsive member")
}
