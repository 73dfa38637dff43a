package broker

import (
	"errors"
	"regexp"
	"sync"
)

// ErrInvalidRoomName is returned when a room name fails the
// ^[A-Za-z0-9_-]{1,64}$ pattern.
var ErrInvalidRoomName = errors.New("invalid-room-name")

// ErrRoomFull is returned when a room is already at its per-room cap.
var ErrRoomFull = errors.New("room-full")

var roomNamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// RoomIndex is the room index (component C): maps room name to the set of
// client ids currently joined, with empty-room GC and a per-room cap. It is
// the single source of truth for "what room is this client in" — Client
// itself carries no room field.
type RoomIndex struct {
	mu             sync.Mutex
	rooms          map[string]map[string]struct{}
	clientRoom     map[string]string
	maxRoomClients int
}

// NewRoomIndex creates an empty room index capped at maxRoomClients members
// per room.
func NewRoomIndex(maxRoomClients int) *RoomIndex {
	return &RoomIndex{
		rooms:          make(map[string]map[string]struct{}),
		clientRoom:     make(map[string]string),
		maxRoomClients: maxRoomClients,
	}
}

// Join validates roomName, checks the target room's cap, and only then
// leaves any prior room the client was in before joining the new one. The
// cap check must run before the leave: a rejected join must leave the
// client's prior membership (or lack of one) untouched, per the
// room-full boundary case. Returns the peer set excluding the joiner, as
// it stood immediately before this join, and whether membership actually
// changed — false when roomName is the room the client was already in,
// in which case the join is a pure no-op.
func (idx *RoomIndex) Join(clientID, roomName string) ([]string, bool, error) {
	if !roomNamePattern.MatchString(roomName) {
		return nil, false, ErrInvalidRoomName
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	set := idx.rooms[roomName]

	if current, had := idx.clientRoom[clientID]; had && current == roomName {
		peers := make([]string, 0, len(set))
		for id := range set {
			if id != clientID {
				peers = append(peers, id)
			}
		}
		return peers, false, nil
	}

	if idx.maxRoomClients > 0 && len(set) >= idx.maxRoomClients {
		return nil, false, ErrRoomFull
	}

	idx.leaveLocked(clientID)

	peers := make([]string, 0, len(set))
	for id := range set {
		peers = append(peers, id)
	}

	if set == nil {
		set = make(map[string]struct{})
		idx.rooms[roomName] = set
	}
	set[clientID] = struct{}{}
	idx.clientRoom[clientID] = roomName

	return peers, true, nil
}

// Leave removes the client from its current room, if any, deleting the
// room entry the instant it becomes empty. Returns the room name and
// whether the client was actually in a room.
func (idx *RoomIndex) Leave(clientID string) (string, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	room, had := idx.clientRoom[clientID]
	idx.leaveLocked(clientID)
	return room, had
}

func (idx *RoomIndex) leaveLocked(clientID string) {
	room, ok := idx.clientRoom[clientID]
	if !ok {
		return
	}
	delete(idx.clientRoom, clientID)

	set := idx.rooms[room]
	delete(set, clientID)
	if len(set) == 0 {
		delete(idx.rooms, room)
	}
}

// Peers returns the current members of roomName (empty if the room does
// not exist).
func (idx *RoomIndex) Peers(roomName string) []string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	set := idx.rooms[roomName]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// RoomOf returns the room a client currently belongs to, if any.
func (idx *RoomIndex) RoomOf(clientID string) (string, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	room, ok := idx.clientRoom[clientID]
	return room, ok
}

// Snapshot returns a point-in-time copy of the whole room → member-id map,
// for the status endpoint.
func (idx *RoomIndex) Snapshot() map[string][]string {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	out := make(map[string][]string, len(idx.rooms))
	for room, set := range idx.rooms {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		out[room] = ids
	}
	return out
}
