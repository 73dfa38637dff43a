package broker

import "errors"

// Dispatcher is the per-frame router (component F): join/leave room, relay
// to one target, fan-out to a room, or emit an error. It only ever reaches
// other clients through Registry/RoomIndex queries, never by holding a
// direct reference — that keeps the same-room invariant enforceable in one
// place (resolveSameRoom).
type Dispatcher struct {
	registry *Registry
	rooms    *RoomIndex
}

// NewDispatcher wires a dispatcher to the registry and room index it routes
// against.
func NewDispatcher(registry *Registry, rooms *RoomIndex) *Dispatcher {
	return &Dispatcher{registry: registry, rooms: rooms}
}

// HandleFrame processes one already-decoded JSON frame from sender.
func (d *Dispatcher) HandleFrame(sender *Client, f Frame) {
	switch f.Type() {
	case "join-room":
		d.handleJoin(sender, f)
	case "leave-room":
		d.handleLeave(sender)
	default:
		d.handleRelayOrFanout(sender, f)
	}
}

// HandleRaw forwards non-JSON bytes verbatim to the sender's room, per the
// fall-through rule in §4.A. Byte-level broadcast cannot inject a "from"
// field without risking corruption of arbitrary content, so it goes out
// unmodified (see DESIGN.md Open Question #2).
func (d *Dispatcher) HandleRaw(sender *Client, data []byte) {
	room, has := d.rooms.RoomOf(sender.ID)
	if !has || room == "" {
		return
	}
	for _, peerID := range d.rooms.Peers(room) {
		if peerID == sender.ID {
			continue
		}
		if peer, ok := d.registry.Lookup(peerID); ok {
			if !peer.Enqueue(data) {
				peer.Teardown()
			}
		}
	}
}

func (d *Dispatcher) handleJoin(sender *Client, f Frame) {
	room := f.Room()
	peers, changed, err := d.rooms.Join(sender.ID, room)
	if err != nil {
		d.sendError(sender, joinErrorMessage(err), "")
		return
	}

	sender.EnqueueFrame(Frame{"type": "room-joined", "room": room})

	// A re-join of the room the sender is already in is a no-op on
	// membership; peers already have this sender in their room-peers view,
	// so a fresh peer-joined would be spurious.
	if changed {
		for _, peerID := range peers {
			if peer, ok := d.registry.Lookup(peerID); ok {
				peer.EnqueueFrame(Frame{"type": "peer-joined", "peerId": sender.ID})
			}
		}
	}

	peerList := make([]interface{}, len(peers))
	for i, id := range peers {
		peerList[i] = id
	}
	sender.EnqueueFrame(Frame{"type": "room-peers", "peers": peerList})
}

func joinErrorMessage(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRoomName):
		return "invalid-room-name"
	case errors.Is(err, ErrRoomFull):
		return "room-full"
	default:
		return "invalid-message"
	}
}

func (d *Dispatcher) handleLeave(sender *Client) {
	room, had := d.rooms.Leave(sender.ID)
	if !had {
		return
	}

	for _, peerID := range d.rooms.Peers(room) {
		if peer, ok := d.registry.Lookup(peerID); ok {
			peer.EnqueueFrame(Frame{"type": "peer-left", "peerId": sender.ID})
		}
	}

	sender.EnqueueFrame(Frame{"type": "room-left", "room": room})
}

func (d *Dispatcher) handleRelayOrFanout(sender *Client, f Frame) {
	to, hasTo := f.To()
	if hasTo {
		target, ok := d.resolveSameRoom(sender.ID, to)
		if !ok {
			d.sendError(sender, "target-unavailable-or-different-room", to)
			return
		}
		if !target.EnqueueFrame(f.WithFrom(sender.ID)) {
			target.Teardown()
		}
		return
	}

	room, has := d.rooms.RoomOf(sender.ID)
	if !has || room == "" {
		return
	}

	relay := f.WithFrom(sender.ID)
	for _, peerID := range d.rooms.Peers(room) {
		if peerID == sender.ID {
			continue
		}
		if peer, ok := d.registry.Lookup(peerID); ok {
			if !peer.EnqueueFrame(relay) {
				peer.Teardown()
			}
		}
	}
}

// resolveSameRoom returns the target client only if sender and target are
// both currently in the same, non-unset room (spec §4.C, §3 invariant 5).
// An empty-string target id is always rejected (DESIGN.md Open Question #1).
func (d *Dispatcher) resolveSameRoom(senderID, targetID string) (*Client, bool) {
	if targetID == "" {
		return nil, false
	}

	senderRoom, ok := d.rooms.RoomOf(senderID)
	if !ok || senderRoom == "" {
		return nil, false
	}

	targetRoom, ok := d.rooms.RoomOf(targetID)
	if !ok || targetRoom != senderRoom {
		return nil, false
	}

	return d.registry.Lookup(targetID)
}

func (d *Dispatcher) sendError(sender *Client, message, to string) {
	sender.EnqueueFrame(newErrorFrame(message, to))
}
