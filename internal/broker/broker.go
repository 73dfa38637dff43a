package broker

import (
	"errors"
	"sync"
	"time"
)

var errEnqueueID = errors.New("failed to enqueue id frame")

// CloseCodeOverloaded is the close code the broker writes to the transport
// when MAX_CLIENTS is already at capacity (spec §6). The room-provisioning
// close code from SPEC_FULL §6 isn't defined here: that lookup runs
// pre-upgrade in the HTTP handler in this deployment and rejects with a
// plain HTTP response rather than a WS close frame; see DESIGN.md.
const CloseCodeOverloaded = 1013

// Config holds every tunable spec'd in spec.md §6, plus the outbound queue
// size and write timeout. The caller fills every field (config.Load supplies
// the env-derived ones; cmd/signaling sets SendQueueSize and WriteTimeout);
// Broker itself never guesses a default.
type Config struct {
	MaxPayload        int64
	MaxClients        int
	MaxRoomClients    int
	RatePerSec        float64
	Burst             float64
	HeartbeatInterval time.Duration
	SendQueueSize     int
	WriteTimeout      time.Duration
}

// Broker is the explicit, constructed dependency spec.md §9 asks for in
// place of ambient package-level singletons: it owns the registry, the room
// index, the dispatcher, and the heartbeat goroutine, and is passed into
// every connection handler invocation. Tests build a fresh Broker per case.
type Broker struct {
	cfg        Config
	registry   *Registry
	rooms      *RoomIndex
	dispatcher *Dispatcher

	stopHeartbeat chan struct{}
	wg            sync.WaitGroup
}

// New constructs a Broker and starts its heartbeat loop.
func New(cfg Config) *Broker {
	registry := NewRegistry(cfg.MaxClients)
	rooms := NewRoomIndex(cfg.MaxRoomClients)

	b := &Broker{
		cfg:           cfg,
		registry:      registry,
		rooms:         rooms,
		dispatcher:    NewDispatcher(registry, rooms),
		stopHeartbeat: make(chan struct{}),
	}

	b.wg.Add(1)
	go b.heartbeatLoop()

	return b
}

// ClientIDs returns every currently connected client id (for the status
// endpoint).
func (b *Broker) ClientIDs() []string {
	return b.registry.Snapshot()
}

// RoomSnapshot returns the full room → member-id map (for the status
// endpoint).
func (b *Broker) RoomSnapshot() map[string][]string {
	return b.rooms.Snapshot()
}

// RoomPeers returns the current live members of a room, used by the room
// provisioning REST surface to report liveCount without reaching into the
// broker's internals.
func (b *Broker) RoomPeers(room string) []string {
	return b.rooms.Peers(room)
}

// Accept runs the connection handler (component G) for one already
// WebSocket-upgraded connection: admits it in the registry, sends the id
// frame, then runs the read loop on the calling goroutine (blocking until
// the connection closes) while a dedicated write-loop goroutine owns the
// outbound queue. Teardown — leaving any room and removing the client from
// the registry — always runs exactly once, however the connection ends.
//
// initialRoom, if non-empty, is joined immediately after the id frame is
// sent, via the same path a join-room frame would take — so a connect URL
// naming a room (a free-form name or a resolved provisioning code) produces
// the normal room-joined/peer-joined/room-peers sequence with no special
// casing in the dispatcher.
func (b *Broker) Accept(conn Conn, initialRoom string) error {
	bucket := NewTokenBucket(b.cfg.RatePerSec, b.cfg.Burst)
	client, err := b.registry.Admit(b.cfg.SendQueueSize, bucket)
	if err != nil {
		writeCloseCode(conn, CloseCodeOverloaded, "overloaded", b.cfg.WriteTimeout)
		conn.Close()
		return err
	}

	client.ping = func() error {
		return conn.WriteControl(PingMessage, nil, time.Now().Add(b.cfg.WriteTimeout))
	}
	client.terminate = func() {
		conn.Close()
	}
	client.teardownFn = func() {
		b.teardown(client)
		conn.Close()
	}

	conn.SetReadLimit(b.cfg.MaxPayload)
	conn.SetPongHandler(func(string) error {
		client.MarkAlive()
		return nil
	})

	// Invariant 6: the id frame is the first thing the client ever receives.
	if !client.EnqueueFrame(Frame{"type": "id", "id": client.ID}) {
		client.Teardown()
		return errEnqueueID
	}

	if initialRoom != "" {
		b.dispatcher.HandleFrame(client, Frame{"type": "join-room", "room": initialRoom})
	}

	done := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		b.writeLoop(conn, client, done)
		close(writeDone)
	}()

	b.readLoop(conn, client)

	close(done)
	<-writeDone
	client.Teardown()
	return nil
}

func (b *Broker) readLoop(conn Conn, client *Client) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if !client.bucket.Allow() {
			client.EnqueueFrame(newErrorFrame("rate-limit", ""))
			continue
		}

		room, hasRoom := b.rooms.RoomOf(client.ID)
		decoded := Decode(data, b.cfg.MaxPayload, hasRoom && room != "")

		switch decoded.Kind {
		case FrameKindMessage:
			b.dispatcher.HandleFrame(client, decoded.Frame)
		case FrameKindPassthrough:
			b.dispatcher.HandleRaw(client, decoded.Raw)
		case FrameKindProtocolError:
			client.EnqueueFrame(newErrorFrame("invalid-message", ""))
		case FrameKindDropped:
			// No room to fall through to broadcast into; nothing to answer.
		}
	}
}

func (b *Broker) writeLoop(conn Conn, client *Client, done <-chan struct{}) {
	for {
		select {
		case data, ok := <-client.send:
			if !ok {
				return
			}
			if !b.writeOne(conn, client, data) {
				return
			}
		case <-done:
			// Flush whatever was already queued before the connection
			// closed rather than silently dropping it.
			for {
				select {
				case data, ok := <-client.send:
					if !ok {
						return
					}
					if !b.writeOne(conn, client, data) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (b *Broker) writeOne(conn Conn, client *Client, data []byte) bool {
	conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	if err := conn.WriteMessage(TextMessage, data); err != nil {
		client.Teardown()
		return false
	}
	return true
}

// teardown performs the cooperative shutdown sequence of spec §4.G step 6:
// leave the room (emitting peer-left to whoever remains), then remove from
// the registry. It is invoked exactly once per client via Client.Teardown,
// whether triggered by the read loop returning, a write failure, or the
// heartbeat evicting a client that missed its pong.
func (b *Broker) teardown(client *Client) {
	room, had := b.rooms.Leave(client.ID)
	b.registry.Remove(client.ID)

	if !had {
		return
	}
	for _, peerID := range b.rooms.Peers(room) {
		if peer, ok := b.registry.Lookup(peerID); ok {
			peer.EnqueueFrame(Frame{"type": "peer-left", "peerId": client.ID})
		}
	}
}

func (b *Broker) heartbeatLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopHeartbeat:
			return
		case <-ticker.C:
			b.tick()
		}
	}
}

func (b *Broker) tick() {
	for _, id := range b.registry.Snapshot() {
		client, ok := b.registry.Lookup(id)
		if !ok {
			continue
		}

		wasAlive := client.swapAliveFalse()
		if !wasAlive {
			client.Teardown()
			continue
		}

		if client.ping == nil {
			continue
		}
		if err := client.ping(); err != nil {
			client.Teardown()
		}
	}
}

// Shutdown stops the heartbeat loop and tears down every connected client
// by closing its transport; no close frame (normal or otherwise) is
// written. It does not wait for per-connection read loops to
// notice beyond what Teardown itself triggers (closing the transport);
// callers bound the overall grace period via ctx on the surrounding HTTP
// server shutdown.
func (b *Broker) Shutdown() {
	close(b.stopHeartbeat)
	for _, id := range b.registry.Snapshot() {
		if client, ok := b.registry.Lookup(id); ok {
			client.Teardown()
		}
	}
	b.wg.Wait()
}

func writeCloseCode(conn Conn, code int, reason string, timeout time.Duration) {
	msg := closeFrameBody(code, reason)
	_ = conn.WriteControl(CloseMessage, msg, time.Now().Add(timeout))
}

func closeFrameBody(code int, reason string) []byte {
	body := make([]byte, 2+len(reason))
	body[0] = byte(code >> 8)
	body[1] = byte(code)
	copy(body[2:], reason)
	return body
}
