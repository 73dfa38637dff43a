package broker

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

// fakeConn is an in-memory Conn for exercising the connection handler
// without a real socket. inbound is fed to ReadMessage in order; outbound
// messages written by the broker are captured for assertions.
type fakeConn struct {
	mu       sync.Mutex
	inbound  [][]byte
	inboundI int
	outbound [][]byte
	closed   bool
	closeCh  chan struct{}
}

func newFakeConn(messages ...string) *fakeConn {
	inbound := make([][]byte, len(messages))
	for i, m := range messages {
		inbound[i] = []byte(m)
	}
	return &fakeConn{inbound: inbound, closeCh: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		f.mu.Lock()
		if f.inboundI < len(f.inbound) {
			msg := f.inbound[f.inboundI]
			f.inboundI++
			f.mu.Unlock()
			return TextMessage, msg, nil
		}
		f.mu.Unlock()

		select {
		case <-f.closeCh:
			return 0, nil, errClosed
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errClosed
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.outbound = append(f.outbound, cp)
	return nil
}

func (f *fakeConn) WriteControl(_ int, _ []byte, _ time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(int64)                              {}
func (f *fakeConn) SetReadDeadline(time.Time) error                 { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error                { return nil }
func (f *fakeConn) SetPongHandler(func(string) error)                {}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closeCh)
	}
	return nil
}

func (f *fakeConn) frames(t *testing.T) []map[string]interface{} {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]interface{}, 0, len(f.outbound))
	for _, raw := range f.outbound {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			t.Fatalf("outbound frame not JSON: %v (%s)", err, raw)
		}
		out = append(out, m)
	}
	return out
}

type closedErr struct{}

func (closedErr) Error() string { return "fake conn closed" }

var errClosed error = closedErr{}

func testConfig() Config {
	return Config{
		MaxPayload:        65536,
		MaxClients:        1000,
		MaxRoomClients:    50,
		RatePerSec:        1000,
		Burst:             1000,
		HeartbeatInterval: time.Hour,
		SendQueueSize:     64,
		WriteTimeout:      time.Second,
	}
}

func acceptAndWait(b *Broker, conn *fakeConn) {
	done := make(chan struct{})
	go func() {
		b.Accept(conn, "")
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	conn.Close()
	<-done
}

func TestAccept_SendsIDFrameFirst(t *testing.T) {
	b := New(testConfig())
	conn := newFakeConn()
	acceptAndWait(b, conn)

	frames := conn.frames(t)
	if len(frames) == 0 {
		t.Fatalf("expected at least one outbound frame")
	}
	if frames[0]["type"] != "id" {
		t.Fatalf("first frame type = %v, want id", frames[0]["type"])
	}
	if _, ok := frames[0]["id"].(string); !ok {
		t.Fatalf("id frame missing string id field: %v", frames[0])
	}
}

func TestScenario_PairwiseIsolation(t *testing.T) {
	b := New(testConfig())

	connA := newFakeConn(`{"type":"join-room","room":"r1"}`)
	connB := newFakeConn(`{"type":"join-room","room":"r2"}`)

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	go func() { b.Accept(connA, ""); close(doneA) }()
	go func() { b.Accept(connB, ""); close(doneB) }()

	time.Sleep(20 * time.Millisecond)

	aID := idFromFrames(t, connA)
	bID := idFromFrames(t, connB)

	// A tries to relay to B despite being in a different room.
	connA.mu.Lock()
	connA.inbound = append(connA.inbound, []byte(`{"type":"offer","to":"`+bID+`","offer":{}}`))
	connA.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	connA.Close()
	connB.Close()
	<-doneA
	<-doneB

	aFrames := connA.frames(t)
	foundErr := false
	for _, f := range aFrames {
		if f["type"] == "error" && f["message"] == "target-unavailable-or-different-room" {
			foundErr = true
			if f["to"] != bID {
				t.Fatalf("error frame to = %v, want %v", f["to"], bID)
			}
		}
	}
	if !foundErr {
		t.Fatalf("expected target-unavailable-or-different-room error, got %+v", aFrames)
	}

	for _, f := range connB.frames(t) {
		if f["type"] == "offer" {
			t.Fatalf("B should not have received the cross-room offer: %+v", f)
		}
	}
	_ = aID
}

func TestScenario_SuccessfulRelayWithFromInjection(t *testing.T) {
	b := New(testConfig())

	connA := newFakeConn(`{"type":"join-room","room":"r1"}`)
	connB := newFakeConn(`{"type":"join-room","room":"r1"}`)

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	go func() { b.Accept(connA, ""); close(doneA) }()
	go func() { b.Accept(connB, ""); close(doneB) }()

	time.Sleep(20 * time.Millisecond)

	aID := idFromFrames(t, connA)
	bID := idFromFrames(t, connB)

	connA.mu.Lock()
	connA.inbound = append(connA.inbound, []byte(`{"type":"offer","to":"`+bID+`","offer":{"sdp":"X"}}`))
	connA.mu.Unlock()

	time.Sleep(20 * time.Millisecond)
	connA.Close()
	connB.Close()
	<-doneA
	<-doneB

	var relayed map[string]interface{}
	for _, f := range connB.frames(t) {
		if f["type"] == "offer" {
			relayed = f
		}
	}
	if relayed == nil {
		t.Fatalf("B did not receive the relayed offer")
	}
	if relayed["from"] != aID {
		t.Fatalf("relayed offer from = %v, want %v", relayed["from"], aID)
	}
	if relayed["to"] != bID {
		t.Fatalf("relayed offer to = %v, want %v", relayed["to"], bID)
	}
	offer, ok := relayed["offer"].(map[string]interface{})
	if !ok || offer["sdp"] != "X" {
		t.Fatalf("relayed offer payload corrupted: %+v", relayed)
	}

	for _, f := range connA.frames(t) {
		if f["type"] == "error" {
			t.Fatalf("A should not have received an error: %+v", f)
		}
	}
}

func TestScenario_DisconnectAnnouncesDeparture(t *testing.T) {
	b := New(testConfig())

	connA := newFakeConn(`{"type":"join-room","room":"r1"}`)
	connB := newFakeConn(`{"type":"join-room","room":"r1"}`)
	connC := newFakeConn(`{"type":"join-room","room":"r1"}`)

	doneA := make(chan struct{})
	doneB := make(chan struct{})
	doneC := make(chan struct{})
	go func() { b.Accept(connA, ""); close(doneA) }()
	go func() { b.Accept(connB, ""); close(doneB) }()
	go func() { b.Accept(connC, ""); close(doneC) }()

	time.Sleep(20 * time.Millisecond)
	aID := idFromFrames(t, connA)

	connA.Close()
	<-doneA
	time.Sleep(20 * time.Millisecond)

	remaining := b.RoomPeers("r1")
	if len(remaining) != 2 {
		t.Fatalf("room r1 should still have 2 members, got %v", remaining)
	}

	connB.Close()
	connC.Close()
	<-doneB
	<-doneC

	assertExactlyOnePeerLeft(t, connB, aID)
	assertExactlyOnePeerLeft(t, connC, aID)
}

func assertExactlyOnePeerLeft(t *testing.T, conn *fakeConn, peerID string) {
	t.Helper()
	count := 0
	for _, f := range conn.frames(t) {
		if f["type"] == "peer-left" && f["peerId"] == peerID {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one peer-left for %s, got %d", peerID, count)
	}
}

func TestScenario_RoomGC(t *testing.T) {
	b := New(testConfig())

	conn := newFakeConn(`{"type":"join-room","room":"r1"}`)
	done := make(chan struct{})
	go func() { b.Accept(conn, ""); close(done) }()

	time.Sleep(20 * time.Millisecond)
	conn.Close()
	<-done

	rooms := b.RoomSnapshot()
	if _, exists := rooms["r1"]; exists {
		t.Fatalf("expected room r1 to be garbage collected, got %v", rooms)
	}
}

func TestScenario_JoinNotificationOrdering(t *testing.T) {
	b := New(testConfig())

	connA := newFakeConn(`{"type":"join-room","room":"r1"}`)
	doneA := make(chan struct{})
	go func() { b.Accept(connA, ""); close(doneA) }()
	time.Sleep(20 * time.Millisecond)
	aID := idFromFrames(t, connA)

	connB := newFakeConn(`{"type":"join-room","room":"r1"}`)
	doneB := make(chan struct{})
	go func() { b.Accept(connB, ""); close(doneB) }()
	time.Sleep(20 * time.Millisecond)

	connA.Close()
	connB.Close()
	<-doneA
	<-doneB

	bFrames := connB.frames(t)
	joinedIdx, peersIdx := -1, -1
	for i, f := range bFrames {
		if f["type"] == "room-joined" {
			joinedIdx = i
		}
		if f["type"] == "room-peers" {
			peersIdx = i
		}
	}
	if joinedIdx == -1 || peersIdx == -1 || joinedIdx >= peersIdx {
		t.Fatalf("expected room-joined before room-peers, got %+v", bFrames)
	}
	peers, _ := bFrames[peersIdx]["peers"].([]interface{})
	if len(peers) != 1 || peers[0] != aID {
		t.Fatalf("B's room-peers should be [A], got %v", peers)
	}

	aFrames := connA.frames(t)
	found := false
	for _, f := range aFrames {
		if f["type"] == "peer-joined" {
			found = true
		}
	}
	if !found {
		t.Fatalf("A should have received peer-joined, got %+v", aFrames)
	}
}

func TestScenario_RateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RatePerSec = 10
	cfg.Burst = 20
	b := New(cfg)

	messages := make([]string, 25)
	for i := range messages {
		messages[i] = `{"type":"join-room","room":"r"}`
	}
	conn := newFakeConn(messages...)
	done := make(chan struct{})
	go func() { b.Accept(conn, ""); close(done) }()

	time.Sleep(50 * time.Millisecond)
	conn.Close()
	<-done

	rateLimited := 0
	joined := 0
	for _, f := range conn.frames(t) {
		if f["type"] == "error" && f["message"] == "rate-limit" {
			rateLimited++
		}
		if f["type"] == "room-joined" {
			joined++
		}
	}
	if rateLimited < 5 {
		t.Fatalf("expected at least 5 rate-limit errors, got %d", rateLimited)
	}
	if float64(joined) > cfg.Burst+1 {
		t.Fatalf("expected at most burst+epsilon room-joined frames, got %d", joined)
	}
}

func TestOverloaded_RejectsBeyondCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxClients = 1
	b := New(cfg)

	conn1 := newFakeConn()
	done1 := make(chan struct{})
	go func() { b.Accept(conn1, ""); close(done1) }()
	time.Sleep(10 * time.Millisecond)

	conn2 := newFakeConn()
	err := b.Accept(conn2, "")
	if err == nil {
		t.Fatalf("expected the second connection to be rejected as overloaded")
	}

	frames := conn2.frames(t)
	if len(frames) != 0 {
		t.Fatalf("overloaded connection should receive no id frame, got %+v", frames)
	}

	conn1.Close()
	<-done1
}

func TestAccept_InitialRoomAutoJoins(t *testing.T) {
	b := New(testConfig())

	conn := newFakeConn()
	done := make(chan struct{})
	go func() { b.Accept(conn, "lobby"); close(done) }()

	time.Sleep(20 * time.Millisecond)
	if room, had := b.rooms.RoomOf(idFromFrames(t, conn)); !had || room != "lobby" {
		t.Fatalf("client should be in lobby, got (%q, %v)", room, had)
	}
	conn.Close()
	<-done

	frames := conn.frames(t)
	if len(frames) < 2 {
		t.Fatalf("expected at least id + room-joined, got %+v", frames)
	}
	if frames[0]["type"] != "id" {
		t.Fatalf("first frame should still be id, got %+v", frames[0])
	}
	foundJoined := false
	for _, f := range frames {
		if f["type"] == "room-joined" && f["room"] == "lobby" {
			foundJoined = true
		}
	}
	if !foundJoined {
		t.Fatalf("expected room-joined for lobby, got %+v", frames)
	}
}

func TestAccept_RoomlessGarbageBytesAreDroppedSilently(t *testing.T) {
	b := New(testConfig())

	conn := newFakeConn("not json at all")
	done := make(chan struct{})
	go func() { b.Accept(conn, ""); close(done) }()

	time.Sleep(20 * time.Millisecond)
	conn.Close()
	<-done

	frames := conn.frames(t)
	if len(frames) != 1 || frames[0]["type"] != "id" {
		t.Fatalf("expected only the id frame, garbage bytes should produce no error, got %+v", frames)
	}
}

func idFromFrames(t *testing.T, conn *fakeConn) string {
	t.Helper()
	for _, f := range conn.frames(t) {
		if f["type"] == "id" {
			id, _ := f["id"].(string)
			return id
		}
	}
	t.Fatalf("no id frame found")
	return ""
}
