package broker

import (
	"sync"
	"sync/atomic"
)

// Client is one accepted connection's routing-visible record (spec §3).
// It is exclusively owned by its connection handler (Broker.Accept); the
// registry only holds a shared, non-owning lookup reference. Room
// membership is not stored here — it lives entirely in RoomIndex so there
// is exactly one source of truth for invariant 1 (client.room agrees with
// room index membership).
type Client struct {
	ID     string
	send   chan []byte
	bucket *TokenBucket

	alive  atomic.Bool
	closed atomic.Bool

	// ping and terminate are wired by the connection handler at admission
	// time; they reach into the transport the handler owns. The heartbeat
	// loop calls ping without knowing about transports; nothing in the
	// package calls terminate.
	ping      func() error
	terminate func()

	teardownOnce sync.Once
	teardownFn   func()
}

func newClient(id string, queueSize int, bucket *TokenBucket) *Client {
	c := &Client{
		ID:     id,
		send:   make(chan []byte, queueSize),
		bucket: bucket,
	}
	c.alive.Store(true)
	return c
}

// Enqueue hands raw bytes to the client's outbound queue. It never blocks:
// a full queue means a slow consumer, and the frame is dropped rather than
// backing up the caller (dispatcher or heartbeat). Returns false if the
// client is already closed or the queue is full.
func (c *Client) Enqueue(data []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// EnqueueFrame encodes and enqueues a Frame.
func (c *Client) EnqueueFrame(f Frame) bool {
	data, err := f.Encode()
	if err != nil {
		return false
	}
	return c.Enqueue(data)
}

// MarkAlive records a received pong.
func (c *Client) MarkAlive() {
	c.alive.Store(true)
}

// swapAliveFalse clears the alive flag and returns whether it was set
// beforehand, matching the heartbeat's "check then clear" semantics in one
// atomic step.
func (c *Client) swapAliveFalse() bool {
	return c.alive.Swap(false)
}

// Teardown runs the client's teardown exactly once, regardless of whether
// it is triggered by the read loop returning, a write failure, or the
// heartbeat evicting a client that missed its pong.
func (c *Client) Teardown() {
	c.teardownOnce.Do(func() {
		c.closed.Store(true)
		if c.teardownFn != nil {
			c.teardownFn()
		}
	})
}
