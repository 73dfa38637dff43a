package broker

import "time"

// Message type constants, matching gorilla/websocket's so that
// *websocket.Conn satisfies Conn without a wrapper.
const (
	TextMessage   = 1
	CloseMessage  = 8
	PingMessage   = 9
	PongMessage   = 10
)

// Conn is the minimal transport surface the connection handler needs. It
// is deliberately shaped to match gorilla/websocket.Conn's method set
// exactly, so the broker core has no transport dependency of its own — the
// gin/gorilla glue in internal/handlers passes a live *websocket.Conn
// straight in.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}
