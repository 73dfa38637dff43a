package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/ashgrove-labs/webrtc-broker/internal/broker"
	"github.com/ashgrove-labs/webrtc-broker/internal/provisioning"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Origin is enforced by OriginFilter earlier in the chain.
		return true
	},
}

var errRoomOverloaded = errors.New("room at provisioned capacity")

// Signaling owns the WS connect endpoint: everything in component G that
// must happen before the connection is handed to the broker (token check,
// optional provisioning-code resolution), then delegates the rest of the
// connection's life to broker.Accept.
type Signaling struct {
	broker   *broker.Broker
	rooms    provisioning.Store
	wsSecret string
}

func NewSignaling(b *broker.Broker, rooms provisioning.Store, wsSecret string) *Signaling {
	return &Signaling{broker: b, rooms: rooms, wsSecret: wsSecret}
}

// HandleConnect serves both /ws/signal and /ws/signal/:roomId. The capacity
// check (MAX_CLIENTS) happens inside broker.Accept itself, after the
// upgrade, because only the registry's own Admit call is authoritative
// about the current client count; everything checked here is either a
// pre-upgrade-only concern (the token) or one provisioning-store lookup (two
// GETs with the Redis backend) that is cheap enough to pay before paying for
// an upgrade we might reject.
func (s *Signaling) HandleConnect(c *gin.Context) {
	if s.wsSecret != "" && c.Query("token") != s.wsSecret {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "auth-failed"})
		return
	}

	initialRoom := ""
	if roomParam := c.Param("roomId"); roomParam != "" {
		resolved, err := s.resolveRoom(c.Request.Context(), roomParam)
		if err != nil {
			status := http.StatusNotFound
			message := "room-not-found"
			if errors.Is(err, errRoomOverloaded) {
				status = http.StatusServiceUnavailable
				message = "overloaded"
			}
			c.JSON(status, gin.H{"error": message})
			return
		}
		initialRoom = resolved
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("failed to upgrade connection: %v", err)
		return
	}

	if err := s.broker.Accept(conn, initialRoom); err != nil {
		log.Printf("signaling session ended: %v", err)
	}
}

// resolveRoom maps a connect URL's room segment to the room name that the
// broker's room index should use. A segment the length of a provisioning
// code (6 chars) is looked up there first; if no such code exists it falls
// back to being treated as a literal room name, so free-form names that
// happen to be 6 characters long still work. Segments of any other length
// never reach the store.
func (s *Signaling) resolveRoom(ctx context.Context, roomParam string) (string, error) {
	if s.rooms == nil || len(roomParam) != provisioning.CodeLength {
		return roomParam, nil
	}

	rec, err := s.rooms.Get(ctx, roomParam)
	if err != nil {
		if errors.Is(err, provisioning.ErrNotFound) {
			return roomParam, nil
		}
		return "", err
	}

	if rec.MaxClients > 0 && len(s.broker.RoomPeers(rec.ID)) >= rec.MaxClients {
		return "", errRoomOverloaded
	}
	return rec.ID, nil
}
