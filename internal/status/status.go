package status

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Source is the read-only view a status handler needs from the broker.
// It is satisfied by *broker.Broker without broker importing this package.
type Source interface {
	ClientIDs() []string
	RoomSnapshot() map[string][]string
}

type Snapshot struct {
	TotalClients int                 `json:"totalClients"`
	Clients      []string            `json:"clients"`
	Rooms        map[string][]string `json:"rooms"`
}

// Handler renders a point-in-time snapshot of connected clients and room
// membership. It never blocks on network I/O; everything it reads is already
// held in memory by the broker.
func Handler(src Source) gin.HandlerFunc {
	return func(c *gin.Context) {
		ids := src.ClientIDs()
		rooms := src.RoomSnapshot()
		if rooms == nil {
			rooms = map[string][]string{}
		}
		c.JSON(http.StatusOK, Snapshot{
			TotalClients: len(ids),
			Clients:      ids,
			Rooms:        rooms,
		})
	}
}
