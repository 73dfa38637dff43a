package handlers

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashgrove-labs/webrtc-broker/internal/broker"
	"github.com/ashgrove-labs/webrtc-broker/internal/provisioning"
)

// RoomsAPI serves component J: the provisioning REST surface. It reaches
// the broker only to read the current live member count for a room
// (RoomPeers), never to mutate broker state.
type RoomsAPI struct {
	store          provisioning.Store
	broker         *broker.Broker
	maxRoomClients int
}

func NewRoomsAPI(store provisioning.Store, b *broker.Broker, maxRoomClients int) *RoomsAPI {
	return &RoomsAPI{store: store, broker: b, maxRoomClients: maxRoomClients}
}

type createRoomRequest struct {
	MaxClients int `json:"maxClients"`
}

type createRoomResponse struct {
	RoomID string `json:"roomID"`
	Code   string `json:"code"`
}

type roomResponse struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	CreatorID  string    `json:"creatorID"`
	CreatedAt  time.Time `json:"createdAt"`
	MaxClients int       `json:"maxClients"`
	LiveCount  int       `json:"liveCount"`
}

// Create handles POST /api/rooms (requires authentication).
func (a *RoomsAPI) Create(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	var req createRoomRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	maxClients := req.MaxClients
	if maxClients == 0 {
		maxClients = provisioning.DefaultMaxClients
	}
	if maxClients < 2 {
		maxClients = 2
	}
	if a.maxRoomClients > 0 && maxClients > a.maxRoomClients {
		maxClients = a.maxRoomClients
	}

	rec, err := a.store.Create(c.Request.Context(), userID.(string), maxClients)
	if err != nil {
		log.Printf("failed to create room: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room"})
		return
	}

	log.Printf("room created: %s (code: %s) by user %s", rec.ID, rec.Code, userID)
	c.JSON(http.StatusCreated, createRoomResponse{RoomID: rec.ID, Code: rec.Code})
}

// Get handles GET /api/rooms/:idOrCode (public).
func (a *RoomsAPI) Get(c *gin.Context) {
	rec, err := a.store.Get(c.Request.Context(), c.Param("idOrCode"))
	if err != nil {
		if errors.Is(err, provisioning.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to look up room"})
		return
	}

	c.JSON(http.StatusOK, roomResponse{
		ID:         rec.ID,
		Code:       rec.Code,
		CreatorID:  rec.CreatorID,
		CreatedAt:  rec.CreatedAt,
		MaxClients: rec.MaxClients,
		LiveCount:  len(a.broker.RoomPeers(rec.ID)),
	})
}

// Delete handles DELETE /api/rooms/:idOrCode (requires authentication and
// creator ownership).
func (a *RoomsAPI) Delete(c *gin.Context) {
	userID, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return
	}

	err := a.store.Delete(c.Request.Context(), c.Param("idOrCode"), userID.(string))
	switch {
	case err == nil:
		log.Printf("room deleted by user %s", userID)
		c.JSON(http.StatusOK, gin.H{"message": "Room deleted"})
	case errors.Is(err, provisioning.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found"})
	case errors.Is(err, provisioning.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the room creator can delete the room"})
	default:
		log.Printf("failed to delete room: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room"})
	}
}
