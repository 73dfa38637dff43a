package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ashgrove-labs/webrtc-broker/config"
	"github.com/ashgrove-labs/webrtc-broker/internal/broker"
	"github.com/ashgrove-labs/webrtc-broker/internal/handlers"
	"github.com/ashgrove-labs/webrtc-broker/internal/middleware"
	"github.com/ashgrove-labs/webrtc-broker/internal/provisioning"
	"github.com/ashgrove-labs/webrtc-broker/internal/redis"
	"github.com/ashgrove-labs/webrtc-broker/internal/status"
)

const shutdownGracePeriod = 10 * time.Second

func main() {
	cfg := config.Load()

	store := newRoomStore(cfg)

	b := broker.New(broker.Config{
		MaxPayload:        cfg.MaxPayload,
		MaxClients:        cfg.MaxClients,
		MaxRoomClients:    cfg.MaxRoomClients,
		RatePerSec:        cfg.MessageRatePerSec,
		Burst:             cfg.MessageBurst,
		HeartbeatInterval: cfg.HeartbeatInterval,
		SendQueueSize:     256,
		WriteTimeout:      10 * time.Second,
	})

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", status.Handler(b))

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		roomsAPI := handlers.NewRoomsAPI(store, b, cfg.MaxRoomClients)
		apiGroup.POST("/rooms", middleware.JWTAuth(cfg.JWTSecret), roomsAPI.Create)
		apiGroup.GET("/rooms/:idOrCode", roomsAPI.Get)
		apiGroup.DELETE("/rooms/:idOrCode", middleware.JWTAuth(cfg.JWTSecret), roomsAPI.Delete)
	}

	signaling := handlers.NewSignaling(b, store, cfg.WSSecret)
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/signal", signaling.HandleConnect)
		wsGroup.GET("/signal/:roomId", signaling.HandleConnect)
	}

	srv := &http.Server{
		Addr:    cfg.Host + ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Printf("starting WebRTC signaling broker on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()

	b.Shutdown()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}
}

// newRoomStore builds the provisioning backend. Redis is preferred when
// reachable; a process-local MemoryStore keeps the provisioning REST
// surface usable (without restart durability) when it is not, rather than
// making Redis a hard dependency for the broker core.
func newRoomStore(cfg *config.Config) provisioning.Store {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		log.Printf("room provisioning store: Redis unavailable (%v), falling back to an in-memory store", err)
		return provisioning.NewMemoryStore()
	}

	log.Println("room provisioning store: connected to Redis")
	return provisioning.NewRedisStore(client, cfg.RoomProvisioningTTL)
}
