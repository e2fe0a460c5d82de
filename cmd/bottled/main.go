package main

import (
	"log"

	"github.com/driftbottle/realtime/config"
	"github.com/driftbottle/realtime/internal/call"
	"github.com/driftbottle/realtime/internal/handlers"
	"github.com/driftbottle/realtime/internal/metrics"
	"github.com/driftbottle/realtime/internal/middleware"
	"github.com/driftbottle/realtime/internal/redis"
	"github.com/driftbottle/realtime/internal/registry"
	"github.com/driftbottle/realtime/internal/relay"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis
	if err := redis.Connect(cfg.Redis); err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	log.Println("Redis connection established")

	// Real-time coordination layer
	reg := registry.New(registry.RedisMirror{})
	router := relay.NewRouter(reg)
	push := relay.NewPushRelay(router)
	calls := call.NewMachine(router, cfg.RingTimeout, call.RedisAuditor{})
	gateway := &handlers.Gateway{
		Registry:  reg,
		Push:      push,
		Calls:     calls,
		Negotiate: relay.NewNegotiationRelay(router, calls),
	}

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.Default()

	// Global CORS middleware (runs before routing)
	engine.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "online": reg.Len()})
	})

	// Prometheus metrics
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	apiGroup := engine.Group("/api")
	{
		// Login endpoint (public)
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Push hook for the persistence backend (requires JWT)
		apiGroup.POST("/push", middleware.JWTAuth(cfg.JWTSecret), handlers.PushMessage(push))

		// Presence lookup (public)
		apiGroup.GET("/presence/:userId", handlers.Presence(reg))

		// STUN server list for call negotiation (public)
		apiGroup.GET("/ice-config", handlers.ICEConfig(cfg.STUNServers))
	}

	// WebSocket endpoint for clients
	wsGroup := engine.Group("/ws")
	{
		wsGroup.GET("/connect", gateway.HandleSocket)
	}

	// Start server
	log.Printf("Starting realtime server on port %s (ring timeout %s)", cfg.Port, cfg.RingTimeout)
	if err := engine.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
