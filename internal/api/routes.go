package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"
	"github.com/playrivals/backend/internal/api/handlers"
	"github.com/playrivals/backend/internal/challenge"
	"github.com/playrivals/backend/internal/config"
	"github.com/playrivals/backend/internal/middleware"
	"github.com/playrivals/backend/internal/store"
	"github.com/playrivals/backend/internal/ws"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, db *sqlx.DB, st *store.Store, engine *challenge.Engine, hub *ws.Hub, cfg *config.Config) {
	router.Use(middleware.CORSMiddleware(cfg))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		// Canonical WebSocket endpoint
		v1.GET("/ws", hub.HandleWebSocket)

		// Admin endpoints
		adminGroup := v1.Group("/admin")
		{
			adminGroup.POST("/login", handlers.AdminLogin(db, cfg))

			authed := adminGroup.Group("")
			authed.Use(handlers.AdminAuthMiddleware(cfg))
			{
				authed.GET("/challenges", handlers.ListChallenges(db, st))
				authed.POST("/challenges/:id/expire", handlers.ExpireChallenge(db, engine))
				authed.POST("/challenges/:id/dispute", handlers.DisputeChallenge(db, engine))
				authed.GET("/selections", handlers.ListSelections(db, engine))
				authed.GET("/audit", handlers.GetAuditLogs(db))
			}
		}
	}

	// The coordination protocol is path-independent: accept a WebSocket
	// upgrade on any path that no HTTP route claimed.
	router.NoRoute(func(c *gin.Context) {
		if websocket.IsWebSocketUpgrade(c.Request) {
			hub.HandleWebSocket(c)
			return
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}
