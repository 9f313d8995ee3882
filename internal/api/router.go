package api

import (
	"github.com/gin-gonic/gin"

	"github.com/missioncontrol/core/internal/chatproxy"
	"github.com/missioncontrol/core/internal/common/logger"
	"github.com/missioncontrol/core/internal/fanout"
	"github.com/missioncontrol/core/internal/ingest"
	"github.com/missioncontrol/core/internal/store"
)

// SetupRoutes wires the Query API, Ingestor ingress, Fan-out Hub, and Chat
// Proxy behind one gin engine, matching the HTTP surface in section 6.
func SetupRoutes(router *gin.Engine, st store.Store, ig *ingest.Ingestor, hub *fanout.Hub, proxy *chatproxy.Proxy, authToken string, log *logger.Logger) {
	handler := NewHandler(st, ig, log)

	router.GET("/health", handler.Health)

	v1 := router.Group("/v1")
	v1.Use(BearerAuth(authToken))
	{
		v1.POST("/tasks", handler.CreateTask)
		v1.GET("/boards/default", handler.Board)
		v1.POST("/tasks/:task_id/comments", handler.CreateComment)
		v1.POST("/events", handler.CreateEvent)
		v1.GET("/feed", handler.Feed)
		v1.GET("/feed-lite", handler.FeedLite)
	}

	router.GET("/ws/events", hub.HandleSubscribe)

	chat := router.Group("/chat/:slug")
	{
		chat.Any("/*rest", func(c *gin.Context) {
			if isWebSocketUpgrade(c) {
				proxy.HandleWebSocket(c)
				return
			}
			proxy.HandleHTTP(c)
		})
	}
}

func isWebSocketUpgrade(c *gin.Context) bool {
	return c.GetHeader("Upgrade") == "websocket" || c.GetHeader("Connection") == "Upgrade"
}
