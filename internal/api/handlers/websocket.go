package handlers

import (
	"log"
	"net/http"
	"strconv"

	"chat-realtime/internal/websocket"

	"github.com/gin-gonic/gin"
)

type WSHandler struct {
	hub *websocket.Hub
}

func NewWSHandler(hub *websocket.Hub) *WSHandler {
	return &WSHandler{hub: hub}
}

// RegisterRoutes maps HTTP methods to handler functions
func (h *WSHandler) RegisterRoutes(r *gin.RouterGroup) {
	wsRoutes := r.Group("/ws")
	{
		wsRoutes.GET("", h.HandleWebSocket)
	}
}

// HandleWebSocket godoc
// @Summary WebSocket connection
// @Description Establish a WebSocket connection for real-time messaging
// @Tags websocket
// @Accept json
// @Produce json
// @Param userId query string true "User ID for WebSocket connection"
// @Success 101 "Switching Protocols - WebSocket connection established"
// @Failure 400 {object} map[string]interface{} "Bad request - missing or invalid userId parameter"
// @Router /ws [get]
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	// Get userId from query parameters: /api/v1/ws?userId=1
	userIDStr := c.Query("userId")
	if userIDStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId parameter is required"})
		return
	}

	userID, err := strconv.ParseUint(userIDStr, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid userId parameter"})
		return
	}

	log.Printf("new WebSocket connection request from user %d", userID)
	websocket.ServeWS(h.hub, c.Writer, c.Request, uint(userID))
}
