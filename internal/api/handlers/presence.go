package handlers

import (
	"net/http"
	"strconv"

	"chat-realtime/internal/presence"

	"github.com/gin-gonic/gin"
)

type PresenceHandler struct {
	presenceService *presence.PresenceService
}

func NewPresenceHandler(presenceService *presence.PresenceService) *PresenceHandler {
	return &PresenceHandler{presenceService: presenceService}
}

// GetPresence godoc
// @Summary Get user presence
// @Description Get the online state and last-seen text for a user
// @Tags presence
// @Produce json
// @Security BearerAuth
// @Param userId path int true "User ID"
// @Success 200 {object} map[string]interface{} "Presence state with display text"
// @Failure 400 {object} map[string]interface{} "Bad request - invalid userId"
// @Router /presence/{userId} [get]
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("userId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid userId"})
		return
	}

	state := h.presenceService.Get(uint(userID))
	c.JSON(http.StatusOK, gin.H{
		"userId":            state.UserID,
		"isOnline":          state.IsOnline,
		"activeConnections": state.ActiveConnections,
		"lastSeenAt":        state.LastSeenAt,
		"statusText":        presence.StatusText(state.IsOnline, state.LastSeenAt),
	})
}
