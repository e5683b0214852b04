package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"farmconnect/internal/automation"
)

const autoSecretHeader = "X-AUTO-SECRET"

type autoMessageRequest struct {
	ConversationID int64  `json:"conversation_id"`
	Message        string `json:"message"`
}

// sendAutoMessage lets the automation system reply on a farmer's behalf.
// The secret is checked before the body is read.
func (h *Handler) sendAutoMessage(c *gin.Context) {
	secret := c.GetHeader(autoSecretHeader)
	if err := h.gateway.Authenticate(secret); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	var req autoMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("invalid JSON in auto-message request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
		return
	}

	desc, err := h.gateway.PostAutomatedMessage(c.Request.Context(), secret, req.ConversationID, req.Message)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, desc)
	case errors.Is(err, automation.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, automation.ErrBadRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields: conversation_id, message"})
	case errors.Is(err, automation.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Conversation not found"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func (h *Handler) health(c *gin.Context) {
	status, err := h.gateway.Health(c.GetHeader(autoSecretHeader))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	c.JSON(http.StatusOK, status)
}
