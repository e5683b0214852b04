package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"farmconnect/internal/messaging"
	"farmconnect/internal/models"
)

const conversationPageSize = 20

type messageRequest struct {
	Message string `json:"message" binding:"required"`
}

type startRequest struct {
	Message *string `json:"message"`
}

func (h *Handler) listConversations(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", conversationPageSize)
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	if limit <= 0 || limit > 100 {
		limit = conversationPageSize
	}
	summaries, err := h.store.ListForUser(c.Request.Context(), *user, limit, offset)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if summaries == nil {
		summaries = []models.ConversationSummary{}
	}
	c.JSON(http.StatusOK, gin.H{
		"conversations": summaries,
		"limit":         limit,
		"offset":        offset,
	})
}

// startConversation opens (or reopens) the buyer's thread about a product,
// optionally posting a first message.
func (h *Handler) startConversation(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	productID, ok := pathID(c, "product_id")
	if !ok {
		return
	}
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	ctx := c.Request.Context()

	if err := h.guard.AuthorizeRole(*user, models.RoleBuyer); err != nil {
		h.writeError(c, err)
		return
	}
	// a rejected first message must not leave an empty conversation behind
	var content string
	if req.Message != nil {
		var err error
		if content, err = messaging.ValidateContent(*req.Message); err != nil {
			h.writeError(c, err)
			return
		}
	}
	product, err := h.directory.GetProduct(ctx, productID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	farmer, err := h.directory.GetUser(ctx, product.FarmerID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := h.guard.AuthorizeStart(*user, *farmer); err != nil {
		h.writeError(c, err)
		return
	}

	conv, created, err := h.store.GetOrCreate(ctx, *user, *farmer, product)
	if err != nil {
		h.writeError(c, err)
		return
	}
	var first *models.Message
	if req.Message != nil {
		first, err = h.store.Append(ctx, conv, user.ID, content, false)
		if err != nil {
			h.writeError(c, err)
			return
		}
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{
		"conversation": conv,
		"created":      created,
		"message":      first,
	})
}

func (h *Handler) getConversation(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(c, *user)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := h.store.MarkConversationRead(ctx, conv, user.ID); err != nil {
		h.writeError(c, err)
		return
	}
	messages, err := h.store.ListOrdered(ctx, conv)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if messages == nil {
		messages = []*models.Message{}
	}
	other, _ := conv.OtherParticipant(user.ID)
	c.JSON(http.StatusOK, gin.H{
		"conversation": conv,
		"messages":     messages,
		"other_user":   other,
		"is_buyer":     user.ID == conv.Buyer.ID,
		"is_farmer":    user.ID == conv.Farmer.ID,
	})
}

func (h *Handler) postMessage(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	conv, ok := h.loadConversation(c, *user)
	if !ok {
		return
	}
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	msg, err := h.store.Append(c.Request.Context(), conv, user.ID, req.Message, false)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, msg)
}

// loadConversation resolves :id and checks the user takes part in it.
func (h *Handler) loadConversation(c *gin.Context, user models.User) (*models.Conversation, bool) {
	convID, ok := pathID(c, "id")
	if !ok {
		return nil, false
	}
	conv, err := h.store.Get(c.Request.Context(), convID)
	if err != nil {
		h.writeError(c, err)
		return nil, false
	}
	if err := h.guard.AuthorizeConversationAccess(user, conv); err != nil {
		h.writeError(c, err)
		return nil, false
	}
	return conv, true
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return n, true
}
