package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"farmconnect/internal/auth"
	"farmconnect/internal/models"
)

// registerRequest is the body of POST /api/users/register.
type registerRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Role     string `json:"role" binding:"required,oneof=buyer farmer"`
}

type credentialsRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) registerUser(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	user, err := h.directory.RegisterUser(c.Request.Context(), req.Username, req.Password, models.Role(req.Role))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, user)
}

func (h *Handler) loginUser(c *gin.Context) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindError(err)})
		return
	}
	user, err := h.directory.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.writeError(c, err)
		return
	}
	token, err := h.auth.IssueToken(c.Request.Context(), user.ID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":       user,
		"auth_token": token,
		"expires_in": int(h.auth.TokenTTL().Seconds()),
	})
}

// logoutUser revokes the bearer token, or every token of the caller when
// ?all=true is given.
func (h *Handler) logoutUser(c *gin.Context) {
	if c.Query("all") == "true" {
		user, ok := h.currentUser(c)
		if !ok {
			return
		}
		if err := h.auth.RevokeUserTokens(c.Request.Context(), user.ID); err != nil {
			h.writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
		return
	}
	if token, ok := auth.AuthTokenFromContext(c); ok {
		if err := h.auth.RevokeToken(c.Request.Context(), token); err != nil {
			h.writeError(c, err)
			return
		}
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) currentUserProfile(c *gin.Context) {
	user, ok := h.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, user)
}
