package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"farmconnect/internal/auth"
	"farmconnect/internal/automation"
	"farmconnect/internal/messaging"
	"farmconnect/internal/models"
	"farmconnect/internal/service/directory"
)

// Handler wires HTTP routes to the directory, the messaging store and the
// automation gateway.
type Handler struct {
	directory *directory.Service
	auth      *auth.Service
	store     *messaging.Store
	guard     *messaging.Guard
	gateway   *automation.Gateway
	logger    *slog.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(dir *directory.Service, authService *auth.Service, store *messaging.Store, guard *messaging.Guard, gateway *automation.Gateway, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		directory: dir,
		auth:      authService,
		store:     store,
		guard:     guard,
		gateway:   gateway,
		logger:    logger.With("component", "api"),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(RequestLogger(h.logger))

	api := router.Group("/api")
	api.POST("/send-auto-message/", h.sendAutoMessage)
	api.GET("/health/", h.health)

	api.POST("/users/register", h.registerUser)
	api.POST("/users/login", h.loginUser)
	api.GET("/products", h.listProducts)
	api.GET("/products/:product_id", h.getProduct)

	authed := api.Group("")
	authed.Use(h.auth.Middleware())
	authed.POST("/users/logout", h.logoutUser)
	authed.GET("/users/me", h.currentUserProfile)
	authed.POST("/products", h.createProduct)
	authed.POST("/products/:product_id/conversations", h.startConversation)
	authed.GET("/conversations", h.listConversations)
	authed.GET("/conversations/:id", h.getConversation)
	authed.POST("/conversations/:id/messages", h.postMessage)
}

// currentUser loads the account behind the bearer token.
func (h *Handler) currentUser(c *gin.Context) (*models.User, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok || userID <= 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return nil, false
	}
	user, err := h.directory.GetUser(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, messaging.ErrNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return nil, false
		}
		h.writeError(c, err)
		return nil, false
	}
	return user, true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", strings.ReplaceAll(name, "_", " "))})
		return 0, false
	}
	return id, true
}

// writeError maps domain errors onto status codes. Unknown errors are logged
// and reported without detail.
func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, messaging.ErrValidation), errors.Is(err, directory.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, messaging.ErrPermission):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, messaging.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, directory.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, directory.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"request_id", c.GetString(requestIDKey),
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// bindError turns a gin binding failure into a client message. Field rule
// violations come from the validator; anything else is malformed JSON.
func bindError(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "invalid request body"
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := toSnake(fe.Field())
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", field, fe.Param()))
		case "min", "gte":
			msgs = append(msgs, fmt.Sprintf("%s must be at least %s", field, fe.Param()))
		case "max", "lte":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s", field, fe.Param()))
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return strings.Join(msgs, "; ")
}

func toSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
