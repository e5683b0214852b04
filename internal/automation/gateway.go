package automation

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"strings"
	"time"

	"farmconnect/internal/config"
	"farmconnect/internal/messaging"
	"farmconnect/internal/models"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrBadRequest   = errors.New("missing required fields: conversation_id, message")
	ErrNotFound     = errors.New("conversation not found")
	ErrInternal     = errors.New("internal server error")
)

// ConversationStore is the part of the messaging store the gateway writes through.
type ConversationStore interface {
	Get(ctx context.Context, id int64) (*models.Conversation, error)
	Append(ctx context.Context, conv *models.Conversation, senderID int64, content string, automated bool) (*models.Message, error)
}

// Health is returned to the automation system's availability check.
type Health struct {
	Status     string    `json:"status"`
	N8NEnabled bool      `json:"n8n_enabled"`
	Timestamp  time.Time `json:"timestamp"`
}

// MessageDescriptor describes an injected automated reply.
type MessageDescriptor struct {
	Success        bool      `json:"success"`
	MessageID      int64     `json:"message_id"`
	ConversationID int64     `json:"conversation_id"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// Gateway lets the external automation system post replies on behalf of
// farmers, authenticated by a shared secret.
type Gateway struct {
	secret         []byte
	webhookEnabled bool
	store          ConversationStore
	now            func() time.Time
	logger         *slog.Logger
}

func NewGateway(cfg config.AutomationConfig, webhook config.WebhookConfig, store ConversationStore, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		secret:         []byte(cfg.Secret),
		webhookEnabled: webhook.Enabled,
		store:          store,
		now:            time.Now,
		logger:         logger.With("component", "automation"),
	}
}

// Authenticate accepts only a non-empty header equal to the configured secret.
func (g *Gateway) Authenticate(header string) error {
	if header != "" && len(g.secret) > 0 && subtle.ConstantTimeCompare([]byte(header), g.secret) == 1 {
		return nil
	}
	g.logger.Warn("unauthorized automation request", "secret_present", header != "")
	return ErrUnauthorized
}

func (g *Gateway) Health(header string) (Health, error) {
	if err := g.Authenticate(header); err != nil {
		return Health{}, err
	}
	return Health{Status: "healthy", N8NEnabled: g.webhookEnabled, Timestamp: g.now().UTC()}, nil
}

// PostAutomatedMessage appends content to the conversation as an automated
// message from its farmer. Automated messages never trigger the webhook.
func (g *Gateway) PostAutomatedMessage(ctx context.Context, header string, conversationID int64, content string) (*MessageDescriptor, error) {
	if err := g.Authenticate(header); err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if conversationID <= 0 || content == "" {
		return nil, ErrBadRequest
	}

	conv, err := g.store.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, messaging.ErrNotFound) {
			return nil, ErrNotFound
		}
		g.logger.Error("load conversation failed", "conversation_id", conversationID, "error", err)
		return nil, ErrInternal
	}

	msg, err := g.store.Append(ctx, conv, conv.Farmer.ID, content, true)
	if err != nil {
		if errors.Is(err, messaging.ErrValidation) {
			return nil, ErrBadRequest
		}
		g.logger.Error("create automated message failed", "conversation_id", conversationID, "error", err)
		return nil, ErrInternal
	}

	g.logger.Info("automated message created",
		"conversation_id", conv.ID,
		"message_id", msg.ID,
		"farmer", conv.Farmer.Username,
	)
	return &MessageDescriptor{
		Success:        true,
		MessageID:      msg.ID,
		ConversationID: conv.ID,
		Content:        msg.Content,
		Timestamp:      msg.CreatedAt,
	}, nil
}
