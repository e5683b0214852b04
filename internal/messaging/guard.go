package messaging

import (
	"log/slog"

	"farmconnect/internal/models"
)

// Guard holds the authorization rules for conversations. Every denial is
// logged at warn level.
type Guard struct {
	logger *slog.Logger
}

func NewGuard(logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{logger: logger.With("component", "guard")}
}

// AuthorizeConversationAccess allows only the conversation's buyer and farmer.
func (g *Guard) AuthorizeConversationAccess(user models.User, conv *models.Conversation) error {
	if conv != nil && conv.IsParticipant(user.ID) {
		return nil
	}
	var convID int64
	if conv != nil {
		convID = conv.ID
	}
	g.logger.Warn("conversation access denied", "user_id", user.ID, "conversation_id", convID)
	return permissionf("You don't have access to this conversation.")
}

// AuthorizeRole fails unless user holds the required role.
func (g *Guard) AuthorizeRole(user models.User, required models.Role) error {
	var allowed bool
	switch user.Role {
	case models.RoleBuyer:
		allowed = required == models.RoleBuyer
	case models.RoleFarmer:
		allowed = required == models.RoleFarmer
	}
	if allowed {
		return nil
	}
	g.logger.Warn("role check failed", "user_id", user.ID, "role", user.Role, "required", required)
	switch required {
	case models.RoleBuyer:
		return permissionf("This feature is only available to buyers.")
	case models.RoleFarmer:
		return permissionf("This feature is only available to farmers.")
	default:
		return permissionf("unknown role %q", required)
	}
}

// AuthorizeStart checks that buyer may open a conversation with farmer.
func (g *Guard) AuthorizeStart(buyer, farmer models.User) error {
	if buyer.Role != models.RoleBuyer {
		g.logger.Warn("conversation start denied", "user_id", buyer.ID, "role", buyer.Role)
		return permissionf("Only buyers can start conversations.")
	}
	if buyer.ID == farmer.ID {
		g.logger.Warn("conversation start denied", "user_id", buyer.ID, "reason", "self")
		return permissionf("You cannot message yourself.")
	}
	return nil
}
