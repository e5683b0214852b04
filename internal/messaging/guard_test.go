package messaging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"farmconnect/internal/models"
)

func TestGuardConversationAccess(t *testing.T) {
	var logs bytes.Buffer
	g := NewGuard(slog.New(slog.NewTextHandler(&logs, nil)))
	conv := &models.Conversation{
		ID:     5,
		Buyer:  models.User{ID: 1, Role: models.RoleBuyer},
		Farmer: models.User{ID: 2, Role: models.RoleFarmer},
	}
	for _, id := range []int64{1, 2} {
		if err := g.AuthorizeConversationAccess(models.User{ID: id}, conv); err != nil {
			t.Fatalf("participant %d denied: %v", id, err)
		}
	}
	err := g.AuthorizeConversationAccess(models.User{ID: 3, Role: models.RoleBuyer}, conv)
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if !strings.Contains(logs.String(), "level=WARN") || !strings.Contains(logs.String(), "conversation_id=5") {
		t.Fatalf("denial not logged at warn: %s", logs.String())
	}
}

func TestGuardAuthorizeRole(t *testing.T) {
	g := NewGuard(testLogger())
	buyer := models.User{ID: 1, Role: models.RoleBuyer}
	farmer := models.User{ID: 2, Role: models.RoleFarmer}

	if err := g.AuthorizeRole(buyer, models.RoleBuyer); err != nil {
		t.Fatalf("buyer denied buyer role: %v", err)
	}
	if err := g.AuthorizeRole(farmer, models.RoleFarmer); err != nil {
		t.Fatalf("farmer denied farmer role: %v", err)
	}
	if err := g.AuthorizeRole(farmer, models.RoleBuyer); !errors.Is(err, ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	} else if err.Error() != "This feature is only available to buyers." {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if err := g.AuthorizeRole(models.User{ID: 3, Role: "admin"}, models.RoleFarmer); !errors.Is(err, ErrPermission) {
		t.Fatalf("unknown roles must be denied, got %v", err)
	}
}

func TestGuardAuthorizeStart(t *testing.T) {
	g := NewGuard(testLogger())
	buyer := models.User{ID: 1, Role: models.RoleBuyer}
	farmer := models.User{ID: 2, Role: models.RoleFarmer}

	if err := g.AuthorizeStart(buyer, farmer); err != nil {
		t.Fatalf("buyer should be able to start: %v", err)
	}
	if err := g.AuthorizeStart(farmer, farmer); !errors.Is(err, ErrPermission) {
		t.Fatalf("farmer must not start conversations, got %v", err)
	}
	if err := g.AuthorizeStart(buyer, buyer); !errors.Is(err, ErrPermission) {
		t.Fatalf("self messaging must be denied, got %v", err)
	} else if err.Error() != "You cannot message yourself." {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
