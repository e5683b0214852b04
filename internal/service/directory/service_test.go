package directory

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"farmconnect/internal/config"
	"farmconnect/internal/messaging"
	"farmconnect/internal/models"
	"farmconnect/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	cfg := &config.Config{
		Databases: map[string]config.DatabaseConfig{
			"sqlite3": {DSN: filepath.Join(t.TempDir(), "directory.db")},
		},
	}
	db, err := storage.Open("sqlite3", cfg)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(db, messaging.NewGuard(logger), logger)
	svc.cost = bcrypt.MinCost
	return svc
}

func TestRegisterAndLogin(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	user, err := svc.RegisterUser(ctx, " alice ", "pw-123", models.RoleBuyer)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if user.Username != "alice" || user.Role != models.RoleBuyer {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.PasswordHash == "pw-123" {
		t.Fatalf("password stored in plaintext")
	}

	logged, err := svc.Login(ctx, "alice", "pw-123")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if logged.ID != user.ID || logged.Role != models.RoleBuyer {
		t.Fatalf("login returned %+v", logged)
	}
	if _, err := svc.Login(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "nobody", "pw"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}

	got, err := svc.GetUser(ctx, user.ID)
	if err != nil || got.Username != "alice" {
		t.Fatalf("get user: %+v %v", got, err)
	}
	if _, err := svc.GetUser(ctx, 999); !errors.Is(err, messaging.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	if _, err := svc.RegisterUser(ctx, "", "pw", models.RoleBuyer); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "carl", "pw", models.Role("admin")); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid role to be rejected, got %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "carl", "pw", models.RoleFarmer); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RegisterUser(ctx, "carl", "pw", models.RoleBuyer); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected duplicate username error, got %v", err)
	}
}

func TestProducts(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	farmer, err := svc.RegisterUser(ctx, "fred", "pw", models.RoleFarmer)
	if err != nil {
		t.Fatalf("register farmer: %v", err)
	}
	buyer, err := svc.RegisterUser(ctx, "bea", "pw", models.RoleBuyer)
	if err != nil {
		t.Fatalf("register buyer: %v", err)
	}

	if _, err := svc.CreateProduct(ctx, *buyer, ProductInput{Name: "Eggs", PriceCents: 300}); !errors.Is(err, messaging.ErrPermission) {
		t.Fatalf("buyers must not list products, got %v", err)
	}
	if _, err := svc.CreateProduct(ctx, *farmer, ProductInput{Name: "  ", PriceCents: 300}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for blank name, got %v", err)
	}
	if _, err := svc.CreateProduct(ctx, *farmer, ProductInput{Name: "Eggs", PriceCents: -1}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for negative price, got %v", err)
	}

	eggs, err := svc.CreateProduct(ctx, *farmer, ProductInput{Name: "Eggs", Description: "Dozen", PriceCents: 300, QuantityAvailable: 12})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	got, err := svc.GetProduct(ctx, eggs.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if got.FarmerID != farmer.ID || got.Name != "Eggs" || got.QuantityAvailable != 12 {
		t.Fatalf("unexpected product: %+v", got)
	}
	if _, err := svc.GetProduct(ctx, 999); !errors.Is(err, messaging.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	list, err := svc.ListProducts(ctx, farmer.ID)
	if err != nil || len(list) != 1 {
		t.Fatalf("list products: %v %+v", err, list)
	}
	list, err = svc.ListProducts(ctx, buyer.ID)
	if err != nil || len(list) != 0 {
		t.Fatalf("expected no products for buyer: %v %+v", err, list)
	}
}
