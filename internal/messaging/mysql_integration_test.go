//go:build integration

package messaging

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"farmconnect/internal/config"
	"farmconnect/internal/models"
	"farmconnect/internal/storage"
)

// openMySQLDB starts a throwaway MySQL server and migrates it.
func openMySQLDB(t *testing.T) *storage.DB {
	t.Helper()
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mysql:8.0",
			ExposedPorts: []string{"3306/tcp"},
			Env: map[string]string{
				"MYSQL_ROOT_PASSWORD": "root",
				"MYSQL_DATABASE":      "farmconnect",
			},
			WaitingFor: wait.ForLog("port: 3306  MySQL Community Server").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start mysql container: %v", err)
	}
	t.Cleanup(func() { container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	portNum, _ := strconv.Atoi(port.Port())

	cfg := &config.Config{Databases: map[string]config.DatabaseConfig{
		"mysql": {Host: host, Port: portNum, Username: "root", Password: "root", DBName: "farmconnect"},
	}}
	var db *storage.DB
	// the server restarts once after initialisation, so retry the first connect
	deadline := time.Now().Add(time.Minute)
	for {
		db, err = storage.Open("mysql", cfg)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("open mysql: %v", err)
	}
	if err := storage.Migrate(db); err != nil {
		t.Fatalf("migrate mysql: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMySQLConversationLifecycle(t *testing.T) {
	db := openMySQLDB(t)
	ctx := context.Background()
	bus := NewBus()
	var published int
	var mu sync.Mutex
	bus.Subscribe(func(MessageAppended) {
		mu.Lock()
		published++
		mu.Unlock()
	})
	store := NewStore(db, bus, testLogger())

	buyer := createUser(t, db, "bea", models.RoleBuyer)
	farmer := createUser(t, db, "fred", models.RoleFarmer)
	product := createProduct(t, db, farmer, "Heirloom tomatoes")

	var (
		wg      sync.WaitGroup
		ids     = map[int64]bool{}
		created int
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conv, c, err := store.GetOrCreate(ctx, buyer, farmer, product)
			if err != nil {
				t.Errorf("get or create: %v", err)
				return
			}
			mu.Lock()
			ids[conv.ID] = true
			if c {
				created++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()
	if len(ids) != 1 || created != 1 {
		t.Fatalf("expected one conversation and one creator, got ids=%v created=%d", ids, created)
	}

	// products are optional; a product-less thread is distinct from the product one
	general, c, err := store.GetOrCreate(ctx, buyer, farmer, nil)
	if err != nil || !c {
		t.Fatalf("product-less conversation: created=%v err=%v", c, err)
	}
	if ids[general.ID] {
		t.Fatalf("product-less conversation must be a separate row")
	}

	var conv *models.Conversation
	for id := range ids {
		conv, err = store.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
	}
	for _, text := range []string{"one", "two", "three"} {
		if _, err := store.Append(ctx, conv, buyer.ID, text, false); err != nil {
			t.Fatalf("append %s: %v", text, err)
		}
	}
	msgs, err := store.ListOrdered(ctx, conv)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 3 || msgs[0].Content != "one" || msgs[2].Content != "three" {
		t.Fatalf("unexpected order: %+v", msgs)
	}
	if n, _ := store.UnreadCount(ctx, conv, farmer.ID); n != 3 {
		t.Fatalf("farmer unread = %d, want 3", n)
	}
	if _, err := store.MarkConversationRead(ctx, conv, farmer.ID); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if n, _ := store.UnreadCount(ctx, conv, farmer.ID); n != 0 {
		t.Fatalf("farmer unread after read = %d", n)
	}
	mu.Lock()
	defer mu.Unlock()
	if published != 3 {
		t.Fatalf("expected 3 published events, got %d", published)
	}
}
