package cli

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"farmconnect/internal/config"
	"farmconnect/internal/storage"
)

func TestMigrateCommandCreatesSchema(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	body := "basic_config:\n  database: sqlite3\ndatabases:\n  sqlite3:\n    dsn: farm.db\nlogging:\n  level: ERROR\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	rootCmd.SetArgs([]string{"migrate", "--config", cfgPath})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := Execute(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	// relative sqlite paths resolve next to the config file
	dbPath := filepath.Join(dir, "farm.db")
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("expected database file: %v", err)
	}
	db, err := storage.Open("sqlite3", &config.Config{Databases: map[string]config.DatabaseConfig{
		"sqlite3": {DSN: dbPath},
	}})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRowContext(context.Background(), `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		t.Fatalf("conversations table missing: %v", err)
	}
}

func TestMigrateCommandReportsMissingConfig(t *testing.T) {
	rootCmd.SetArgs([]string{"migrate", "--config", filepath.Join(t.TempDir(), "absent.json")})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	if err := Execute(); err == nil {
		t.Fatalf("expected an error for a missing config file")
	}
}
