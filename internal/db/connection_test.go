package db

import (
	"net/url"
	"strings"
	"testing"
)

func TestConfigURLEscapesCredentials(t *testing.T) {
	cfg := Config{Host: "warehouse", Port: 5433, User: "etl", Password: "p@ss word", DBName: "control"}

	u, err := url.Parse(cfg.URL("postgres"))
	if err != nil {
		t.Fatalf("URL did not parse: %v", err)
	}
	if u.Host != "warehouse:5433" {
		t.Fatalf("unexpected host %q", u.Host)
	}
	if password, _ := u.User.Password(); password != "p@ss word" {
		t.Fatalf("password not preserved, got %q", password)
	}
	if u.Query().Get("sslmode") != "disable" {
		t.Fatalf("expected default sslmode disable, got %q", u.Query().Get("sslmode"))
	}
}

func TestMigrationURLUsesDedicatedTable(t *testing.T) {
	u, err := url.Parse(migrationURL(Config{Host: "h", Port: 5432, User: "u", DBName: "d", SSLMode: "require"}))
	if err != nil {
		t.Fatalf("migration URL did not parse: %v", err)
	}
	if u.Scheme != "pgx5" {
		t.Fatalf("expected pgx5 scheme, got %q", u.Scheme)
	}
	if got := u.Query().Get("x-migrations-table"); got != MigrationsTable {
		t.Fatalf("expected migrations table %q, got %q", MigrationsTable, got)
	}
	if got := u.Query().Get("sslmode"); got != "require" {
		t.Fatalf("expected sslmode require, got %q", got)
	}
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	ups := 0
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			ups++
		}
	}
	if ups < 2 {
		t.Fatalf("expected at least two up migrations, got %d", ups)
	}
}
